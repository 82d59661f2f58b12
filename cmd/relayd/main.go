package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gearmarket/chat-relay/internal/config"
	"github.com/gearmarket/chat-relay/internal/registry"
	"github.com/gearmarket/chat-relay/internal/relay"
	"github.com/gearmarket/chat-relay/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat relay")

	reg, err := buildRegistry(cfg)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize user registry")
	}
	defer reg.Close()

	hub := relay.NewHub(cfg.WebSocket, reg)
	go hub.Run()

	wsHandler := relay.NewWSHandler(hub, cfg.WebSocket)

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info().Str("addr", server.Addr).Msg("chat relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down chat relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("server forced to shut down")
	}

	l.Info().Msg("chat relay stopped")
}

func buildRegistry(cfg *config.Config) (registry.Registry, error) {
	switch cfg.Registry.Kind {
	case "redis":
		return registry.NewRedisRegistry(registry.RedisConfig{
			Address:           cfg.Registry.Redis.Address,
			Password:          cfg.Registry.Redis.Password,
			DB:                cfg.Registry.Redis.DB,
			Prefix:            cfg.Registry.Redis.Prefix,
			KeyTTL:            cfg.Registry.Redis.KeyTTL,
			HeartbeatInterval: cfg.Registry.Redis.HeartbeatInterval,
		}, cfg.Registry.AdvertiseAddress)
	default:
		return registry.NewMemoryRegistry(), nil
	}
}
