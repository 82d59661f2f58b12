package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/gearmarket/chat-relay/pkg/config"
	"github.com/gearmarket/chat-relay/pkg/log"
)

// Config is the relay server configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Registry  RegistryConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// RegistryConfig selects how user registrations are tracked.
// Kind "memory" is the single-instance default; "redis" mirrors
// registrations into Redis with a TTL heartbeat.
type RegistryConfig struct {
	Kind             string `mapstructure:"kind"`
	AdvertiseAddress string `mapstructure:"advertise_address"`
	Redis            RedisConfig
}

type RedisConfig struct {
	Address           string        `mapstructure:"address"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	Prefix            string        `mapstructure:"prefix"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// Load reads the relay configuration from ./config/config.yaml plus
// environment overrides.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("registry.kind", "memory")
	v.SetDefault("registry.advertise_address", "localhost:5000")
	v.SetDefault("registry.redis.address", "localhost:6379")
	v.SetDefault("registry.redis.password", "")
	v.SetDefault("registry.redis.db", 0)
	v.SetDefault("registry.redis.prefix", "chat:registry")
	v.SetDefault("registry.redis.key_ttl", "30s")
	v.SetDefault("registry.redis.heartbeat_interval", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-relay")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("registry.kind", "REGISTRY_KIND")
	v.BindEnv("registry.redis.address", "REDIS_ADDRESS")
	v.BindEnv("registry.redis.password", "REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Registry.Redis.KeyTTL = parseDuration(v, "registry.redis.key_ttl", 30*time.Second)
	cfg.Registry.Redis.HeartbeatInterval = parseDuration(v, "registry.redis.heartbeat_interval", 10*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
