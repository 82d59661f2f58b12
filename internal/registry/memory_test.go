package registry

import (
	"context"
	"testing"
)

func TestRegisterLastWins(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	r.Register(ctx, "u1", "conn-a")
	r.Register(ctx, "u1", "conn-b")

	connID, ok := r.Lookup(ctx, "u1")
	if !ok || connID != "conn-b" {
		t.Fatalf("lookup = %q/%v, want conn-b", connID, ok)
	}
}

func TestDeregisterLeavesNewerRegistrationAlone(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	r.Register(ctx, "u1", "conn-a")
	r.Register(ctx, "u1", "conn-b")

	// The older tab disconnects; the newer registration survives.
	r.DeregisterConn(ctx, "conn-a")

	connID, ok := r.Lookup(ctx, "u1")
	if !ok || connID != "conn-b" {
		t.Fatalf("lookup = %q/%v, want conn-b", connID, ok)
	}

	r.DeregisterConn(ctx, "conn-b")
	if _, ok := r.Lookup(ctx, "u1"); ok {
		t.Fatalf("registration should be gone")
	}
}

func TestConnSwitchingUsers(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	r.Register(ctx, "u1", "conn-a")
	r.Register(ctx, "u2", "conn-a")

	if _, ok := r.Lookup(ctx, "u1"); ok {
		t.Fatalf("old identity should be dropped when a connection re-registers")
	}
	if connID, ok := r.Lookup(ctx, "u2"); !ok || connID != "conn-a" {
		t.Fatalf("new identity not registered")
	}
}

func TestDeregisterUnknownConn(t *testing.T) {
	r := NewMemoryRegistry()
	if err := r.DeregisterConn(context.Background(), "ghost"); err != nil {
		t.Fatalf("deregister of unknown conn should be a no-op, got %v", err)
	}
}
