package engine

import (
	"context"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg := ConfigFromEnv("alice")
	if cfg.UDPPort != DefaultPort || cfg.TCPPort != DefaultPort {
		t.Fatalf("expected default ports, got udp=%d tcp=%d", cfg.UDPPort, cfg.TCPPort)
	}
	if cfg.Identity != "alice" {
		t.Fatalf("unexpected identity: %q", cfg.Identity)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("LCP_UDP_PORT", "19990")
	t.Setenv("LCP_TCP_PORT", "19991")
	cfg := ConfigFromEnv("bob")
	if cfg.UDPPort != 19990 || cfg.TCPPort != 19991 {
		t.Fatalf("expected overridden ports, got udp=%d tcp=%d", cfg.UDPPort, cfg.TCPPort)
	}
}

func TestNewRequiresIdentity(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error for a missing identity")
	}
}

func TestEngineStartStopLifecycle(t *testing.T) {
	cfg := Config{Identity: "alice", UDPPort: 0, TCPPort: 0, BindAddress: "127.0.0.1"}
	// A port of 0 would fall back to DefaultPort; use a high test port
	// instead of the production default to avoid colliding with a real
	// node that might be running on this host.
	cfg.UDPPort = 19380
	cfg.TCPPort = 19381

	e, err := New(cfg, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	// Give the supervised services a moment to start.
	time.Sleep(50 * time.Millisecond)

	if snap := e.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected an empty snapshot, got %v", snap)
	}
	e.ForceDiscover()
	e.Broadcast([]byte("hi"))

	cancel()
	e.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down after cancellation")
	}
}
