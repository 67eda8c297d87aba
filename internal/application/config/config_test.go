package config

import (
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if cfg.Port != "3000" || cfg.MetricsPort != "9090" {
		t.Fatalf("unexpected ports: %s / %s", cfg.Port, cfg.MetricsPort)
	}
	if cfg.Room.MaxUsers != 8 {
		t.Fatalf("MaxUsers = %d, want 8", cfg.Room.MaxUsers)
	}
	if cfg.Room.IdleTimeout != 5*time.Minute {
		t.Fatalf("IdleTimeout = %v, want 5m", cfg.Room.IdleTimeout)
	}
	if cfg.Room.SweepInterval != time.Minute {
		t.Fatalf("SweepInterval = %v, want 60s", cfg.Room.SweepInterval)
	}
	if len(cfg.Stun.URLs) != 1 {
		t.Fatalf("Stun.URLs = %v", cfg.Stun.URLs)
	}

	// без coturn выдаётся только STUN
	if servers := cfg.ICEServers(); len(servers) != 1 {
		t.Fatalf("ICEServers = %+v, want STUN only", servers)
	}
}

func TestNew_CoturnBuildsTurnServers(t *testing.T) {
	t.Setenv("COTURN_HOST", "turn.example.org:3478")
	t.Setenv("COTURN_USERNAME", "user")
	t.Setenv("COTURN_PASSWORD", "pass")
	t.Setenv("STUN_URLS", "stun:one.example.org,stun:two.example.org")
	t.Setenv("ROOM_MAX_USERS", "4")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if cfg.Room.MaxUsers != 4 {
		t.Fatalf("MaxUsers = %d, want 4", cfg.Room.MaxUsers)
	}
	if len(cfg.Stun.URLs) != 2 {
		t.Fatalf("Stun.URLs = %v, want 2 entries", cfg.Stun.URLs)
	}

	if cfg.TurnUDPServer.URLs[0] != "turn:turn.example.org:3478?transport=udp" {
		t.Fatalf("udp TURN url = %v", cfg.TurnUDPServer.URLs)
	}
	if cfg.TurnTCPServer.URLs[0] != "turn:turn.example.org:3478?transport=tcp" {
		t.Fatalf("tcp TURN url = %v", cfg.TurnTCPServer.URLs)
	}
	if cfg.TurnUDPServer.Username != "user" || cfg.TurnUDPServer.Credential != "pass" {
		t.Fatalf("TURN credentials not propagated: %+v", cfg.TurnUDPServer)
	}

	if servers := cfg.ICEServers(); len(servers) != 3 {
		t.Fatalf("ICEServers = %d entries, want STUN + 2 TURN", len(servers))
	}
}
