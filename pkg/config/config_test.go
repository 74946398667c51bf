package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Node.BindAddr != def.Node.BindAddr {
		t.Fatalf("bind addr = %q, want default %q", cfg.Node.BindAddr, def.Node.BindAddr)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  name: alpha
  bind_addr: 10.0.0.5:7400
consensus:
  stability_window: 5s
membership:
  phi_threshold: 12
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Name != "alpha" {
		t.Fatalf("name = %q", cfg.Node.Name)
	}
	if cfg.Node.AdvertiseAddr != "10.0.0.5:7400" {
		t.Fatalf("advertise addr should default to bind addr, got %q", cfg.Node.AdvertiseAddr)
	}
	if cfg.Consensus.StabilityWindow != 5*time.Second {
		t.Fatalf("stability window = %v", cfg.Consensus.StabilityWindow)
	}
	if cfg.Membership.PhiThreshold != 12 {
		t.Fatalf("phi threshold = %v", cfg.Membership.PhiThreshold)
	}
	// Unset sections keep their defaults.
	if cfg.Consensus.HeartbeatInterval != Default().Consensus.HeartbeatInterval {
		t.Fatalf("heartbeat interval = %v", cfg.Consensus.HeartbeatInterval)
	}
}

func TestValidateRejectsBadTimers(t *testing.T) {
	cfg := Default()
	cfg.Consensus.ElectionTimeoutMin = cfg.Consensus.HeartbeatInterval
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "election_timeout_min") {
		t.Fatalf("expected election timeout error, got %v", err)
	}

	cfg = Default()
	cfg.Membership.ProbeTimeout = cfg.Membership.ProbeInterval
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "probe_timeout") {
		t.Fatalf("expected probe timeout error, got %v", err)
	}
}

func TestValidateDiscoveryModes(t *testing.T) {
	cfg := Default()
	cfg.Discovery.Mode = "dns"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unsupported discovery mode to fail")
	}

	cfg = Default()
	cfg.Discovery.Mode = "file"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected file mode without a file to fail")
	}
	cfg.Discovery.File = "/etc/peers"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("file mode with file: %v", err)
	}
}

func TestValidateTLSRequiresKeyPair(t *testing.T) {
	cfg := Default()
	cfg.TLS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected enabled tls without keypair to fail")
	}
	cfg.TLS.CertFile = "cert.pem"
	cfg.TLS.KeyFile = "key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("tls with keypair: %v", err)
	}
}
