// Package config holds the YAML file configuration for a consensus
// node and its validation rules.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the root node configuration.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Membership MembershipConfig `yaml:"membership"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	TLS        TLSConfig        `yaml:"tls"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// NodeConfig identifies the local node and its listen addresses.
type NodeConfig struct {
	// Name is a human-readable node name; the node id is derived from
	// it at first start.
	Name string `yaml:"name"`
	// BindAddr is the host:port the peer RPC server listens on.
	BindAddr string `yaml:"bind_addr"`
	// AdvertiseAddr is the address peers use to reach this node.
	// Defaults to BindAddr.
	AdvertiseAddr string `yaml:"advertise_addr"`
	// DataDir holds the bolt-backed log and stable state.
	DataDir string `yaml:"data_dir"`
}

// ConsensusConfig tunes the election and replication timers.
type ConsensusConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ElectionTimeoutMin time.Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax time.Duration `yaml:"election_timeout_max"`
	RPCTimeout         time.Duration `yaml:"rpc_timeout"`
	MaxAppendEntries   int           `yaml:"max_append_entries"`
	// StabilityWindow is how long leadership must hold with no
	// membership churn before the fast replication path activates.
	StabilityWindow time.Duration `yaml:"stability_window"`
	// MaxInflight caps appended-but-uncommitted entries.
	MaxInflight int `yaml:"max_inflight"`
}

// MembershipConfig tunes the gossip failure detector.
type MembershipConfig struct {
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	PhiThreshold   float64       `yaml:"phi_threshold"`
	SuspicionGrace time.Duration `yaml:"suspicion_grace"`
	EvictionGrace  time.Duration `yaml:"eviction_grace"`
}

// DiscoveryConfig selects how seed peers are found.
type DiscoveryConfig struct {
	// Mode is "static" or "file".
	Mode string `yaml:"mode"`
	// Seeds lists peer addresses for static mode.
	Seeds []string `yaml:"seeds"`
	// File points at a peers file for file mode, one address per line.
	File string `yaml:"file"`
	// Refresh is the file re-read interval for file mode.
	Refresh time.Duration `yaml:"refresh"`
}

// TLSConfig enables mutual TLS on the peer transport.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
	// ServerName overrides the expected peer certificate name.
	ServerName string `yaml:"server_name"`
}

// LoggingConfig controls the leveled logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a single-node development configuration.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Name:     "node-1",
			BindAddr: "127.0.0.1:7400",
			DataDir:  "./data",
		},
		Consensus: ConsensusConfig{
			HeartbeatInterval:  50 * time.Millisecond,
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
			MaxAppendEntries:   64,
			StabilityWindow:    3 * time.Second,
			MaxInflight:        1024,
		},
		Membership: MembershipConfig{
			ProbeInterval:  500 * time.Millisecond,
			ProbeTimeout:   200 * time.Millisecond,
			PhiThreshold:   8,
			SuspicionGrace: 3 * time.Second,
			EvictionGrace:  10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Mode:    "static",
			Refresh: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
	}
}

// Load reads path and overlays it on the defaults. A missing file
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working node.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("config: node.name is required")
	}
	if c.Node.BindAddr == "" {
		return fmt.Errorf("config: node.bind_addr is required")
	}
	if c.Node.AdvertiseAddr == "" {
		c.Node.AdvertiseAddr = c.Node.BindAddr
	}
	if c.Consensus.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: consensus.heartbeat_interval must be positive")
	}
	if c.Consensus.ElectionTimeoutMin <= c.Consensus.HeartbeatInterval {
		return fmt.Errorf("config: consensus.election_timeout_min must exceed the heartbeat interval")
	}
	if c.Consensus.ElectionTimeoutMax <= c.Consensus.ElectionTimeoutMin {
		return fmt.Errorf("config: consensus.election_timeout_max must exceed election_timeout_min")
	}
	if c.Consensus.StabilityWindow <= 0 {
		return fmt.Errorf("config: consensus.stability_window must be positive")
	}
	if c.Membership.ProbeInterval <= 0 {
		return fmt.Errorf("config: membership.probe_interval must be positive")
	}
	if c.Membership.ProbeTimeout >= c.Membership.ProbeInterval {
		return fmt.Errorf("config: membership.probe_timeout must be below the probe interval")
	}
	if c.Membership.PhiThreshold <= 0 {
		return fmt.Errorf("config: membership.phi_threshold must be positive")
	}
	switch c.Discovery.Mode {
	case "static", "file":
	default:
		return fmt.Errorf("config: discovery.mode %q is not supported", c.Discovery.Mode)
	}
	if c.Discovery.Mode == "file" && c.Discovery.File == "" {
		return fmt.Errorf("config: discovery.file is required in file mode")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("config: tls.cert_file and tls.key_file are required when tls is enabled")
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
