// Package config centralizes every tunable named in the external
// interfaces section of the core specification, loaded from YAML the same
// way the rest of the stack's operators already configure it.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AutoNATv2 holds the server-side rate limiter and dial-data policy
// defaults (spec.md §4.3, §6).
type AutoNATv2 struct {
	ServerRPM                             int           `yaml:"server_rpm"`
	ServerPerPeerRPM                      int           `yaml:"server_per_peer_rpm"`
	ServerDialDataRPM                     int           `yaml:"server_dial_data_rpm"`
	AllowPrivateAddrs                     bool          `yaml:"allow_private_addrs"`
	AmplificationAttackPreventionDialWait time.Duration `yaml:"amplification_dial_wait"`
	DialBackStreamTimeout                 time.Duration `yaml:"dial_back_stream_timeout"`
	DialBackDialTimeout                   time.Duration `yaml:"dial_back_dial_timeout"`
	DialTimeout                           time.Duration `yaml:"dial_timeout"`
	MaxDialDataBytes                      uint64        `yaml:"max_dial_data_bytes"`
	MaxMsgSize                            int           `yaml:"max_msg_size"`
	DialBackMaxMsgSize                    int           `yaml:"dial_back_max_msg_size"`
}

// NATDiscovery holds NAT behavior tracker tunables (spec.md §4.2, §6).
type NATDiscovery struct {
	CheckInterval  time.Duration `yaml:"check_interval"`
	MaxHistorySize int           `yaml:"max_history_size"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

// Traversal holds NAT Traversal Coordinator / observed-address aggregator
// tunables (spec.md §4.5, §6).
type Traversal struct {
	ActivationThreshold                int `yaml:"activation_threshold"`
	MaxExternalThinWaistAddrsPerLocal  int `yaml:"max_external_thin_waist_addrs_per_local_addr"`
	ObserverSetCacheSize                int `yaml:"observer_set_cache_size"`
	ObservationQueueCapacity            int `yaml:"observation_queue_capacity"`
}

// Multistream holds negotiation tunables (spec.md §4.1, §6).
type Multistream struct {
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	MaxTokenSize  int           `yaml:"max_token_size"`
}

// DCUtR holds hole-punch tunables (spec.md §4.4, §6).
type DCUtR struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxMsgSize     int           `yaml:"max_msg_size"`
}

// Config is the top-level natcore configuration document.
type Config struct {
	AutoNATv2    AutoNATv2    `yaml:"autonatv2"`
	NATDiscovery NATDiscovery `yaml:"nat_discovery"`
	Traversal    Traversal    `yaml:"traversal"`
	Multistream  Multistream  `yaml:"multistream"`
	DCUtR        DCUtR        `yaml:"dcutr"`
	DataDir      string       `yaml:"data_dir"`
}

// DefaultConfig returns a Config populated with every default named in
// spec.md §6.
func DefaultConfig() Config {
	return Config{
		AutoNATv2: AutoNATv2{
			ServerRPM:                             60,
			ServerPerPeerRPM:                      12,
			ServerDialDataRPM:                      12,
			AllowPrivateAddrs:                      false,
			AmplificationAttackPreventionDialWait:  3 * time.Second,
			DialBackStreamTimeout:                  5 * time.Second,
			DialBackDialTimeout:                    5 * time.Second,
			DialTimeout:                            15 * time.Second,
			MaxDialDataBytes:                       100_000,
			MaxMsgSize:                             8 * 1024,
			DialBackMaxMsgSize:                     1024,
		},
		NATDiscovery: NATDiscovery{
			CheckInterval:  30 * time.Minute,
			MaxHistorySize: 100,
			ProbeTimeout:   5 * time.Second,
		},
		Traversal: Traversal{
			ActivationThreshold:               4,
			MaxExternalThinWaistAddrsPerLocal: 3,
			ObserverSetCacheSize:               5,
			ObservationQueueCapacity:           16,
		},
		Multistream: Multistream{
			StreamTimeout: 30 * time.Second,
			MaxRetries:    3,
			MaxTokenSize:  1024,
		},
		DCUtR: DCUtR{
			AttemptTimeout: time.Minute,
			DialTimeout:    5 * time.Second,
			MaxRetries:     3,
			MaxMsgSize:     4 * 1024,
		},
		DataDir: "./data",
	}
}

// Load reads a YAML document from path, applying it on top of
// DefaultConfig so omitted fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
