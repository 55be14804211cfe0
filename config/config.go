// Package config holds the run configuration and its validation.
package config

import (
	"errors"
	"fmt"

	"blocksim/consensus"
	"blocksim/network"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	Simulation SimulationConfig `mapstructure:"simulation"`
	Network    NetworkConfig    `mapstructure:"network"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Mining     MiningConfig     `mapstructure:"mining"`
	Gossip     GossipConfig     `mapstructure:"gossip"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
}

type SimulationConfig struct {
	Seed     int64   `mapstructure:"seed"`
	Duration float64 `mapstructure:"duration"`
	Nodes    int     `mapstructure:"nodes"`
	// Miners is how many randomly chosen nodes mine.
	Miners int `mapstructure:"miners"`
	// Settle keeps gossip and consensus running this long after mining
	// stopped, before the run is reported.
	Settle float64 `mapstructure:"settle"`
}

type NetworkConfig struct {
	Topology      string  `mapstructure:"topology"`
	MinDelay      float64 `mapstructure:"min_delay"`
	MaxDelay      float64 `mapstructure:"max_delay"`
	DropRate      float64 `mapstructure:"drop_rate"`
	ExpectedPeers int     `mapstructure:"expected_peers"`
}

type ConsensusConfig struct {
	Policy string `mapstructure:"policy"`
	// Sealing empty selects the policy's default scheme.
	Sealing    string  `mapstructure:"sealing"`
	Difficulty int     `mapstructure:"difficulty"`
	Interval   float64 `mapstructure:"interval"`
	// Stakes is indexed by node id; missing entries stake 1.
	Stakes []int64 `mapstructure:"stakes"`
}

type MiningConfig struct {
	Tick          float64 `mapstructure:"tick"`
	Batch         int     `mapstructure:"batch"`
	BlockInterval float64 `mapstructure:"block_interval"`
}

type GossipConfig struct {
	RequestTTL       int `mapstructure:"request_ttl"`
	InvalidCacheSize int `mapstructure:"invalid_cache_size"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	AppLogFile string `mapstructure:"app_log_file"`
}

type StorageConfig struct {
	// Backend is "leveldb", "pebble" or empty for no archive.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{Seed: 1, Duration: 50, Nodes: 10, Miners: 10},
		Network: NetworkConfig{
			Topology:      string(network.FullyConnected),
			MinDelay:      0.1,
			MaxDelay:      0.5,
			ExpectedPeers: 3,
		},
		Consensus: ConsensusConfig{
			Policy:     string(consensus.KindGhost),
			Difficulty: 8,
			Interval:   0.1,
		},
		Mining: MiningConfig{Tick: 0.1, Batch: 64, BlockInterval: 1},
		Gossip: GossipConfig{RequestTTL: 3, InvalidCacheSize: 1024},
		Log:    LogConfig{Level: "info"},
		Storage: StorageConfig{
			Path: "data/blocksim",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	switch {
	case c.Simulation.Nodes <= 0:
		return fmt.Errorf("%w: simulation.nodes must be positive, got %d", ErrInvalidConfig, c.Simulation.Nodes)
	case c.Simulation.Miners < 0 || c.Simulation.Miners > c.Simulation.Nodes:
		return fmt.Errorf("%w: simulation.miners must be within [0, %d], got %d",
			ErrInvalidConfig, c.Simulation.Nodes, c.Simulation.Miners)
	case c.Simulation.Duration < 0 || c.Simulation.Settle < 0:
		return fmt.Errorf("%w: simulation.duration and simulation.settle must not be negative", ErrInvalidConfig)
	case c.Network.MinDelay < 0 || c.Network.MaxDelay < c.Network.MinDelay:
		return fmt.Errorf("%w: need 0 <= network.min_delay <= network.max_delay, got %v and %v",
			ErrInvalidConfig, c.Network.MinDelay, c.Network.MaxDelay)
	case c.Network.DropRate < 0 || c.Network.DropRate > 1:
		return fmt.Errorf("%w: network.drop_rate must be within [0, 1], got %v", ErrInvalidConfig, c.Network.DropRate)
	case c.Consensus.Difficulty < 0 || c.Consensus.Difficulty > 256:
		return fmt.Errorf("%w: consensus.difficulty must be within [0, 256], got %d", ErrInvalidConfig, c.Consensus.Difficulty)
	case c.Consensus.Interval <= 0:
		return fmt.Errorf("%w: consensus.interval must be positive", ErrInvalidConfig)
	case c.Mining.Tick <= 0:
		return fmt.Errorf("%w: mining.tick must be positive", ErrInvalidConfig)
	case c.Mining.Batch <= 0:
		return fmt.Errorf("%w: mining.batch must be positive", ErrInvalidConfig)
	case c.Mining.BlockInterval < 0:
		return fmt.Errorf("%w: mining.block_interval must not be negative", ErrInvalidConfig)
	case c.Gossip.RequestTTL < 0:
		return fmt.Errorf("%w: gossip.request_ttl must not be negative, got %d", ErrInvalidConfig, c.Gossip.RequestTTL)
	case c.Gossip.InvalidCacheSize <= 0:
		return fmt.Errorf("%w: gossip.invalid_cache_size must be positive", ErrInvalidConfig)
	}

	if !validLayout(network.Layout(c.Network.Topology)) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, network.ErrUnknownTopology, c.Network.Topology)
	}
	if !validPolicy(consensus.Kind(c.Consensus.Policy)) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, consensus.ErrUnknownPolicy, c.Consensus.Policy)
	}
	switch consensus.Scheme(c.Consensus.Sealing) {
	case "", consensus.SchemeNone, consensus.SchemePoW, consensus.SchemeStake, consensus.SchemeAuthority:
	default:
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, consensus.ErrUnknownSealing, c.Consensus.Sealing)
	}
	for i, s := range c.Consensus.Stakes {
		if s < 0 {
			return fmt.Errorf("%w: %w: node %d", ErrInvalidConfig, consensus.ErrNegativeStake, i)
		}
	}
	switch c.Storage.Backend {
	case "", "leveldb", "pebble":
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	return nil
}

// StakeTable converts the per-node stake list to the table sealing uses.
func (c Config) StakeTable() consensus.Stakes {
	if len(c.Consensus.Stakes) == 0 {
		return nil
	}
	stakes := make(consensus.Stakes, len(c.Consensus.Stakes))
	for i, s := range c.Consensus.Stakes {
		stakes[i] = s
	}
	return stakes
}

func validLayout(l network.Layout) bool {
	for _, known := range network.Layouts() {
		if l == known {
			return true
		}
	}
	return false
}

func validPolicy(k consensus.Kind) bool {
	for _, known := range consensus.Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
