package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BLOCKSIM_NETWORK_DROP_RATE.
const EnvPrefix = "BLOCKSIM"

// Load reads configuration in priority order: defaults, the yaml file at
// path (skipped when path is empty), then BLOCKSIM_ environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if err := loadFile(v, path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// setDefaults mirrors Default so that every key is known to viper and can be
// overridden from the environment.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("simulation.seed", d.Simulation.Seed)
	v.SetDefault("simulation.duration", d.Simulation.Duration)
	v.SetDefault("simulation.nodes", d.Simulation.Nodes)
	v.SetDefault("simulation.miners", d.Simulation.Miners)
	v.SetDefault("simulation.settle", d.Simulation.Settle)

	v.SetDefault("network.topology", d.Network.Topology)
	v.SetDefault("network.min_delay", d.Network.MinDelay)
	v.SetDefault("network.max_delay", d.Network.MaxDelay)
	v.SetDefault("network.drop_rate", d.Network.DropRate)
	v.SetDefault("network.expected_peers", d.Network.ExpectedPeers)

	v.SetDefault("consensus.policy", d.Consensus.Policy)
	v.SetDefault("consensus.sealing", d.Consensus.Sealing)
	v.SetDefault("consensus.difficulty", d.Consensus.Difficulty)
	v.SetDefault("consensus.interval", d.Consensus.Interval)
	v.SetDefault("consensus.stakes", []int64{})

	v.SetDefault("mining.tick", d.Mining.Tick)
	v.SetDefault("mining.batch", d.Mining.Batch)
	v.SetDefault("mining.block_interval", d.Mining.BlockInterval)

	v.SetDefault("gossip.request_ttl", d.Gossip.RequestTTL)
	v.SetDefault("gossip.invalid_cache_size", d.Gossip.InvalidCacheSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.app_log_file", d.Log.AppLogFile)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("server.port", d.Server.Port)
}
