package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"blocksim/config"
	"blocksim/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "blocksim",
	Short: "Discrete-event simulator for blockchain consensus over a gossip network",
	Long: `blocksim runs a network of mining nodes on a simulated clock. Nodes gossip
blocks over a configurable topology with per-link delay and loss, recover missing
ancestors with bounded requests and pick their head with GHOST, longest chain,
proof of stake or heaviest path weight.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path (defaults apply when empty)")
}

// setup loads the configuration and initializes the logger from it.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Log.AppLogFile != "" {
		err = logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level)
	} else {
		err = logger.InitConsole(cfg.Log.Level)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
