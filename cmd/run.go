package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blocksim/config"
	"blocksim/db"
	"blocksim/logger"
	"blocksim/metrics"
	"blocksim/models"
	"blocksim/repository"
	"blocksim/sim"
)

var (
	runSeeds   []int64
	runPolicy  string
	runArchive bool
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation, or one per seed in parallel",
	RunE:  runSimulation,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int64SliceVar(&runSeeds, "seeds", nil, "run one simulation per seed (overrides simulation.seed)")
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "consensus policy: ghost, longest, pos or dag")
	runCmd.Flags().BoolVar(&runArchive, "archive", false, "store summaries and ledgers in the configured storage backend")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print summaries as JSON")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Logger.Sync()

	if runPolicy != "" {
		cfg.Consensus.Policy = runPolicy
	}
	cfgs := []config.Config{*cfg}
	if len(runSeeds) > 0 {
		cfgs = cfgs[:0]
		for _, seed := range runSeeds {
			c := *cfg
			c.Simulation.Seed = seed
			cfgs = append(cfgs, c)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := sim.RunBatch(ctx, cfgs)
	if err != nil {
		return err
	}

	if runArchive {
		if err := archive(cfg.Storage, results); err != nil {
			return err
		}
	}

	summaries := make([]models.RunSummary, 0, len(results))
	for _, res := range results {
		summaries = append(summaries, res.Summary)
	}
	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	printSummaries(summaries)
	return nil
}

func archive(storage config.StorageConfig, results []sim.Result) error {
	store, err := db.Open(storage.Backend, storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s archive: %w", storage.Backend, err)
	}
	defer store.Close()

	repo := repository.NewRunRepository(store)
	for _, res := range results {
		summary := res.Summary
		if err := repo.Archive(&summary, res.Snapshots); err != nil {
			return fmt.Errorf("failed to archive run %s: %w", summary.ID, err)
		}
		logger.Logger.Info("Archived run", zap.String("run", summary.ID), zap.String("path", storage.Path))
	}
	return nil
}

func printSummaries(summaries []models.RunSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range summaries {
		fmt.Fprintf(w, "run %s\tpolicy %s\tsealing %s\tseed %d\tevents %d\tconverged %v\n",
			s.ID, s.Policy, s.Sealing, s.Seed, s.Events, s.Converged)
		for _, c := range metrics.All {
			fmt.Fprintf(w, "  %s\t%d\n", c, s.Metrics[string(c)])
		}
		fmt.Fprintln(w, "  node\thead\tchain\tblocks\tpending\tmining")
		for _, n := range s.Nodes {
			fmt.Fprintf(w, "  %d\t%s\t%d\t%d\t%d\t%v\n",
				n.NodeID, n.HeadID.Short(), n.ChainLength, n.Blocks, n.Pending, n.Mining)
		}
	}
	w.Flush()
}
