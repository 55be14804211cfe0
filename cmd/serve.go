package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blocksim/db"
	"blocksim/handlers"
	"blocksim/logger"
	"blocksim/repository"
	"blocksim/routers"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve archived runs over HTTP",
	RunE:  serveArchive,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (overrides server.port)")
}

func serveArchive(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting archive server...")

	store, err := db.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s archive: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	// Initialize repository and HTTP handlers
	repo := repository.NewRunRepository(store)
	h := handlers.NewHandler(repo)

	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Logger.Info("Server running on port", zap.Int("port", port))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Logger.Info("Shutdown signal received, exiting...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
