package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evalgo.org/inventory/internal/api"
	"evalgo.org/inventory/internal/logging"
	"evalgo.org/inventory/internal/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long:  `Start the HTTP API server with Echo framework`,
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	store, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	server := api.New(cfg, store, logger)

	if cfg.CouchDB.WatchChanges {
		go func() {
			if err := server.WatchChanges(); err != nil {
				logger.Error("change feed stopped", zap.Error(err))
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
