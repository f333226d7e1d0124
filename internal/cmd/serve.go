package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/api"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/runledger"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API over HTTP",
	Long: `Serve session state, run history, and a live event stream over HTTP.

The server reads session state without taking the write lock, so it can
run alongside 'claudia-coder start' in another terminal and report its
progress as it happens. Stop it with Ctrl+C.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default is server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dataDir := cfg.Data.ResolveDir()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	logger, err := newCommandLogger(cfg, dataDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := session.NewStore(dataDir, cfg.Session.MaxSessions, logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	bus := event.NewBus()

	dir, err := session.NewDirectory(store, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to open session directory: %w", err)
	}

	// The watcher turns writes by other processes into bus events, so
	// streams stay live even when this process never mutates a session.
	watcher, err := session.NewWatcher(store, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to watch session store: %w", err)
	}
	watcher.Start()
	defer watcher.Stop()

	db, err := runledger.Open(runledger.DefaultConfig(filepath.Join(dataDir, runledger.RunsDBFileName)), logger)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer db.Close()

	srv, err := api.NewServer(api.Config{
		Sessions: dir,
		Runs:     runledger.NewLedger(db),
		Bus:      bus,
		Logger:   logger,
		Addr:     addr,
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("Serving session API on %s\n", addr)
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
