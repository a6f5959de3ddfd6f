package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/server"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline workers, vault watcher, and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.orch.Start(ctx)
	defer a.orch.Stop()

	if len(a.cfg.Watch.Directories) > 0 {
		statePath := a.cfg.Storage.WatchStatePath
		if statePath == "" {
			statePath, err = store.DefaultWatchStatePath()
			if err != nil {
				return fmt.Errorf("resolve watcher state path: %w", err)
			}
		}
		w := watch.New(a.cfg.Watch.Directories, a.cfg.Watch.Extensions, statePath, a.db, a.log)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Stop()
		fmt.Fprintf(os.Stderr, "  watching: %v\n", a.cfg.Watch.Directories)
	}

	srv := server.New(a.db, a.q, a.orch, a.log, VersionString())
	addr := a.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "weft serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", a.db.Path)
		if a.cfg.Enrichment.Enabled() {
			fmt.Fprintf(os.Stderr, "  enrichment: %s\n", a.cfg.Enrichment.Provider)
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("server", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")
	cancel() // stops drains at the next document boundary

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return httpServer.Shutdown(shutdownCtx)
}
