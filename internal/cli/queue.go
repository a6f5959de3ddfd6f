package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/internal/queue"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process everything currently in the enhancement queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Ctrl-C cancels at the next document boundary.
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		n, err := a.orch.Drain(ctx)
		fmt.Printf("processed %d queue items\n", n)
		return err
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the entity index and re-queue every document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.orch.Reindex()
		if err != nil {
			return err
		}
		if _, err := a.orch.EnqueueAll(-1); err != nil {
			return err
		}
		fmt.Printf("reindexed %d documents, all queued for relinking\n", n)
		return nil
	},
}

var queueVerbose bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect queue health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.q.Stats()
		fmt.Printf("queued:     %d\n", stats.Counts[queue.StatusQueued])
		fmt.Printf("processing: %d\n", stats.Counts[queue.StatusProcessing])
		fmt.Printf("completed:  %d\n", stats.Counts[queue.StatusCompleted])
		fmt.Printf("failed:     %d (%d terminal)\n", stats.Counts[queue.StatusFailed], stats.Terminal)
		fmt.Printf("stuck:      %d\n", stats.Stuck)
		if stats.OldestQueuedAge > 0 {
			fmt.Printf("oldest queued: %s\n", stats.OldestQueuedAge.Round(time.Second))
		}
		if stats.PersistError != "" {
			fmt.Printf("persist error: %s\n", stats.PersistError)
		}

		if queueVerbose {
			for _, item := range a.q.Items() {
				line := fmt.Sprintf("  %-12s %s (attempts %d)", item.Status, item.DocID, item.Attempts)
				if item.LastError != "" {
					line += ": " + item.LastError
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	queueCmd.Flags().BoolVarP(&queueVerbose, "verbose", "v", false, "list individual queue items")
}
