package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/internal/store"
)

var syncDrain bool

var syncCmd = &cobra.Command{
	Use:   "sync <file>",
	Short: "Import documents from a JSON export and queue them for linking",
	Long: `Sync reads a JSON array of documents (the export format of the calendar
and banking pulls) into the store and enqueues each one at low priority, so
interactive changes keep jumping ahead of the bulk import.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncDrain, "drain", false, "process the queue after importing")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}

	var docs []store.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse export: %w", err)
	}

	imported := 0
	for i := range docs {
		doc := &docs[i]
		if doc.ID == "" || doc.Kind == "" {
			fmt.Fprintf(os.Stderr, "skipping record %d: missing id or kind\n", i)
			continue
		}
		if err := a.db.PutDocument(doc); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", doc.ID, err)
			continue
		}
		a.idx.Put(doc)
		a.q.Enqueue(doc.ID, -1)
		imported++
	}
	fmt.Printf("imported %d documents\n", imported)

	if syncDrain {
		n, err := a.orch.Drain(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("processed %d queue items\n", n)
	}
	return nil
}
