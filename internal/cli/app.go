package cli

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/enrich"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/pipeline"
	"github.com/weftlabs/weft/internal/queue"
	"github.com/weftlabs/weft/internal/store"
)

// app wires the components a command needs: config, store, index, queue,
// orchestrator. Built once per invocation.
type app struct {
	cfg  *config.Config
	log  *zap.Logger
	db   *store.DB
	idx  *index.Index
	q    *queue.Queue
	orch *pipeline.Orchestrator
}

func buildApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDebug {
		cfg.Debug = true
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	queuePath := cfg.Storage.QueueFilePath
	if queuePath == "" {
		if queuePath, err = store.DefaultQueuePath(); err != nil {
			db.Close()
			return nil, err
		}
	}

	q := queue.New(queuePath, &cfg.Queue, log)
	if err := q.Load(); err != nil {
		if !errors.Is(err, queue.ErrCorrupt) {
			db.Close()
			return nil, fmt.Errorf("load queue: %w", err)
		}
		// Corrupt snapshot with no usable backup: rebuild from canonical
		// document state rather than running with a broken queue.
		log.Warn("queue snapshot corrupt, rebuilding from document store", zap.Error(err))
		docs, lerr := db.ListDocuments(store.DocumentFilter{})
		if lerr != nil {
			db.Close()
			return nil, fmt.Errorf("rebuild queue: %w", lerr)
		}
		ids := make([]string, len(docs))
		for i := range docs {
			ids[i] = docs[i].ID
		}
		q.Rebuild(ids)
	}

	idx := index.New(log)
	docs, err := db.ListDocuments(store.DocumentFilter{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load documents: %w", err)
	}
	idx.Refresh(docs)

	enricher, err := enrich.NewClient(cfg.Enrichment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: enrichment not configured (%v), continuing without it\n", err)
		enricher = nil
	}

	orch := pipeline.New(db, idx, q, enricher, cfg, log)

	return &app{cfg: cfg, log: log, db: db, idx: idx, q: q, orch: orch}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Sync()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
