// Package pipeline drives documents through the linking stages: entity
// index, rule engine, confidence calibration, optional enrichment, and link
// application. A bounded worker pool drains the enhancement queue; each
// worker processes one document's full pipeline before taking the next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/calibrate"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/enrich"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/queue"
	"github.com/weftlabs/weft/internal/rules"
	"github.com/weftlabs/weft/internal/store"
)

// permanentError marks failures that retrying cannot fix (document deleted,
// invalid identifier). The queue does not retry them.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is a permanent failure.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Orchestrator owns the worker pool, the background drain and staleness
// sweep timers, and the per-document stage sequence.
type Orchestrator struct {
	db       *store.DB
	idx      *index.Index
	q        *queue.Queue
	rules    []rules.Rule
	cal      *calibrate.Calibrator
	enricher enrich.Client // nil when enrichment is disabled
	cfg      *config.Config
	log      *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	draining atomic.Bool
}

// New creates an Orchestrator. enricher may be nil.
func New(db *store.DB, idx *index.Index, q *queue.Queue, enricher enrich.Client, cfg *config.Config, log *zap.Logger) *Orchestrator {
	// A deleted document must drop out of the index immediately, or rules
	// keep proposing links to it. Change-driven enqueueing is opted into
	// via Start; this is not optional.
	db.OnDelete(idx.Remove)

	return &Orchestrator{
		db:       db,
		idx:      idx,
		q:        q,
		rules:    rules.ForConfig(&cfg.Linking),
		cal:      calibrate.New(&cfg.Linking, log),
		enricher: enricher,
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start wires document-change notifications to the queue and launches the
// background drain and staleness-sweep timers.
func (o *Orchestrator) Start(ctx context.Context) {
	o.db.OnChange(func(docID string) {
		o.q.Enqueue(docID, 0)
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		drain := time.NewTicker(time.Duration(o.cfg.Queue.DrainIntervalSeconds) * time.Second)
		sweep := time.NewTicker(time.Duration(o.cfg.Queue.SweepIntervalSeconds) * time.Second)
		defer drain.Stop()
		defer sweep.Stop()

		for {
			select {
			case <-drain.C:
				if _, err := o.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.log.Error("drain", zap.Error(err))
				}
			case <-sweep.C:
				if n := o.q.SweepStale(); n > 0 {
					o.log.Info("staleness sweep", zap.Int("reset", n))
				}
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down background goroutines and waits for them.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

// Reindex rebuilds the entity index from canonical store state.
func (o *Orchestrator) Reindex() (int, error) {
	docs, err := o.db.ListDocuments(store.DocumentFilter{})
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	o.idx.Refresh(docs)
	return len(docs), nil
}

// EnqueueAll queues every stored document at the given priority.
func (o *Orchestrator) EnqueueAll(priority int) (int, error) {
	docs, err := o.db.ListDocuments(store.DocumentFilter{})
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	for i := range docs {
		o.q.Enqueue(docs[i].ID, priority)
	}
	return len(docs), nil
}

// Drain pulls batches off the queue until it is empty or ctx is cancelled.
// Cancellation takes effect between documents: a document's pipeline always
// runs to completion or failure once started. At most one drain runs at a
// time; a second call returns immediately.
func (o *Orchestrator) Drain(ctx context.Context) (int, error) {
	if !o.draining.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer o.draining.Store(false)

	// Per-document work must not be torn mid-stage by drain cancellation.
	docCtx := context.WithoutCancel(ctx)

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		batch := o.q.Next(o.cfg.Queue.BatchSize)
		if len(batch) == 0 {
			return processed, nil
		}

		sem := make(chan struct{}, o.cfg.Queue.Workers)
		var wg sync.WaitGroup
		for _, docID := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(docID string) {
				defer wg.Done()
				defer func() { <-sem }()
				o.processOne(docCtx, docID)
			}(docID)
		}
		wg.Wait()
		processed += len(batch)
	}
}

// processOne runs a claimed document and reports its outcome to the queue.
// One item's failure is independent of the rest of the batch.
func (o *Orchestrator) processOne(ctx context.Context, docID string) {
	err := o.process(ctx, docID)
	if err == nil {
		o.q.Complete(docID)
		return
	}
	o.log.Warn("document processing failed",
		zap.String("doc", docID),
		zap.Bool("permanent", IsPermanent(err)),
		zap.Error(err))
	o.q.Fail(docID, err.Error(), IsPermanent(err))
}

// process is the per-document stage sequence. Staged so a later failure
// never rolls back earlier stages: rule-based links already applied remain
// valid even if enrichment fails.
func (o *Orchestrator) process(ctx context.Context, docID string) error {
	doc, err := o.db.GetDocument(docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.idx.Remove(docID)
			return Permanent(err)
		}
		return err
	}

	// Stage 1: (re)index. Invalidates any cached entries for this id.
	o.idx.Put(doc)

	// Stage 2: rules, concurrently with isolated failures.
	candidates := o.evaluateRules(doc)

	// Stage 3: calibrate and apply rule-based results.
	applied, err := o.db.LinkFingerprints(doc.ID)
	if err != nil {
		return err
	}
	rejected, err := o.db.RejectedFingerprints(doc.ID)
	if err != nil {
		return err
	}

	scored := o.cal.Calibrate(doc.ID, candidates, applied, rejected)
	if err := o.applyScored(scored); err != nil {
		return err
	}

	// Stage 4: best-effort enrichment. Absence, failure, and timeout are
	// all equivalent: rule-based results stand.
	o.runEnrichment(ctx, doc, applied, rejected, scored)

	return nil
}

// evaluateRules runs every rule concurrently and fans results in, waiting
// for all up to the configured timeout rather than blocking on a straggler.
// A rule error or panic is recorded and the other rules' output kept.
func (o *Orchestrator) evaluateRules(doc *store.Document) []rules.CandidateLink {
	type ruleResult struct {
		name       string
		candidates []rules.CandidateLink
		err        error
	}

	results := make(chan ruleResult, len(o.rules))
	for _, r := range o.rules {
		go func(r rules.Rule) {
			defer func() {
				if rec := recover(); rec != nil {
					results <- ruleResult{name: r.Name(), err: fmt.Errorf("rule panic: %v", rec)}
				}
			}()
			cands, err := r.Evaluate(doc, o.idx)
			results <- ruleResult{name: r.Name(), candidates: cands, err: err}
		}(r)
	}

	deadline := time.NewTimer(o.cfg.Linking.RuleTimeout())
	defer deadline.Stop()

	var all []rules.CandidateLink
	for received := 0; received < len(o.rules); received++ {
		select {
		case res := <-results:
			if res.err != nil {
				o.log.Warn("rule failed",
					zap.String("rule", res.name),
					zap.String("doc", doc.ID),
					zap.Error(res.err))
				continue
			}
			all = append(all, res.candidates...)
		case <-deadline.C:
			o.log.Warn("abandoning straggler rules",
				zap.String("doc", doc.ID),
				zap.Int("received", received),
				zap.Int("total", len(o.rules)))
			return all
		}
	}
	return all
}

// applyScored writes auto-apply links and records queue-disposition
// suggestions. Link writes are idempotent and order-independent, keyed by
// evidence fingerprint.
func (o *Orchestrator) applyScored(scored []calibrate.ScoredLink) error {
	for _, s := range scored {
		switch s.Disposition {
		case calibrate.AutoApply:
			for _, cand := range s.Candidates {
				created, err := o.db.AppendLink(&store.Link{
					SourceID:      s.SourceID,
					TargetID:      s.TargetID,
					Rule:          cand.Rule,
					Fingerprint:   cand.Fingerprint(),
					Confidence:    s.Confidence,
					Justification: cand.Justification,
				})
				if err != nil {
					return err
				}
				if created {
					o.log.Info("link applied",
						zap.String("source", s.SourceID),
						zap.String("target", s.TargetID),
						zap.String("rule", cand.Rule),
						zap.Float64("confidence", s.Confidence))
				}
			}
		case calibrate.Queue:
			id, err := o.db.RecordSuggestion(&store.Suggestion{
				SourceID:      s.SourceID,
				TargetID:      s.TargetID,
				Rule:          s.Rule,
				Fingerprint:   s.Fingerprint,
				Confidence:    s.Confidence,
				Justification: s.Justification,
			})
			if err != nil {
				return err
			}
			o.log.Info("link queued for review",
				zap.String("suggestion", id),
				zap.String("source", s.SourceID),
				zap.String("target", s.TargetID),
				zap.Float64("confidence", s.Confidence))
		}
	}
	return nil
}

// runEnrichment asks the enrichment collaborator for tags and related
// documents, under its own timeout. Proposed relations go through the same
// calibration and dedup as rule output, at the configured enrichment
// confidence.
func (o *Orchestrator) runEnrichment(ctx context.Context, doc *store.Document, applied, rejected map[string]bool, ruleScored []calibrate.ScoredLink) {
	if o.enricher == nil {
		return
	}

	ectx, cancel := context.WithTimeout(ctx, o.cfg.Enrichment.Timeout())
	defer cancel()

	res, err := o.enricher.Enrich(ectx, doc)
	if err != nil {
		o.log.Warn("enrichment unavailable", zap.String("doc", doc.ID), zap.Error(err))
		return
	}
	if res == nil {
		return
	}

	if merged := mergeTags(doc.Tags, res.Tags); len(merged) > len(doc.Tags) {
		doc.Tags = merged
		if err := o.db.PutDocument(doc); err != nil {
			o.log.Warn("persist enrichment tags", zap.String("doc", doc.ID), zap.Error(err))
		} else {
			o.idx.Put(doc)
		}
	}

	if len(res.Related) == 0 {
		return
	}

	// Fingerprints applied moments ago in stage 3 count as existing.
	for _, s := range ruleScored {
		if s.Disposition == calibrate.AutoApply {
			for _, cand := range s.Candidates {
				applied[cand.Fingerprint()] = true
			}
		}
	}

	var candidates []rules.CandidateLink
	for _, rel := range res.Related {
		if rel.TargetID == "" || rel.TargetID == doc.ID {
			continue
		}
		if _, ok := o.idx.Document(rel.TargetID); !ok {
			continue // model hallucinated an id
		}
		reason := rel.Reason
		if reason == "" {
			reason = "related according to enrichment"
		}
		candidates = append(candidates, rules.CandidateLink{
			SourceID:      doc.ID,
			TargetID:      rel.TargetID,
			Rule:          rules.RuleEnrichment,
			Confidence:    o.cfg.Enrichment.Confidence,
			Justification: reason,
			Evidence:      "related",
		})
	}
	if len(candidates) == 0 {
		return
	}

	scored := o.cal.Calibrate(doc.ID, candidates, applied, rejected)
	if err := o.applyScored(scored); err != nil {
		o.log.Warn("apply enrichment links", zap.String("doc", doc.ID), zap.Error(err))
	}
}

func mergeTags(existing, proposed []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(proposed))
	for _, t := range existing {
		seen[t] = true
		merged = append(merged, t)
	}
	for _, t := range proposed {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}
