// Package reindex reconciles the search index with the record store.
//
// The runner keyset-scans the store by email and bulk-indexes each batch
// with the email as document id, so re-running it converges instead of
// duplicating. After each clean batch the last email is checkpointed; a
// batch with item errors stops the run and leaves the checkpoint before
// it, so the next run retries the same rows.
package reindex

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/metrics"
	"github.com/ignite/emailfinder/internal/pkg/distlock"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// Scanner reads store rows in email order.
type Scanner interface {
	ScanAfter(ctx context.Context, after string, limit int) ([]domain.ContactRecord, error)
}

// Indexer writes a batch of documents.
type Indexer interface {
	BulkPut(ctx context.Context, recs []domain.ContactRecord) (*contacts.BulkResult, error)
}

// Invalidator drops cached search pages once the index changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// extender is implemented by leases that can be prolonged mid-run.
type extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Options tunes a Runner.
type Options struct {
	BatchSize int
	// BatchesPerSecond throttles bulk calls; zero means unthrottled.
	BatchesPerSecond float64
	Locks            distlock.Factory
	LockTTL          time.Duration
	Cache            Invalidator
}

// Result reports one run.
type Result struct {
	ResumedFrom string               `json:"resumed_from,omitempty"`
	LastEmail   string               `json:"last_email,omitempty"`
	Batches     int                  `json:"batches"`
	Indexed     int                  `json:"indexed"`
	Failed      []contacts.ItemError `json:"failed,omitempty"`
	Completed   bool                 `json:"completed"`
	Duration    string               `json:"duration"`
}

// Runner copies the record store into the search index.
type Runner struct {
	scan    Scanner
	index   Indexer
	cp      Checkpoint
	limiter *rate.Limiter
	opts    Options
}

// NewRunner creates a runner. A nil checkpoint keeps progress in memory.
func NewRunner(scan Scanner, index Indexer, cp Checkpoint, opts Options) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Locks == nil {
		opts.Locks = distlock.NewFactory(nil, nil, 0)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if cp == nil {
		cp = &MemoryCheckpoint{}
	}
	limit := rate.Inf
	if opts.BatchesPerSecond > 0 {
		limit = rate.Limit(opts.BatchesPerSecond)
	}
	return &Runner{scan: scan, index: index, cp: cp, limiter: rate.NewLimiter(limit, 1), opts: opts}
}

// Run indexes every row after the checkpoint (or from the start when
// fresh is set). It holds the maintenance lock for the whole run and
// returns ErrBusy when dedupe or delete-all is in progress.
func (r *Runner) Run(ctx context.Context, fresh bool) (*Result, error) {
	res := &Result{}
	lock := r.opts.Locks(contacts.MaintenanceLockKey)
	err := contacts.RunLocked(ctx, lock, "reindex", func() error {
		return r.run(ctx, lock, fresh, res)
	})
	if res.Indexed > 0 && r.opts.Cache != nil {
		if cerr := r.opts.Cache.Invalidate(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("reindex: cache invalidation failed", "error", cerr)
		}
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, lock distlock.DistLock, fresh bool, res *Result) error {
	start := time.Now()
	defer func() { res.Duration = time.Since(start).Round(time.Millisecond).String() }()

	if fresh {
		if err := r.cp.Clear(ctx); err != nil {
			return err
		}
	}
	after, err := r.cp.Load(ctx)
	if err != nil {
		return err
	}
	res.ResumedFrom = after
	logger.Info("reindex started", "resumed_from", after, "batch_size", r.opts.BatchSize)

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		batch, err := r.scan.ScanAfter(ctx, after, r.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("scan after %q: %w", after, err)
		}
		if len(batch) == 0 {
			break
		}

		br, err := r.index.BulkPut(ctx, batch)
		if err != nil {
			metrics.ReindexDocsTotal.WithLabelValues("error").Add(float64(len(batch)))
			return fmt.Errorf("bulk index batch after %q: %w", after, err)
		}
		res.Batches++
		res.Indexed += len(br.Succeeded)
		metrics.ReindexDocsTotal.WithLabelValues("indexed").Add(float64(len(br.Succeeded)))
		if len(br.Failed) > 0 {
			metrics.ReindexDocsTotal.WithLabelValues("failed").Add(float64(len(br.Failed)))
			res.Failed = br.Failed
			logger.Error("reindex stopped on item errors",
				"batch", res.Batches, "failed", len(br.Failed), "checkpoint", after)
			return &contacts.Error{
				Kind:    contacts.KindPartialFailure,
				Msg:     fmt.Sprintf("%d documents failed to index", len(br.Failed)),
				Details: res,
			}
		}

		after = batch[len(batch)-1].Email
		res.LastEmail = after
		if err := r.cp.Save(ctx, after); err != nil {
			return err
		}
		if ext, ok := lock.(extender); ok {
			if err := ext.Extend(ctx, r.opts.LockTTL); err != nil {
				logger.Warn("reindex: lock extend failed", "error", err)
			}
		}
		if res.Batches%50 == 0 {
			logger.Info("reindex progress", "batches", res.Batches, "indexed", res.Indexed)
		}
		if len(batch) < r.opts.BatchSize {
			break
		}
	}

	if err := r.cp.Clear(ctx); err != nil {
		logger.Warn("reindex: checkpoint clear failed", "error", err)
	}
	res.Completed = true
	logger.Info("reindex completed", "batches", res.Batches, "indexed", res.Indexed)
	return nil
}
