package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/patient"
)

// Applier applies one message. *patient.Service satisfies it.
type Applier interface {
	Apply(ctx context.Context, msg patient.Message) (patient.Applied, error)
}

// Cursor is the durable progress watermark.
type Cursor interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, seq int64) error
}

// Config tunes a Pipeline. Zero values pick the defaults noted per field.
type Config struct {
	// Workers is the number of concurrent appliers. Default 4.
	Workers int

	// Rate caps messages per second across all workers. 0 means unlimited.
	Rate float64

	// Burst is the token bucket size when Rate is set. Default 1.
	Burst int

	// DuplicateTTL is how long an applied event ID is remembered to drop
	// re-deliveries without touching the store. Default 10 minutes.
	DuplicateTTL time.Duration

	// Retries is how many extra attempts a store-unavailable failure gets.
	// Default 0.
	Retries int

	// RetryBackoff is the wait before the first retry; it doubles after
	// each attempt. Default 100ms.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.DuplicateTTL <= 0 {
		c.DuplicateTTL = 10 * time.Minute
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	return c
}

// Summary reports what a run did.
type Summary struct {
	Total      int
	Skipped    int // at or below the starting watermark
	Duplicates int // dropped by the duplicate cache
	Failed     int
	Stale      int
	Backfilled int
	Outcomes   map[coordinator.Outcome]int
	Watermark  int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithOnApplied registers a callback invoked after every message that was
// handed to the applier, successful or not. Used by the CLI to stream
// results.
func WithOnApplied(fn func(patient.Applied, error)) Option {
	return func(p *Pipeline) { p.onApplied = fn }
}

// Pipeline feeds messages to an Applier.
//
// Thread-safety: a Pipeline may run once at a time; the duplicate cache is
// kept across runs.
type Pipeline struct {
	applier   Applier
	cursor    Cursor
	cfg       Config
	limiter   *rate.Limiter
	seen      *cache.Cache
	logger    *slog.Logger
	onApplied func(patient.Applied, error)
}

// New creates a Pipeline.
func New(applier Applier, cursor Cursor, cfg Config, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	p := &Pipeline{
		applier: applier,
		cursor:  cursor,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		seen:    cache.New(cfg.DuplicateTTL, 2*cfg.DuplicateTTL),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run applies msgs in arrival order across the worker pool.
//
// It returns early only if ctx is cancelled, the cursor cannot be read or
// saved, or stored state is found inconsistent. Every other failure is
// logged, counted in Summary.Failed, and the run continues.
func (p *Pipeline) Run(ctx context.Context, msgs []patient.Message) (Summary, error) {
	sum := Summary{Total: len(msgs), Outcomes: make(map[coordinator.Outcome]int)}

	start, err := p.cursor.Load(ctx)
	if err != nil {
		return sum, fmt.Errorf("load progress: %w", err)
	}
	sum.Watermark = start

	q := newQueue[patient.Message](len(msgs))
	var seqs []int64
	for _, m := range msgs {
		if m.Seq <= start {
			sum.Skipped++
			continue
		}
		seqs = append(seqs, m.Seq)
		q.Enqueue(m)
	}
	q.Close()

	p.logger.Info("ingest starting",
		"messages", len(msgs),
		"resume_after", start,
		"skipped", sum.Skipped,
		"workers", p.cfg.Workers,
	)

	mark := newWatermark(start, seqs)
	var mu sync.Mutex // guards sum

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.cfg.Workers; w++ {
		g.Go(func() error {
			for {
				msg, ok, drained := q.TryDequeue()
				if !ok {
					if drained {
						return nil
					}
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-q.Wait():
					}
					continue
				}

				finished, err := p.handle(gctx, msg, &sum, &mu)
				if err != nil {
					return err
				}
				if !finished {
					continue
				}
				if m, moved := mark.Finish(msg.Seq); moved {
					if err := p.cursor.Save(gctx, m); err != nil {
						return fmt.Errorf("save progress: %w", err)
					}
				}
			}
		})
	}

	err = g.Wait()
	sum.Watermark = mark.Mark()

	p.logger.Info("ingest finished",
		"total", sum.Total,
		"failed", sum.Failed,
		"duplicates", sum.Duplicates,
		"watermark", sum.Watermark,
	)
	return sum, err
}

// handle applies one message. finished reports whether the message is done
// for good (applied, dropped or permanently rejected) and may count towards
// the watermark. A non-nil error stops the run.
func (p *Pipeline) handle(ctx context.Context, msg patient.Message, sum *Summary, mu *sync.Mutex) (finished bool, err error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}

	id, err := msg.EventID()
	if err != nil {
		p.logger.Error("message has no usable id", "seq", msg.Seq, "mrn", msg.Mrn, "error", err)
		mu.Lock()
		sum.Failed++
		mu.Unlock()
		return true, nil
	}

	if err := p.seen.Add(id, msg.Seq, cache.DefaultExpiration); err != nil {
		p.logger.Debug("duplicate message dropped", "seq", msg.Seq, "event_id", id)
		mu.Lock()
		sum.Duplicates++
		mu.Unlock()
		return true, nil
	}

	applied, err := p.applyWithRetry(ctx, msg)
	if p.onApplied != nil {
		p.onApplied(applied, err)
	}

	if err != nil {
		// Forget the ID so a later re-delivery is attempted again.
		p.seen.Delete(id)

		mu.Lock()
		sum.Failed++
		mu.Unlock()

		logArgs := []any{"seq", msg.Seq, "event_id", id, "mrn", msg.Mrn, "type", string(msg.Type), "error", err}
		switch {
		case coordinator.IsInconsistentState(err):
			p.logger.Error("inconsistent state, stopping", logArgs...)
			return false, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return false, err
		case coordinator.IsRejected(err):
			p.logger.Warn("message rejected", logArgs...)
			return true, nil
		default:
			p.logger.Error("message not applied", logArgs...)
			return false, nil
		}
	}

	mu.Lock()
	sum.Outcomes[applied.Outcome]++
	if applied.Stale {
		sum.Stale++
	}
	if applied.Backfilled {
		sum.Backfilled++
	}
	mu.Unlock()
	return true, nil
}

func (p *Pipeline) applyWithRetry(ctx context.Context, msg patient.Message) (patient.Applied, error) {
	backoff := p.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		applied, err := p.applier.Apply(ctx, msg)
		if err == nil || !coordinator.IsStoreUnavailable(err) || attempt >= p.cfg.Retries {
			return applied, err
		}
		if ctx.Err() != nil {
			return applied, err
		}
		p.logger.Warn("store unavailable, retrying",
			"seq", msg.Seq,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
