package recurring

import (
	"context"
	"time"

	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = time.Hour
	DefaultConcurrency = 4
)

// Notifier receives the report of every job that did something.
type Notifier interface {
	NotifyRun(ctx context.Context, report JobReport) error
}

type RunnerOptions struct {
	Interval    time.Duration
	Concurrency int
	// StartDelay postpones the first pass after Start.
	StartDelay time.Duration
	Notifier   Notifier
	// Global, when set, adds one pass over the shared rules per tick.
	Global *store.Scope
}

// Runner drives the scheduler for every owner with due rules, on a ticker
// and on demand.
type Runner struct {
	scheduler *Scheduler
	store     store.Store
	opts      RunnerOptions
	notifyCh  chan struct{}
}

func NewRunner(s store.Store, scheduler *Scheduler, opts RunnerOptions) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Runner{
		scheduler: scheduler,
		store:     s,
		opts:      opts,
		notifyCh:  make(chan struct{}, 1),
	}
}

// Notify triggers an immediate pass. Non-blocking if a pass is already pending.
func (r *Runner) Notify() {
	select {
	case r.notifyCh <- struct{}{}:
	default:
	}
}

// Start runs passes until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().Dur("interval", r.opts.Interval).Msg("recurring runner started")

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		return
	case <-time.After(r.opts.StartDelay):
	}
	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("recurring runner stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		case <-r.notifyCh:
			log.Info().Msg("recurring runner triggered by notification")
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunAll(ctx); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("recurring pass failed")
	}
}

// RunAll runs one job per owner with due rules, at most Concurrency at a
// time, plus the global pass when configured. Jobs never fail each other.
func (r *Runner) RunAll(ctx context.Context) ([]JobReport, error) {
	owners, err := r.store.Owners(ctx, r.scheduler.now())
	if err != nil {
		return nil, err
	}

	scopes := make([]store.Scope, 0, len(owners)+1)
	for _, owner := range owners {
		scopes = append(scopes, store.UserScope(owner))
	}
	if r.opts.Global != nil {
		scopes = append(scopes, *r.opts.Global)
	}

	reports := make([]JobReport, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, scope := range scopes {
		i, scope := i, scope
		g.Go(func() error {
			reports[i] = r.scheduler.RunJob(gctx, scope)
			r.notify(gctx, reports[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (r *Runner) notify(ctx context.Context, report JobReport) {
	if r.opts.Notifier == nil {
		return
	}
	if report.JobStatus == JobCompleted && report.Run != nil &&
		report.Run.Generated == 0 && report.Run.Failed == 0 {
		return
	}
	if err := r.opts.Notifier.NotifyRun(ctx, report); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Int64("owner_id", report.OwnerID).Msg("failed to send run notification")
	}
}
