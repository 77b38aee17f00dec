package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/repos"
)

type WorkerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	// StaleRunning is how long a running claim may go without a heartbeat
	// before another worker may steal it.
	StaleRunning time.Duration
}

func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:  4,
		PollInterval: time.Second,
		StaleRunning: 2 * time.Minute,
	}
}

// Worker claims runnable jobs from the database queue and dispatches them
// to registered handlers. Claiming rides on SKIP LOCKED, so any number of
// worker processes can share one table without double-executing a job.
type Worker struct {
	log      *logger.Logger
	db       *gorm.DB
	repo     repos.EnhancementJobRepo
	registry *runtime.Registry
	notify   runtime.Notifier
	opts     WorkerOptions
}

func NewWorker(log *logger.Logger, db *gorm.DB, repo repos.EnhancementJobRepo, registry *runtime.Registry, notify runtime.Notifier, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultWorkerOptions().Concurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultWorkerOptions().PollInterval
	}
	if opts.StaleRunning <= 0 {
		opts.StaleRunning = DefaultWorkerOptions().StaleRunning
	}
	return &Worker{
		log:      log.With("component", "JobWorker"),
		db:       db,
		repo:     repo,
		registry: registry,
		notify:   notify,
		opts:     opts,
	}
}

// Run blocks until ctx is cancelled, polling for claimable jobs across
// opts.Concurrency goroutines.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting", "concurrency", w.opts.Concurrency, "poll_interval", w.opts.PollInterval)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		slot := i
		g.Go(func() error { return w.loop(ctx, slot) })
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	log := w.log.With("slot", slot)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		// Drain everything runnable before sleeping again.
		for {
			claimed, err := w.runOne(ctx, log)
			if err != nil {
				log.Error("claim failed", "error", err)
				break
			}
			if !claimed {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (w *Worker) runOne(ctx context.Context, log *logger.Logger) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(ctx, nil, w.opts.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jlog := log.With("job_id", job.ID, "job_type", job.JobType, "stage", job.Stage)
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify, jlog)

	handler, ok := w.registry.Get(job.JobType)
	if !ok {
		jc.Fail(job.Stage, fmt.Errorf("no handler registered for job_type %q", job.JobType))
		return true, nil
	}

	jlog.Debug("job claimed")
	if err := w.execute(handler, jc); err != nil {
		jc.Fail(jc.Job.Stage, err)
	}
	return true, nil
}

// execute shields the claim loop from handler panics; a panicking job
// fails instead of taking its worker slot down.
func (w *Worker) execute(h runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job handler panicked: %v", rec)
		}
	}()
	return h.Run(jc)
}
