package runtime

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/repos"
)

// Notifier receives job lifecycle events as a side channel. Implementations
// must tolerate being nil-checked away; notification failures never affect
// job state.
type Notifier interface {
	JobProgress(job *domain.EnhancementJob, stage domain.Stage, pct int, msg string)
	JobFailed(job *domain.EnhancementJob, stage domain.Stage, msg string)
	JobDone(job *domain.EnhancementJob)
}

/*
Context is the execution contract between the job system and pipeline code:
a capability-scoped handle for a single claimed job. It wraps the mutable
enhancement_job row, the repo that persists it, the notifier side channel,
and the only sanctioned ways to report progress or terminate execution.
Stage runners never touch the row directly; every mutation funnels through
this object so the single-writer invariant holds.
*/
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *domain.EnhancementJob
	Repo   repos.EnhancementJobRepo
	Notify Notifier
	Log    *logger.Logger
}

func NewContext(ctx context.Context, db *gorm.DB, job *domain.EnhancementJob, repo repos.EnhancementJobRepo, notify Notifier, log *logger.Logger) *Context {
	return &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
		Log:    log,
	}
}

// Update applies arbitrary field updates to the job row and mirrors nothing
// in memory; callers that change in-memory state do so explicitly. Intended
// for low-level writes (attempt counters, artifact maps); lifecycle
// transitions go through Progress/Yield/Fail/Complete.
func (c *Context) Update(updates map[string]interface{}) error {
	if c == nil || c.Job == nil || c.Repo == nil {
		return nil
	}
	return c.Repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, updates)
}

// Progress publishes a non-terminal status update: stage, percent, heartbeat.
func (c *Context) Progress(stage domain.Stage, pct int, msg string) {
	if c == nil || c.Job == nil {
		return
	}
	if pct < c.Job.Progress {
		pct = c.Job.Progress
	}
	now := time.Now()
	_ = c.Update(map[string]interface{}{
		"stage":        string(stage),
		"progress":     pct,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobProgress(c.Job, stage, pct, msg)
	}
}

// Yield parks the job back on the queue with a wake-up deadline, releasing
// the claim so any worker can pick it up once the backoff elapses.
func (c *Context) Yield(nextRunAt time.Time) {
	if c == nil || c.Job == nil {
		return
	}
	now := time.Now()
	_ = c.Update(map[string]interface{}{
		"status":       domain.StatusQueued,
		"next_run_at":  nextRunAt,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	c.Job.Status = domain.StatusQueued
	c.Job.NextRunAt = &nextRunAt
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now
}

// Fail marks the job terminally failed. The failing stage's last error is
// already recorded in stage_errors by the orchestrator; this sets the
// job-level error surfaced by the status endpoint.
func (c *Context) Fail(stage domain.Stage, err error) {
	if c == nil || c.Job == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	now := time.Now()
	_ = c.Update(map[string]interface{}{
		"status":     domain.StatusFailed,
		"stage":      string(domain.StageFailed),
		"error":      msg,
		"locked_at":  nil,
		"updated_at": now,
	})
	c.Job.Status = domain.StatusFailed
	c.Job.Stage = domain.StageFailed
	c.Job.Error = msg
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	if c.Log != nil {
		c.Log.Warn("job failed", "job_id", c.Job.ID, "stage", stage, "error", msg)
	}
	if c.Notify != nil {
		c.Notify.JobFailed(c.Job, stage, msg)
	}
}

// Complete marks the job terminally completed.
func (c *Context) Complete() {
	if c == nil || c.Job == nil {
		return
	}
	now := time.Now()
	_ = c.Update(map[string]interface{}{
		"status":     domain.StatusCompleted,
		"stage":      string(domain.StageCompleted),
		"progress":   100,
		"error":      "",
		"locked_at":  nil,
		"updated_at": now,
	})
	c.Job.Status = domain.StatusCompleted
	c.Job.Stage = domain.StageCompleted
	c.Job.Progress = 100
	c.Job.Error = ""
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobDone(c.Job)
	}
}

// Heartbeat refreshes the claim so long stage work isn't stolen as stale.
func (c *Context) Heartbeat() {
	if c == nil || c.Job == nil || c.Repo == nil {
		return
	}
	_ = c.Repo.Heartbeat(c.Ctx, c.DB, c.Job.ID)
}
