package services

import (
	"context"
	"time"

	"github.com/clipso/clipso-backend/internal/clients/redis"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

// busNotifier forwards job lifecycle events onto the redis job bus.
// Publish failures are logged and swallowed; the bus is advisory and the
// status endpoint stays the source of truth.
type busNotifier struct {
	log *logger.Logger
	bus redis.JobBus
}

func NewBusNotifier(log *logger.Logger, bus redis.JobBus) runtime.Notifier {
	return &busNotifier{
		log: log.With("service", "BusNotifier"),
		bus: bus,
	}
}

func (n *busNotifier) JobProgress(job *domain.EnhancementJob, stage domain.Stage, pct int, msg string) {
	n.publish(redis.JobEvent{
		Kind:     "progress",
		ShareID:  job.ShareID,
		Stage:    string(stage),
		Degraded: job.Degraded,
		Progress: pct,
		Message:  msg,
	})
}

func (n *busNotifier) JobFailed(job *domain.EnhancementJob, stage domain.Stage, msg string) {
	n.publish(redis.JobEvent{
		Kind:     "failed",
		ShareID:  job.ShareID,
		Stage:    string(stage),
		Degraded: job.Degraded,
		Progress: job.Progress,
		Error:    msg,
	})
}

func (n *busNotifier) JobDone(job *domain.EnhancementJob) {
	n.publish(redis.JobEvent{
		Kind:     "done",
		ShareID:  job.ShareID,
		Stage:    string(job.Stage),
		Degraded: job.Degraded,
		Progress: job.Progress,
	})
}

func (n *busNotifier) publish(ev redis.JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("job event publish failed", "share_id", ev.ShareID, "kind", ev.Kind, "error", err)
	}
}

// NopNotifier is used when redis is not configured.
type NopNotifier struct{}

func (NopNotifier) JobProgress(*domain.EnhancementJob, domain.Stage, int, string) {}
func (NopNotifier) JobFailed(*domain.EnhancementJob, domain.Stage, string)        {}
func (NopNotifier) JobDone(*domain.EnhancementJob)                                {}
