package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

// stageProgress maps each stage to its [start, end] percent band.
var stageProgress = map[domain.Stage][2]int{
	domain.StageTranscribing:    {10, 35},
	domain.StageCaptioning:      {35, 55},
	domain.StageGeneratingBRoll: {55, 75},
	domain.StageCompositing:     {75, 95},
}

/*
Engine owns the stage sequence and transition policy. It is the only
component that mutates a job's stage, and it does so only after a runner
reports definitive success or definitive exhaustion.

One Advance call is one cooperative step of a claimed job: it executes
stage runners in pipeline order until the job either finishes, fails, or
yields back to the queue with a backoff deadline. Re-advancing a job whose
stage work is already satisfied is a no-op thanks to the runners' artifact
short-circuit, so concurrent or repeated advances collapse to one unit of
external work.
*/
type Engine struct {
	log      *logger.Logger
	runners  map[domain.Stage]Runner
	policies Policies
}

func NewEngine(log *logger.Logger, runners []Runner, policies Policies) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	byStage := make(map[domain.Stage]Runner, len(runners))
	for _, r := range runners {
		if r == nil {
			return nil, fmt.Errorf("nil runner")
		}
		if _, dup := byStage[r.Stage()]; dup {
			return nil, fmt.Errorf("duplicate runner for stage %q", r.Stage())
		}
		byStage[r.Stage()] = r
	}
	for _, stage := range domain.PipelineStages {
		if _, ok := byStage[stage]; !ok {
			return nil, fmt.Errorf("missing runner for stage %q", stage)
		}
	}
	return &Engine{
		log:      log.With("component", "OrchestratorEngine"),
		runners:  byStage,
		policies: policies,
	}, nil
}

// Advance drives one claimed job forward. Terminal jobs are a no-op.
func (e *Engine) Advance(jc *runtime.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	job := jc.Job
	if job.Stage.Terminal() {
		return nil
	}
	if job.Stage == domain.StageUploaded {
		e.transition(jc, domain.StageTranscribing, "Starting transcription")
	}

	for !job.Stage.Terminal() {
		stage := job.Stage
		runner, ok := e.runners[stage]
		if !ok {
			jc.Fail(stage, fmt.Errorf("no runner for stage %q", stage))
			return nil
		}

		outcome := safeRun(runner, jc)
		switch outcome.Kind {
		case OutcomeSuccess:
			e.recordArtifact(jc, stage, outcome.ArtifactRef)
			next, _ := stage.Next()
			if next == domain.StageCompleted {
				e.assertCompletable(jc)
				return nil
			}
			e.transition(jc, next, "Starting "+string(next))

		case OutcomeRetryable:
			if done := e.handleRetryable(jc, stage, outcome.Err); done {
				return nil
			}
			// degraded reroute: loop continues into compositing

		case OutcomeTerminal:
			e.recordStageError(jc, stage, outcome.Err)
			if stage == domain.StageGeneratingBRoll {
				// The stage machine has no generating_broll -> failed
				// edge: permanent b-roll failures degrade, like
				// exhaustion does.
				e.degrade(jc, outcome.Err)
				continue
			}
			jc.Fail(stage, outcome.Err)
			return nil

		default:
			jc.Fail(stage, fmt.Errorf("stage %q: unknown outcome %q", stage, outcome.Kind))
			return nil
		}
	}
	return nil
}

// handleRetryable bumps the stage attempt counter and routes: yield with
// backoff while budget remains, otherwise apply the stage's exhaustion
// policy. Returns true when the advance pass is over.
func (e *Engine) handleRetryable(jc *runtime.Context, stage domain.Stage, cause error) bool {
	attempts := e.bumpAttempts(jc, stage)
	if !errors.Is(cause, ErrAwaitingProvider) {
		e.recordStageError(jc, stage, cause)
	}
	pol := e.policies[stage]

	if !pol.exhausted(attempts) {
		delay := computeBackoff(pol, attempts)
		e.log.Debug("stage retry scheduled",
			"job_id", jc.Job.ID, "stage", stage, "attempts", attempts, "delay", delay, "cause", errString(cause))
		jc.Yield(time.Now().Add(delay))
		return true
	}

	if stage == domain.StageGeneratingBRoll {
		e.degrade(jc, cause)
		return false
	}

	jc.Fail(stage, fmt.Errorf("stage %q: retry budget exhausted: %w", stage, cause))
	return true
}

// degrade marks the job degraded and moves it into compositing without a
// b-roll artifact. A video without b-roll is still a deliverable.
func (e *Engine) degrade(jc *runtime.Context, cause error) {
	e.log.Warn("b-roll unavailable, continuing degraded",
		"job_id", jc.Job.ID, "cause", errString(cause))
	_ = jc.Update(map[string]interface{}{"degraded": true})
	jc.Job.Degraded = true
	e.transition(jc, domain.StageCompositing, "Compositing without b-roll")
}

func (e *Engine) transition(jc *runtime.Context, to domain.Stage, msg string) {
	from := jc.Job.Stage
	if !domain.CanTransition(from, to) {
		jc.Fail(from, fmt.Errorf("illegal stage transition %q -> %q", from, to))
		return
	}
	pct := jc.Job.Progress
	if band, ok := stageProgress[to]; ok {
		pct = band[0]
	}
	jc.Progress(to, pct, msg)
}

// recordArtifact writes artifacts[stage] at most once. A re-run that
// produced a ref for an already-satisfied stage keeps the original ref.
func (e *Engine) recordArtifact(jc *runtime.Context, stage domain.Stage, ref string) {
	if ref == "" {
		return
	}
	artifacts := jc.Job.ArtifactsMap()
	if existing, ok := artifacts[string(stage)]; ok && existing != "" {
		return
	}
	artifacts[string(stage)] = ref
	raw := domain.MarshalJSONB(artifacts)
	_ = jc.Update(map[string]interface{}{"artifacts": raw})
	jc.Job.Artifacts = raw

	pct := jc.Job.Progress
	if band, ok := stageProgress[stage]; ok {
		pct = band[1]
	}
	jc.Progress(stage, pct, "Finished "+string(stage))
}

func (e *Engine) bumpAttempts(jc *runtime.Context, stage domain.Stage) int {
	attempts := jc.Job.AttemptsMap()
	attempts[string(stage)]++
	raw := domain.MarshalJSONB(attempts)
	_ = jc.Update(map[string]interface{}{"attempts": raw})
	jc.Job.Attempts = raw
	return attempts[string(stage)]
}

// recordStageError keeps the last failure reason per stage for diagnostics,
// retained even after the stage later succeeds.
func (e *Engine) recordStageError(jc *runtime.Context, stage domain.Stage, cause error) {
	if cause == nil {
		return
	}
	stageErrors := jc.Job.StageErrorsMap()
	stageErrors[string(stage)] = cause.Error()
	raw := domain.MarshalJSONB(stageErrors)
	_ = jc.Update(map[string]interface{}{"stage_errors": raw})
	jc.Job.StageErrors = raw
}

// assertCompletable enforces the completion invariant: no compositing
// artifact, no completed job.
func (e *Engine) assertCompletable(jc *runtime.Context) {
	if _, ok := jc.Job.Artifact(domain.StageCompositing); !ok {
		jc.Fail(domain.StageCompositing, fmt.Errorf("compositing artifact missing at completion"))
		return
	}
	jc.Complete()
}

func safeRun(r Runner, jc *runtime.Context) (out StageOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Terminal(fmt.Errorf("stage %q panicked: %v", r.Stage(), rec))
		}
	}()
	return r.Run(jc)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
