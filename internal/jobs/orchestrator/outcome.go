package orchestrator

import (
	"errors"

	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
)

// ErrAwaitingProvider marks a retryable outcome that is a wait, not a
// failure: a provider-side job is still running. The engine yields on it
// like any retryable cause but keeps it out of stage_errors.
var ErrAwaitingProvider = errors.New("awaiting provider")

type OutcomeKind string

const (
	// OutcomeSuccess carries the stage's artifact ref.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeRetryable is a transient failure: timeout, rate limit,
	// provider hiccup, or a provider job still pending.
	OutcomeRetryable OutcomeKind = "retryable"
	// OutcomeTerminal is permanent: malformed input, unsupported format,
	// provider rejection, or an exceeded wall-clock budget.
	OutcomeTerminal OutcomeKind = "terminal"
)

// StageOutcome is the only way a stage runner reports back. Runners never
// let an adapter error escape; every failure is classified here and the
// engine alone decides the job-level consequence.
type StageOutcome struct {
	Kind        OutcomeKind
	ArtifactRef string
	Err         error
}

func Success(artifactRef string) StageOutcome {
	return StageOutcome{Kind: OutcomeSuccess, ArtifactRef: artifactRef}
}

func Retryable(err error) StageOutcome {
	return StageOutcome{Kind: OutcomeRetryable, Err: err}
}

func Terminal(err error) StageOutcome {
	return StageOutcome{Kind: OutcomeTerminal, Err: err}
}

// Runner executes one pipeline stage against a claimed job.
//
// Contract: check the job's artifact map first and short-circuit to
// Success without touching the adapter when the stage is already
// satisfied; otherwise invoke the capability adapter and classify.
type Runner interface {
	Stage() domain.Stage
	Run(jc *runtime.Context) StageOutcome
}
