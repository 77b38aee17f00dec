package domain

// Stage is one discrete step of the enhancement pipeline. A job moves
// through stages strictly in pipeline order; the only branch is the
// degraded edge from generating_broll straight into compositing.
type Stage string

const (
	StageUploaded        Stage = "uploaded"
	StageTranscribing    Stage = "transcribing"
	StageCaptioning      Stage = "captioning"
	StageGeneratingBRoll Stage = "generating_broll"
	StageCompositing     Stage = "compositing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// PipelineStages lists the work stages in execution order.
var PipelineStages = []Stage{
	StageTranscribing,
	StageCaptioning,
	StageGeneratingBRoll,
	StageCompositing,
}

func (s Stage) Valid() bool {
	switch s {
	case StageUploaded, StageTranscribing, StageCaptioning,
		StageGeneratingBRoll, StageCompositing, StageCompleted, StageFailed:
		return true
	}
	return false
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Next returns the stage that follows s on the success path.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageUploaded:
		return StageTranscribing, true
	case StageTranscribing:
		return StageCaptioning, true
	case StageCaptioning:
		return StageGeneratingBRoll, true
	case StageGeneratingBRoll:
		return StageCompositing, true
	case StageCompositing:
		return StageCompleted, true
	}
	return "", false
}

// CanTransition reports whether from -> to is an edge of the stage machine.
// Any non-terminal stage may fail; generating_broll may not (its exhaustion
// routes to compositing in degraded mode instead).
func CanTransition(from, to Stage) bool {
	if next, ok := from.Next(); ok && next == to {
		return true
	}
	if to == StageFailed && !from.Terminal() && from != StageGeneratingBRoll {
		return true
	}
	return false
}
