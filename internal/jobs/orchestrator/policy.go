package orchestrator

import (
	"math"
	"math/rand"
	"time"

	"github.com/clipso/clipso-backend/internal/domain"
)

// Policy bounds one stage's retries. MaxAttempts == 0 means the attempt
// count is unbounded and the stage enforces its own wall-clock budget
// (transcription polling works this way).
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration // default 1s
	MaxBackoff  time.Duration // default 30s
	JitterFrac  float64       // default 0.20
}

type Policies map[domain.Stage]Policy

// DefaultPolicies mirrors the recommended budgets: transcription bounded
// by its poll budget, b-roll and compositing by three attempts each.
func DefaultPolicies() Policies {
	return Policies{
		domain.StageTranscribing:    {MaxAttempts: 0, MinBackoff: 5 * time.Second, MaxBackoff: 15 * time.Second},
		domain.StageCaptioning:      {MaxAttempts: 2, MinBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second},
		domain.StageGeneratingBRoll: {MaxAttempts: 3, MinBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second},
		domain.StageCompositing:     {MaxAttempts: 3, MinBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second},
	}
}

func (p Policy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// computeBackoff doubles the base delay per attempt, caps it, and spreads
// it with jitter so retrying jobs don't thundering-herd a provider.
func computeBackoff(p Policy, attempts int) time.Duration {
	minB := p.MinBackoff
	maxB := p.MaxBackoff
	j := p.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
