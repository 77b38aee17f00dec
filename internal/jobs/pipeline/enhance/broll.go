package enhance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/clients/openai"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/orchestrator"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
)

const brollPromptPrefix = "High quality visual scene representing: "

// brollRunner asks the image provider for one overlay still. Every
// permanent failure here is survivable: the orchestrator reroutes
// terminal and exhausted outcomes into degraded compositing.
type brollRunner struct {
	d        Deps
	maxRunes int
}

func (r *brollRunner) Stage() domain.Stage { return domain.StageGeneratingBRoll }

func (r *brollRunner) Run(jc *runtime.Context) orchestrator.StageOutcome {
	if ref, ok := jc.Job.Artifact(r.Stage()); ok {
		return orchestrator.Success(ref)
	}
	tr, bad, ok := loadTranscript(jc, r.d.Store)
	if !ok {
		return bad
	}

	prompt := DerivePrompt(tr.Text, r.maxRunes)
	if prompt == "" {
		return orchestrator.Terminal(fmt.Errorf("transcript has no usable text for a b-roll prompt"))
	}

	img, err := r.d.Images.Generate(jc.Ctx, prompt)
	if err != nil {
		if errors.Is(err, openai.ErrInvalidPrompt) {
			return orchestrator.Terminal(err)
		}
		return orchestrator.Retryable(err)
	}

	key := gcs.ArtifactKey(jc.Job.ID.String(), string(r.Stage()), ".png")
	ref, err := r.d.Store.Put(jc.Ctx, key, img, "image/png")
	if err != nil {
		return orchestrator.Retryable(err)
	}
	return orchestrator.Success(ref)
}

// DerivePrompt builds the deterministic image prompt from a transcript:
// a fixed prefix plus the first sentence, truncated to maxRunes when the
// sentence runs longer. Same transcript, same prompt, every retry.
func DerivePrompt(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if maxRunes > 0 {
		if rs := []rune(text); len(rs) > maxRunes {
			text = strings.TrimSpace(string(rs[:maxRunes]))
		}
	}
	if text == "" {
		return ""
	}
	return brollPromptPrefix + text
}
