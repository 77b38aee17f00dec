package enhance

import (
	"encoding/json"
	"fmt"

	"github.com/clipso/clipso-backend/internal/captions"
	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/orchestrator"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
)

// captionRunner turns the transcript into display windows and an SRT
// track. Purely local work; its only retryable failures are artifact
// store reads and writes.
type captionRunner struct {
	d            Deps
	windowing    captions.WindowOptions
	previewWidth int
}

func (r *captionRunner) Stage() domain.Stage { return domain.StageCaptioning }

func (r *captionRunner) Run(jc *runtime.Context) orchestrator.StageOutcome {
	if ref, ok := jc.Job.Artifact(r.Stage()); ok {
		return orchestrator.Success(ref)
	}
	tr, bad, ok := loadTranscript(jc, r.d.Store)
	if !ok {
		return bad
	}

	windows := captions.BuildWindows(tr.Tokens, r.windowing)
	style := r.d.Styles.Default()
	track := domain.CaptionTrack{
		Style:   style.Name,
		Windows: windows,
		SRT:     captions.SRT(windows),
	}

	if len(windows) > 0 {
		if out := r.renderPreview(jc, style, windows[0].Text); out.Kind != "" {
			return out
		}
	}

	raw, err := json.Marshal(track)
	if err != nil {
		return orchestrator.Terminal(fmt.Errorf("encode caption track: %w", err))
	}
	key := gcs.ArtifactKey(jc.Job.ID.String(), string(r.Stage()), ".json")
	ref, err := r.d.Store.Put(jc.Ctx, key, raw, "application/json")
	if err != nil {
		return orchestrator.Retryable(err)
	}
	return orchestrator.Success(ref)
}

// renderPreview rasterizes the first window with the active style and
// stores it next to the stage artifacts. A zero outcome means carry on.
func (r *captionRunner) renderPreview(jc *runtime.Context, style captions.Style, text string) orchestrator.StageOutcome {
	layout, err := captions.NewLayout(style)
	if err != nil {
		return orchestrator.Terminal(fmt.Errorf("caption style %q unusable: %w", style.Name, err))
	}
	png, err := layout.RenderPreview(text, r.previewWidth)
	if err != nil {
		return orchestrator.Terminal(fmt.Errorf("render caption preview: %w", err))
	}
	key := gcs.ArtifactKey(jc.Job.ID.String(), "caption_preview", ".png")
	if _, err := r.d.Store.Put(jc.Ctx, key, png, "image/png"); err != nil {
		return orchestrator.Retryable(err)
	}
	return orchestrator.StageOutcome{}
}
