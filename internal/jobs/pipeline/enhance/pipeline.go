package enhance

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clipso/clipso-backend/internal/captions"
	"github.com/clipso/clipso-backend/internal/clients/ffmpeg"
	"github.com/clipso/clipso-backend/internal/clients/gcp"
	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/clients/openai"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/orchestrator"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

// errTranscriptionPending is the retryable cause while the provider-side
// transcription job is still running. Not a failure; it only drives the
// backoff yield between polls, and the engine keeps it out of
// stage_errors.
var errTranscriptionPending = fmt.Errorf("%w: transcription still running", orchestrator.ErrAwaitingProvider)

// Deps are the capability adapters the stage runners execute against.
type Deps struct {
	Log         *logger.Logger
	Store       gcs.Store
	Transcriber gcp.Transcriber
	Images      openai.ImageGenerator
	Media       ffmpeg.Tools
	Styles      *captions.StyleSet
}

// Options are the pipeline tunables surfaced through app config.
type Options struct {
	// TranscribePollBudget is the wall-clock ceiling between starting a
	// provider transcription job and giving up on it.
	TranscribePollBudget time.Duration
	Windowing            captions.WindowOptions
	// PromptMaxRunes caps the transcript excerpt used for the b-roll
	// prompt when the first sentence runs long.
	PromptMaxRunes      int
	BRollOverlaySeconds float64
	PreviewWidth        int
}

func DefaultOptions() Options {
	return Options{
		TranscribePollBudget: 5 * time.Minute,
		Windowing:            captions.DefaultWindowOptions(),
		PromptMaxRunes:       160,
		BRollOverlaySeconds:  4,
		PreviewWidth:         1280,
	}
}

// Pipeline is the video_enhance job handler: the orchestrator engine wired
// with the four stage runners.
type Pipeline struct {
	engine *orchestrator.Engine
}

func New(d Deps, opts Options, policies orchestrator.Policies) (*Pipeline, error) {
	if d.Store == nil || d.Transcriber == nil || d.Images == nil || d.Media == nil {
		return nil, fmt.Errorf("enhance pipeline: missing capability adapter")
	}
	if d.Styles == nil {
		styles, err := captions.LoadStyles("")
		if err != nil {
			return nil, err
		}
		d.Styles = styles
	}
	if opts.TranscribePollBudget <= 0 {
		opts.TranscribePollBudget = DefaultOptions().TranscribePollBudget
	}
	if opts.Windowing.MaxWindowMS <= 0 || opts.Windowing.MaxChars <= 0 {
		opts.Windowing = captions.DefaultWindowOptions()
	}
	if opts.PromptMaxRunes <= 0 {
		opts.PromptMaxRunes = DefaultOptions().PromptMaxRunes
	}
	if opts.PreviewWidth <= 0 {
		opts.PreviewWidth = DefaultOptions().PreviewWidth
	}

	runners := []orchestrator.Runner{
		&transcribeRunner{d: d, budget: opts.TranscribePollBudget},
		&captionRunner{d: d, windowing: opts.Windowing, previewWidth: opts.PreviewWidth},
		&brollRunner{d: d, maxRunes: opts.PromptMaxRunes},
		&compositeRunner{d: d, overlaySeconds: opts.BRollOverlaySeconds},
	}
	engine, err := orchestrator.NewEngine(d.Log, runners, policies)
	if err != nil {
		return nil, err
	}
	return &Pipeline{engine: engine}, nil
}

func (p *Pipeline) Type() string { return domain.JobTypeVideoEnhance }

func (p *Pipeline) Run(jc *runtime.Context) error {
	return p.engine.Advance(jc)
}

// loadTranscript fetches and decodes the transcription stage artifact.
// A missing artifact ref or a vanished object is permanent; read errors
// are not.
func loadTranscript(jc *runtime.Context, store gcs.Store) (*domain.Transcript, orchestrator.StageOutcome, bool) {
	ref, ok := jc.Job.Artifact(domain.StageTranscribing)
	if !ok {
		return nil, orchestrator.Terminal(fmt.Errorf("transcript artifact missing")), false
	}
	data, err := store.Get(jc.Ctx, ref)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, orchestrator.Terminal(fmt.Errorf("transcript artifact %s gone: %w", ref, err)), false
		}
		return nil, orchestrator.Retryable(err), false
	}
	var tr domain.Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, orchestrator.Terminal(fmt.Errorf("decode transcript %s: %w", ref, err)), false
	}
	return &tr, orchestrator.StageOutcome{}, true
}
