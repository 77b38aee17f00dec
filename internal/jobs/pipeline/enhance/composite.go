package enhance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/clipso/clipso-backend/internal/clients/ffmpeg"
	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/orchestrator"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
)

// compositeRunner burns the caption track into the source video, overlays
// the b-roll still when one exists, and uploads the final deliverable.
// One code path serves both the full and the degraded job.
type compositeRunner struct {
	d              Deps
	overlaySeconds float64
}

func (r *compositeRunner) Stage() domain.Stage { return domain.StageCompositing }

func (r *compositeRunner) Run(jc *runtime.Context) orchestrator.StageOutcome {
	job := jc.Job
	if ref, ok := job.Artifact(r.Stage()); ok {
		return orchestrator.Success(ref)
	}

	track, bad, ok := r.loadTrack(jc)
	if !ok {
		return bad
	}
	src, err := r.d.Store.Get(jc.Ctx, job.SourceRef)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return orchestrator.Terminal(fmt.Errorf("source video %s gone: %w", job.SourceRef, err))
		}
		return orchestrator.Retryable(err)
	}

	videoPath, cleanVideo, err := r.d.Media.WriteTempFile(jc.Ctx, src, sourceExt(job.SourceRef))
	if err != nil {
		return orchestrator.Retryable(err)
	}
	defer cleanVideo()
	subPath, cleanSub, err := r.d.Media.WriteTempFile(jc.Ctx, []byte(track.SRT), ".srt")
	if err != nil {
		return orchestrator.Retryable(err)
	}
	defer cleanSub()

	brollPath, cleanBRoll, bad := r.stageBRoll(jc)
	if bad.Kind != "" {
		return bad
	}
	if cleanBRoll != nil {
		defer cleanBRoll()
	}

	style, ok := r.d.Styles.Get(track.Style)
	if !ok {
		style = r.d.Styles.Default()
	}

	outPath := videoPath + ".out.mp4"
	defer os.Remove(outPath)
	jc.Heartbeat()
	if _, err := r.d.Media.Render(jc.Ctx, ffmpeg.RenderInput{
		VideoPath:     videoPath,
		SubtitlePath:  subPath,
		SubtitleStyle: style.ForceStyle(),
		BRollPath:     brollPath,
		BRollSeconds:  r.overlaySeconds,
		OutPath:       outPath,
	}); err != nil {
		if errors.Is(err, ffmpeg.ErrUnsupportedFormat) {
			return orchestrator.Terminal(err)
		}
		return orchestrator.Retryable(err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return orchestrator.Retryable(err)
	}
	key := gcs.ArtifactKey(job.ID.String(), string(r.Stage()), ".mp4")
	ref, err := r.d.Store.Put(jc.Ctx, key, out, "video/mp4")
	if err != nil {
		return orchestrator.Retryable(err)
	}
	return orchestrator.Success(ref)
}

func (r *compositeRunner) loadTrack(jc *runtime.Context) (*domain.CaptionTrack, orchestrator.StageOutcome, bool) {
	ref, ok := jc.Job.Artifact(domain.StageCaptioning)
	if !ok {
		return nil, orchestrator.Terminal(fmt.Errorf("caption artifact missing")), false
	}
	data, err := r.d.Store.Get(jc.Ctx, ref)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, orchestrator.Terminal(fmt.Errorf("caption artifact %s gone: %w", ref, err)), false
		}
		return nil, orchestrator.Retryable(err), false
	}
	var track domain.CaptionTrack
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, orchestrator.Terminal(fmt.Errorf("decode caption track %s: %w", ref, err)), false
	}
	return &track, orchestrator.StageOutcome{}, true
}

// stageBRoll writes the overlay still to disk when the job has one. A
// degraded job, or one whose b-roll object has since vanished, composes
// without it.
func (r *compositeRunner) stageBRoll(jc *runtime.Context) (string, func(), orchestrator.StageOutcome) {
	ref, ok := jc.Job.Artifact(domain.StageGeneratingBRoll)
	if !ok || jc.Job.Degraded {
		return "", nil, orchestrator.StageOutcome{}
	}
	img, err := r.d.Store.Get(jc.Ctx, ref)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			r.d.Log.Warn("b-roll artifact gone, compositing without overlay",
				"job_id", jc.Job.ID, "ref", ref)
			return "", nil, orchestrator.StageOutcome{}
		}
		return "", nil, orchestrator.Retryable(err)
	}
	path, cleanup, err := r.d.Media.WriteTempFile(jc.Ctx, img, ".png")
	if err != nil {
		return "", nil, orchestrator.Retryable(err)
	}
	return path, cleanup, orchestrator.StageOutcome{}
}
