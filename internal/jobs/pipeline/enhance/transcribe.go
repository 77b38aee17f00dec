package enhance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipso/clipso-backend/internal/clients/ffmpeg"
	"github.com/clipso/clipso-backend/internal/clients/gcp"
	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/orchestrator"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
)

// StageMeta keys the transcribe runner persists between claims: the
// provider operation token and the wall-clock start of polling.
const (
	metaTranscribeOp    = "transcribe_op"
	metaTranscribeStart = "transcribe_started_at"
)

// transcribeRunner drives the only provider-async stage. First claim:
// extract audio, upload it, start the provider job, record the operation
// token. Later claims: poll the token until done, failed, or the poll
// budget runs out.
type transcribeRunner struct {
	d      Deps
	budget time.Duration
}

func (r *transcribeRunner) Stage() domain.Stage { return domain.StageTranscribing }

func (r *transcribeRunner) Run(jc *runtime.Context) orchestrator.StageOutcome {
	if ref, ok := jc.Job.Artifact(r.Stage()); ok {
		return orchestrator.Success(ref)
	}
	meta := jc.Job.StageMetaMap()
	if token := meta[metaTranscribeOp]; token != "" {
		return r.poll(jc, meta, token)
	}
	return r.start(jc, meta)
}

func (r *transcribeRunner) start(jc *runtime.Context, meta map[string]string) orchestrator.StageOutcome {
	audioRef, err := r.ensureAudio(jc)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) || errors.Is(err, ffmpeg.ErrUnsupportedFormat) {
			return orchestrator.Terminal(err)
		}
		return orchestrator.Retryable(err)
	}

	token, err := r.d.Transcriber.Start(jc.Ctx, r.d.Store.URI(audioRef))
	if err != nil {
		if gcp.Transient(err) {
			return orchestrator.Retryable(err)
		}
		return orchestrator.Terminal(err)
	}

	meta[metaTranscribeOp] = token
	meta[metaTranscribeStart] = time.Now().UTC().Format(time.RFC3339)
	r.saveMeta(jc, meta)
	return orchestrator.Retryable(errTranscriptionPending)
}

func (r *transcribeRunner) poll(jc *runtime.Context, meta map[string]string, token string) orchestrator.StageOutcome {
	started, err := time.Parse(time.RFC3339, meta[metaTranscribeStart])
	if err != nil {
		// Lost or corrupt start marker. Restart the budget clock rather
		// than polling unbounded without one.
		started = time.Now().UTC()
		meta[metaTranscribeStart] = started.Format(time.RFC3339)
		r.saveMeta(jc, meta)
	}
	if elapsed := time.Since(started); elapsed > r.budget {
		return orchestrator.Terminal(fmt.Errorf(
			"transcription still pending after %s, budget %s exceeded", elapsed.Round(time.Second), r.budget))
	}

	poll, err := r.d.Transcriber.Poll(jc.Ctx, token)
	if err != nil {
		return orchestrator.Retryable(err)
	}
	switch poll.Status {
	case gcp.TranscribePending:
		return orchestrator.Retryable(errTranscriptionPending)
	case gcp.TranscribeFailed:
		return orchestrator.Terminal(fmt.Errorf("transcription rejected by provider: %s", poll.Reason))
	}

	tr := buildTranscript(poll.Tokens)
	raw, err := json.Marshal(tr)
	if err != nil {
		return orchestrator.Terminal(fmt.Errorf("encode transcript: %w", err))
	}
	key := gcs.ArtifactKey(jc.Job.ID.String(), string(r.Stage()), ".json")
	ref, err := r.d.Store.Put(jc.Ctx, key, raw, "application/json")
	if err != nil {
		return orchestrator.Retryable(err)
	}
	return orchestrator.Success(ref)
}

// ensureAudio materializes the mono FLAC track the provider consumes and
// returns its bucket key. Keyed per job, so a re-run finds it already
// uploaded and skips the extraction entirely.
func (r *transcribeRunner) ensureAudio(jc *runtime.Context) (string, error) {
	key := gcs.ArtifactKey(jc.Job.ID.String(), "audio", ".flac")
	exists, err := r.d.Store.Exists(jc.Ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}

	src, err := r.d.Store.Get(jc.Ctx, jc.Job.SourceRef)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return "", fmt.Errorf("source video %s: %w", jc.Job.SourceRef, err)
		}
		return "", err
	}
	videoPath, cleanup, err := r.d.Media.WriteTempFile(jc.Ctx, src, sourceExt(jc.Job.SourceRef))
	if err != nil {
		return "", err
	}
	defer cleanup()

	audioPath := videoPath + ".flac"
	defer os.Remove(audioPath)
	jc.Heartbeat()
	if _, err := r.d.Media.ExtractAudio(jc.Ctx, videoPath, audioPath); err != nil {
		return "", err
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}
	return r.d.Store.Put(jc.Ctx, key, audio, "audio/flac")
}

func (r *transcribeRunner) saveMeta(jc *runtime.Context, meta map[string]string) {
	raw := domain.MarshalJSONB(meta)
	_ = jc.Update(map[string]interface{}{"stage_meta": raw})
	jc.Job.StageMeta = raw
}

func buildTranscript(tokens []domain.Token) domain.Transcript {
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		words = append(words, tok.Text)
	}
	return domain.Transcript{
		Text:   strings.Join(words, " "),
		Tokens: tokens,
	}
}

func sourceExt(ref string) string {
	if ext := filepath.Ext(ref); ext != "" {
		return ext
	}
	return ".mp4"
}
