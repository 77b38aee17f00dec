package enhance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clipso/clipso-backend/internal/captions"
	"github.com/clipso/clipso-backend/internal/clients/ffmpeg"
	"github.com/clipso/clipso-backend/internal/clients/gcp"
	"github.com/clipso/clipso-backend/internal/clients/openai"
	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

const testSourceRef = "uploads/src.mp4"

// ---- fakes ----

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: map[string][]byte{},
		puts:    map[string]int{},
	}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts[key]++
	return key, nil
}

func (s *fakeStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.objects[ref]; ok {
		return b, nil
	}
	return nil, pkgerrors.ErrNotFound
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) URI(ref string) string       { return "gs://test/" + ref }
func (s *fakeStore) PublicURL(ref string) string { return "https://cdn.test/" + ref }
func (s *fakeStore) Close() error                { return nil }

type fakeTranscriber struct {
	startCalls int
	pollCalls  int
	polls      []*gcp.TranscriptionPoll
}

func (f *fakeTranscriber) Start(context.Context, string) (string, error) {
	f.startCalls++
	return "op-1", nil
}

func (f *fakeTranscriber) Poll(context.Context, string) (*gcp.TranscriptionPoll, error) {
	f.pollCalls++
	if len(f.polls) == 0 {
		return &gcp.TranscriptionPoll{Status: gcp.TranscribePending}, nil
	}
	p := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return p, nil
}

func (f *fakeTranscriber) Close() error { return nil }

type fakeImages struct {
	calls int
	err   error
}

func (f *fakeImages) Generate(context.Context, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png-bytes"), nil
}

type fakeMedia struct {
	dir      string
	extracts int
	renders  []ffmpeg.RenderInput
}

func (m *fakeMedia) AssertReady(context.Context) error { return nil }

func (m *fakeMedia) ExtractAudio(_ context.Context, _, outPath string) (string, error) {
	m.extracts++
	if err := os.WriteFile(outPath, []byte("flac-audio"), 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

func (m *fakeMedia) Render(_ context.Context, in ffmpeg.RenderInput) (string, error) {
	m.renders = append(m.renders, in)
	if err := os.WriteFile(in.OutPath, []byte("composited"), 0o644); err != nil {
		return "", err
	}
	return in.OutPath, nil
}

func (m *fakeMedia) WriteTempFile(_ context.Context, data []byte, suffix string) (string, func(), error) {
	f, err := os.CreateTemp(m.dir, "t-*"+suffix)
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}

// ---- harness ----

type harness struct {
	pipeline    *Pipeline
	store       *fakeStore
	transcriber *fakeTranscriber
	images      *fakeImages
	media       *fakeMedia
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:       newFakeStore(),
		transcriber: &fakeTranscriber{},
		images:      &fakeImages{},
		media:       &fakeMedia{dir: t.TempDir()},
	}
	h.store.objects[testSourceRef] = []byte("video-bytes")

	p, err := New(Deps{
		Log:         logger.Nop(),
		Store:       h.store,
		Transcriber: h.transcriber,
		Images:      h.images,
		Media:       h.media,
	}, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.pipeline = p
	return h
}

func (h *harness) newContext(job *domain.EnhancementJob) *runtime.Context {
	return runtime.NewContext(context.Background(), nil, job, nil, nil, logger.Nop())
}

// drive plays the worker loop: advance, and if the job yielded back to the
// queue, reclaim and advance again until it settles.
func (h *harness) drive(t *testing.T, jc *runtime.Context) {
	t.Helper()
	for i := 0; i < 30; i++ {
		if err := h.pipeline.Run(jc); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if jc.Job.Status == domain.StatusCompleted || jc.Job.Status == domain.StatusFailed {
			return
		}
		jc.Job.Status = domain.StatusRunning
	}
	t.Fatalf("job never settled: status=%s stage=%s", jc.Job.Status, jc.Job.Stage)
}

func testTokens() []domain.Token {
	return []domain.Token{
		{Text: "hello", StartMS: 0, EndMS: 400},
		{Text: "world", StartMS: 400, EndMS: 900},
		{Text: "again", StartMS: 900, EndMS: 1400},
	}
}

// ---- tests ----

func TestPipelineHappyPath(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribePending},
		{Status: gcp.TranscribeDone, Tokens: testTokens()},
	}

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", job.Status, job.Error)
	}
	if job.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want completed", job.Stage)
	}
	if job.Degraded {
		t.Fatal("happy path marked degraded")
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	for _, stage := range domain.PipelineStages {
		if _, ok := job.Artifact(stage); !ok {
			t.Fatalf("missing artifact for stage %s", stage)
		}
	}
	if h.transcriber.startCalls != 1 {
		t.Fatalf("transcriber started %d times, want 1", h.transcriber.startCalls)
	}
	if h.images.calls != 1 {
		t.Fatalf("image generator called %d times, want 1", h.images.calls)
	}
	if len(h.media.renders) != 1 {
		t.Fatalf("rendered %d times, want 1", len(h.media.renders))
	}
	if h.media.renders[0].BRollPath == "" {
		t.Fatal("happy path rendered without b-roll overlay")
	}
	if h.media.renders[0].SubtitleStyle == "" {
		t.Fatal("render carries no caption style")
	}
	if errs := job.StageErrorsMap(); errs[string(domain.StageTranscribing)] != "" {
		t.Fatalf("pending poll recorded as stage error: %q", errs[string(domain.StageTranscribing)])
	}

	finalRef, _ := job.Artifact(domain.StageCompositing)
	if got := string(h.store.objects[finalRef]); got != "composited" {
		t.Fatalf("final artifact = %q, want composited output", got)
	}
}

func TestPipelineReAdvanceDoesNoExternalWork(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeDone, Tokens: testTokens()},
	}

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}

	starts, images, renders := h.transcriber.startCalls, h.images.calls, len(h.media.renders)

	// Completed job: advancing again is a no-op.
	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A stale reclaim mid-pipeline: every satisfied stage short-circuits
	// off its artifact, so the job completes with zero adapter calls.
	job.Status = domain.StatusRunning
	job.Stage = domain.StageTranscribing
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if h.transcriber.startCalls != starts || h.images.calls != images || len(h.media.renders) != renders {
		t.Fatalf("re-advance did external work: starts %d->%d images %d->%d renders %d->%d",
			starts, h.transcriber.startCalls, images, h.images.calls, renders, len(h.media.renders))
	}
}

func TestPipelinePreexistingArtifactsSkipAdapters(t *testing.T) {
	h := newHarness(t)

	job := domain.NewEnhancementJob(testSourceRef)
	job.Stage = domain.StageTranscribing
	job.Status = domain.StatusRunning

	transcript, _ := json.Marshal(domain.Transcript{Text: "hello world again", Tokens: testTokens()})
	trackRaw, _ := json.Marshal(domain.CaptionTrack{Style: "clean", SRT: "1\n00:00:00,000 --> 00:00:01,400\nhello world again\n\n"})
	h.store.objects["jobs/x/transcribing.json"] = transcript
	h.store.objects["jobs/x/captioning.json"] = trackRaw
	job.Artifacts = domain.MarshalJSONB(map[string]string{
		string(domain.StageTranscribing): "jobs/x/transcribing.json",
		string(domain.StageCaptioning):   "jobs/x/captioning.json",
	})

	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", job.Status, job.Error)
	}
	if h.transcriber.startCalls != 0 || h.transcriber.pollCalls != 0 {
		t.Fatalf("transcriber touched: starts=%d polls=%d", h.transcriber.startCalls, h.transcriber.pollCalls)
	}
	if h.media.extracts != 0 {
		t.Fatalf("audio extracted %d times for satisfied stage", h.media.extracts)
	}
	if h.images.calls != 1 {
		t.Fatalf("image generator called %d times, want 1", h.images.calls)
	}
}

func TestPipelineDegradesWhenImageBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeDone, Tokens: testTokens()},
	}
	h.images.err = openai.ErrProvider

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", job.Status, job.Error)
	}
	if !job.Degraded {
		t.Fatal("job not marked degraded")
	}
	if h.images.calls != 3 {
		t.Fatalf("image generator called %d times, want 3", h.images.calls)
	}
	if _, ok := job.Artifact(domain.StageGeneratingBRoll); ok {
		t.Fatal("degraded job has a b-roll artifact")
	}
	if _, ok := job.Artifact(domain.StageCompositing); !ok {
		t.Fatal("degraded job missing compositing artifact")
	}
	if len(h.media.renders) != 1 || h.media.renders[0].BRollPath != "" {
		t.Fatalf("degraded render inputs = %+v, want single render without b-roll", h.media.renders)
	}
	if errs := job.StageErrorsMap(); errs[string(domain.StageGeneratingBRoll)] == "" {
		t.Fatal("b-roll failure reason not recorded")
	}
}

func TestPipelineDegradesImmediatelyOnRejectedPrompt(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeDone, Tokens: testTokens()},
	}
	h.images.err = openai.ErrInvalidPrompt

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted || !job.Degraded {
		t.Fatalf("status=%s degraded=%v, want completed degraded", job.Status, job.Degraded)
	}
	if h.images.calls != 1 {
		t.Fatalf("rejected prompt retried: %d calls, want 1", h.images.calls)
	}
}

func TestPipelineFailsWhenProviderRejectsTranscription(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeFailed, Reason: "audio too noisy"},
	}

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, want failed", job.Stage)
	}
	if job.Error == "" {
		t.Fatal("failed job carries no error")
	}
	if h.images.calls != 0 || len(h.media.renders) != 0 {
		t.Fatalf("later stages ran after failure: images=%d renders=%d", h.images.calls, len(h.media.renders))
	}
}

func TestPipelineFailsWhenPollBudgetExceeded(t *testing.T) {
	h := newHarness(t)

	job := domain.NewEnhancementJob(testSourceRef)
	job.Stage = domain.StageTranscribing
	job.Status = domain.StatusRunning
	job.StageMeta = domain.MarshalJSONB(map[string]string{
		metaTranscribeOp:    "op-1",
		metaTranscribeStart: time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	})

	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if h.transcriber.pollCalls != 0 {
		t.Fatalf("polled %d times past the budget", h.transcriber.pollCalls)
	}
	if h.images.calls != 0 || len(h.media.renders) != 0 {
		t.Fatalf("later stages ran after budget failure: images=%d renders=%d", h.images.calls, len(h.media.renders))
	}
}

func TestPipelineBurnsPresetStyleIntoRender(t *testing.T) {
	h := newHarness(t)
	stylePath := filepath.Join(t.TempDir(), "captions.yaml")
	preset := `default: bold
styles:
  - name: bold
    font_size: 54
    fill_color: "#FFD400"
    stroke_color: "#1A1A1A"
    stroke_width: 3
    margin_bottom: 64
    max_width_frac: 0.85
`
	if err := os.WriteFile(stylePath, []byte(preset), 0o644); err != nil {
		t.Fatalf("write styles: %v", err)
	}
	styles, err := captions.LoadStyles(stylePath)
	if err != nil {
		t.Fatalf("LoadStyles: %v", err)
	}
	p, err := New(Deps{
		Log:         logger.Nop(),
		Store:       h.store,
		Transcriber: h.transcriber,
		Images:      h.images,
		Media:       h.media,
		Styles:      styles,
	}, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.pipeline = p
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeDone, Tokens: testTokens()},
	}

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", job.Status, job.Error)
	}
	if len(h.media.renders) != 1 {
		t.Fatalf("rendered %d times, want 1", len(h.media.renders))
	}
	got := h.media.renders[0].SubtitleStyle
	for _, want := range []string{"FontSize=54", "PrimaryColour=&H0000D4FF", "Outline=3"} {
		if !strings.Contains(got, want) {
			t.Fatalf("render style %q missing %q", got, want)
		}
	}
}

func TestPipelineRestartsPollClockWhenStartMarkerLost(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeDone, Tokens: testTokens()},
	}

	// An operation token without its start marker must not poll
	// unbounded: the budget clock restarts and is persisted.
	job := domain.NewEnhancementJob(testSourceRef)
	job.Stage = domain.StageTranscribing
	job.Status = domain.StatusRunning
	job.StageMeta = domain.MarshalJSONB(map[string]string{
		metaTranscribeOp: "op-1",
	})

	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", job.Status, job.Error)
	}
	if h.transcriber.startCalls != 0 || h.transcriber.pollCalls != 1 {
		t.Fatalf("transcriber calls: starts=%d polls=%d, want 0/1",
			h.transcriber.startCalls, h.transcriber.pollCalls)
	}
	marker := job.StageMetaMap()[metaTranscribeStart]
	if _, err := time.Parse(time.RFC3339, marker); err != nil {
		t.Fatalf("start marker %q not rewritten: %v", marker, err)
	}
}

func TestPipelineDegradesOnEmptyTranscriptPrompt(t *testing.T) {
	h := newHarness(t)
	h.transcriber.polls = []*gcp.TranscriptionPoll{
		{Status: gcp.TranscribeDone, Tokens: []domain.Token{{Text: ".", StartMS: 0, EndMS: 100}}},
	}

	job := domain.NewEnhancementJob(testSourceRef)
	jc := h.newContext(job)
	h.drive(t, jc)

	if job.Status != domain.StatusCompleted || !job.Degraded {
		t.Fatalf("status=%s degraded=%v, want completed degraded", job.Status, job.Degraded)
	}
	if h.images.calls != 0 {
		t.Fatalf("image generator called %d times for empty prompt", h.images.calls)
	}
}
