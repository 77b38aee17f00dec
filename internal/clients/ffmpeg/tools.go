package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipso/clipso-backend/internal/pkg/ctxutil"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

var (
	// ErrUnsupportedFormat marks inputs ffmpeg cannot decode. Terminal:
	// retrying the same bytes cannot succeed.
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrRender marks any other render failure; retryable.
	ErrRender = errors.New("render failed")
)

// RenderInput describes one compositing run. BRollPath empty means
// degraded mode: captions only, no overlay. Original audio is always
// stream-copied, never re-encoded.
type RenderInput struct {
	VideoPath    string
	SubtitlePath string
	// SubtitleStyle is a libass force_style override (see
	// captions.Style.ForceStyle). Empty means libass defaults.
	SubtitleStyle string
	BRollPath     string
	BRollSeconds  float64
	OutPath       string
}

// Tools is the glue around the ffmpeg binary. Synchronous and
// deterministic; called from worker jobs, never request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error
	// ExtractAudio pulls a mono 16kHz FLAC track out of a video, the
	// format the transcription provider consumes directly.
	ExtractAudio(ctx context.Context, videoPath, outPath string) (string, error)
	Render(ctx context.Context, in RenderInput) (string, error)
	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
}

type tools struct {
	log            *logger.Logger
	ffmpegPath     string
	workRoot       string
	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:            log.With("service", "FFmpegTools"),
		ffmpegPath:     "ffmpeg",
		workRoot:       filepath.Join(os.TempDir(), "clipso-media"),
		defaultTimeout: 10 * time.Minute,
	}
}

func (t *tools) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(t.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", t.ffmpegPath, err)
	}
	if err := os.MkdirAll(t.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (t *tools) ExtractAudio(ctx context.Context, videoPath, outPath string) (string, error) {
	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "flac",
		outPath,
	}
	if err := t.run(ctx, args); err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return outPath, nil
}

func (t *tools) Render(ctx context.Context, in RenderInput) (string, error) {
	if in.VideoPath == "" || in.SubtitlePath == "" || in.OutPath == "" {
		return "", fmt.Errorf("%w: missing render inputs", ErrRender)
	}
	if err := t.run(ctx, buildRenderArgs(in)); err != nil {
		return "", err
	}
	return in.OutPath, nil
}

func buildRenderArgs(in RenderInput) []string {
	brollSeconds := in.BRollSeconds
	if brollSeconds <= 0 {
		brollSeconds = 4
	}
	sub := "subtitles=" + escapeFilterPath(in.SubtitlePath)
	if in.SubtitleStyle != "" {
		sub += ":force_style='" + in.SubtitleStyle + "'"
	}

	if in.BRollPath != "" {
		filter := fmt.Sprintf(
			"[1:v]scale=iw*0.35:-1[br];[0:v][br]overlay=W-w-24:24:enable='between(t,0,%.1f)'[v0];[v0]%s[vout]",
			brollSeconds, sub,
		)
		return []string{
			"-y",
			"-i", in.VideoPath,
			"-i", in.BRollPath,
			"-filter_complex", filter,
			"-map", "[vout]",
			"-map", "0:a?",
			"-c:a", "copy",
			in.OutPath,
		}
	}
	return []string{
		"-y",
		"-i", in.VideoPath,
		"-vf", sub,
		"-c:a", "copy",
		in.OutPath,
	}
}

func (t *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	if err := os.MkdirAll(t.workRoot, 0o755); err != nil {
		return "", nil, fmt.Errorf("create workRoot: %w", err)
	}
	f, err := os.CreateTemp(t.workRoot, "artifact-*"+suffix)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}

func (t *tools) run(ctx context.Context, args []string) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, t.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	t.log.Debug("running ffmpeg", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return classifyFFmpegError(err, stderr.String())
	}
	return nil
}

func classifyFFmpegError(err error, stderr string) error {
	tail := stderr
	if len(tail) > 600 {
		tail = tail[len(tail)-600:]
	}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "invalid data found when processing input"),
		strings.Contains(lower, "unknown format"),
		strings.Contains(lower, "decoder not found"),
		strings.Contains(lower, "unsupported codec"):
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, tail)
	default:
		return fmt.Errorf("%w: %v: %s", ErrRender, err, tail)
	}
}

// escapeFilterPath quotes a path for use inside an ffmpeg filter graph,
// where ':' and ''' are syntax.
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, `'`, `\'`)
	p = strings.ReplaceAll(p, `:`, `\:`)
	return "'" + p + "'"
}
