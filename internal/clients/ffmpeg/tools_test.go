package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBuildRenderArgsAppliesSubtitleStyle(t *testing.T) {
	in := RenderInput{
		VideoPath:     "/tmp/in.mp4",
		SubtitlePath:  "/tmp/captions.srt",
		SubtitleStyle: "FontSize=54,PrimaryColour=&H0000D4FF",
		OutPath:       "/tmp/out.mp4",
	}
	args := strings.Join(buildRenderArgs(in), " ")
	want := "subtitles='/tmp/captions.srt':force_style='FontSize=54,PrimaryColour=&H0000D4FF'"
	if !strings.Contains(args, want) {
		t.Fatalf("args %q missing styled subtitles filter %q", args, want)
	}

	in.BRollPath = "/tmp/broll.png"
	args = strings.Join(buildRenderArgs(in), " ")
	if !strings.Contains(args, want) {
		t.Fatalf("overlay args %q missing styled subtitles filter %q", args, want)
	}
	if !strings.Contains(args, "overlay=") {
		t.Fatalf("overlay args %q missing overlay filter", args)
	}
}

func TestBuildRenderArgsWithoutStyle(t *testing.T) {
	args := strings.Join(buildRenderArgs(RenderInput{
		VideoPath:    "/tmp/in.mp4",
		SubtitlePath: "/tmp/captions.srt",
		OutPath:      "/tmp/out.mp4",
	}), " ")
	if strings.Contains(args, "force_style") {
		t.Fatalf("args %q carry a force_style without a preset", args)
	}
}

func TestClassifyFFmpegError(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   error
	}{
		{"bad_container", "pipe:0: Invalid data found when processing input", ErrUnsupportedFormat},
		{"missing_decoder", "Decoder not found for codec", ErrUnsupportedFormat},
		{"generic", "Error while filtering: out of memory", ErrRender},
		{"empty", "", ErrRender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyFFmpegError(fmt.Errorf("exit status 1"), tc.stderr)
			if !errors.Is(got, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath(`/tmp/a:b's.srt`)
	want := `'/tmp/a\:b\'s.srt'`
	if got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}
