package captions

import (
	"strings"
	"testing"

	"github.com/clipso/clipso-backend/internal/domain"
)

func TestSRTFormat(t *testing.T) {
	windows := []domain.CaptionWindow{
		{Text: "hi there", StartMS: 0, EndMS: 1100},
		{Text: "next line", StartMS: 61500, EndMS: 63250},
	}
	got := SRT(windows)
	want := "1\n00:00:00,000 --> 00:00:01,100\nhi there\n\n" +
		"2\n00:01:01,500 --> 00:01:03,250\nnext line\n\n"
	if got != want {
		t.Fatalf("srt mismatch:\nwant=%q\ngot=%q", want, got)
	}
}

func TestSRTEmpty(t *testing.T) {
	if got := SRT(nil); strings.TrimSpace(got) != "" {
		t.Fatalf("want empty srt, got %q", got)
	}
}
