package enhance

import (
	"strings"
	"testing"
)

func TestDerivePromptFirstSentence(t *testing.T) {
	got := DerivePrompt("The quick brown fox jumps. Over the lazy dog.", 160)
	want := brollPromptPrefix + "The quick brown fox jumps"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDerivePromptTruncatesLongSentence(t *testing.T) {
	text := strings.Repeat("word ", 100)
	got := DerivePrompt(text, 20)
	excerpt := strings.TrimPrefix(got, brollPromptPrefix)
	if got == excerpt {
		t.Fatalf("prompt missing prefix: %q", got)
	}
	if n := len([]rune(excerpt)); n > 20 {
		t.Fatalf("excerpt is %d runes, want <= 20", n)
	}
}

func TestDerivePromptSentenceWinsWhenShorter(t *testing.T) {
	got := DerivePrompt("Short one. "+strings.Repeat("filler ", 50), 500)
	if want := brollPromptPrefix + "Short one"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDerivePromptCollapsesWhitespace(t *testing.T) {
	got := DerivePrompt("  hello   there\n friend  ", 160)
	if want := brollPromptPrefix + "hello there friend"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDerivePromptDeterministic(t *testing.T) {
	a := DerivePrompt("Consistency matters for retries.", 160)
	b := DerivePrompt("Consistency matters for retries.", 160)
	if a != b {
		t.Fatalf("same transcript produced different prompts: %q vs %q", a, b)
	}
}

func TestDerivePromptEmptyTranscript(t *testing.T) {
	if got := DerivePrompt("   ", 160); got != "" {
		t.Fatalf("expected empty prompt, got %q", got)
	}
	if got := DerivePrompt(".", 160); got != "" {
		t.Fatalf("expected empty prompt for bare punctuation, got %q", got)
	}
}
