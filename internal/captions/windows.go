package captions

import (
	"strings"
	"unicode/utf8"

	"github.com/clipso/clipso-backend/internal/domain"
)

// WindowOptions bounds a single caption window. Both limits are inclusive:
// a window closes when adding the next token would push it past either one.
type WindowOptions struct {
	MaxWindowMS int64
	MaxChars    int
}

func DefaultWindowOptions() WindowOptions {
	return WindowOptions{MaxWindowMS: 4000, MaxChars: 72}
}

// BuildWindows groups tokens into display windows.
//
// Every token lands in exactly one window, in order, so windows never
// overlap and the only gaps between windows are the transcript's own
// silences. Each window's interval is [first.StartMS, last.EndMS].
func BuildWindows(tokens []domain.Token, opts WindowOptions) []domain.CaptionWindow {
	if opts.MaxWindowMS <= 0 {
		opts.MaxWindowMS = DefaultWindowOptions().MaxWindowMS
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultWindowOptions().MaxChars
	}

	var out []domain.CaptionWindow
	var cur []domain.Token
	curChars := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		parts := make([]string, 0, len(cur))
		for _, tok := range cur {
			parts = append(parts, tok.Text)
		}
		out = append(out, domain.CaptionWindow{
			Text:    strings.Join(parts, " "),
			StartMS: cur[0].StartMS,
			EndMS:   cur[len(cur)-1].EndMS,
		})
		cur = nil
		curChars = 0
	}

	for _, tok := range tokens {
		if tok.Text == "" {
			continue
		}
		// MaxChars counts displayed characters, so runes, not bytes.
		tokChars := utf8.RuneCountInString(tok.Text)
		if len(cur) > 0 {
			nextChars := curChars + 1 + tokChars
			if tok.EndMS-cur[0].StartMS > opts.MaxWindowMS || nextChars > opts.MaxChars {
				flush()
			}
		}
		if len(cur) == 0 {
			curChars = tokChars
		} else {
			curChars += 1 + tokChars
		}
		cur = append(cur, tok)
	}
	flush()
	return out
}
