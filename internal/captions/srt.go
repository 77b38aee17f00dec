package captions

import (
	"fmt"
	"strings"

	"github.com/clipso/clipso-backend/internal/domain"
)

// SRT renders windows as a SubRip file suitable for ffmpeg burn-in.
func SRT(windows []domain.CaptionWindow) string {
	var b strings.Builder
	for i, w := range windows {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(w.StartMS), srtTimestamp(w.EndMS), w.Text)
	}
	return b.String()
}

func srtTimestamp(ms int64) string {
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
