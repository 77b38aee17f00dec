package captions

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

// Layout wraps caption text against real font metrics so the burned-in
// captions never run off frame. The same measurement drives the preview
// strip rendered next to the caption track artifact.
type Layout struct {
	style Style
	face  font.Face
}

func NewLayout(style Style) (*Layout, error) {
	var face font.Face
	if style.FontPath != "" {
		f, err := loadFontFace(style.FontPath, style.FontSize)
		if err != nil {
			return nil, err
		}
		face = f
	}
	return &Layout{style: style, face: face}, nil
}

// WrapText splits text into lines that each fit within maxWidth pixels,
// breaking on spaces. A single word wider than the limit gets its own line;
// truncating spoken words is worse than a slightly wide caption.
func (l *Layout) WrapText(text string, maxWidth float64) []string {
	dc := l.newContext(1, 1)
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		candidate := cur + " " + w
		if width, _ := dc.MeasureString(candidate); width > maxWidth {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur = candidate
	}
	return append(lines, cur)
}

// RenderPreview draws one caption window the way the compositor will show
// it and returns PNG bytes. Stored alongside the caption track so the UI
// can show styling before the final render lands.
func (l *Layout) RenderPreview(text string, videoWidth int) ([]byte, error) {
	maxWidth := float64(videoWidth) * l.style.MaxWidthFrac
	lines := l.WrapText(text, maxWidth)

	lineHeight := l.style.FontSize * 1.4
	height := int(lineHeight*float64(len(lines))) + l.style.MarginBottom
	if height <= 0 {
		height = int(lineHeight) + 16
	}
	dc := l.newContext(videoWidth, height)

	y := lineHeight
	for _, line := range lines {
		x := float64(videoWidth) / 2
		if l.style.StrokeWidth > 0 {
			dc.SetHexColor(strokeOr(l.style.StrokeColor))
			n := l.style.StrokeWidth
			for dx := -n; dx <= n; dx++ {
				for dy := -n; dy <= n; dy++ {
					if dx == 0 && dy == 0 {
						continue
					}
					dc.DrawStringAnchored(line, x+dx, y+dy, 0.5, 0.5)
				}
			}
		}
		dc.SetHexColor(fillOr(l.style.FillColor))
		dc.DrawStringAnchored(line, x, y, 0.5, 0.5)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode caption preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (l *Layout) newContext(w, h int) *gg.Context {
	dc := gg.NewContext(w, h)
	if l.face != nil {
		dc.SetFontFace(l.face)
	}
	return dc
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", fontPath, err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", fontPath, err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		Hinting: font.HintingNone,
	}), nil
}

func fillOr(c string) string {
	if c == "" {
		return "#FFFFFF"
	}
	return c
}

func strokeOr(c string) string {
	if c == "" {
		return "#000000"
	}
	return c
}
