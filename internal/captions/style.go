package captions

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Style is one caption styling preset. Presets live in a YAML file so
// tuning text treatment does not require a deploy of the worker image.
type Style struct {
	Name         string  `yaml:"name"`
	FontPath     string  `yaml:"font_path"`
	FontSize     float64 `yaml:"font_size"`
	FillColor    string  `yaml:"fill_color"`
	StrokeColor  string  `yaml:"stroke_color"`
	StrokeWidth  float64 `yaml:"stroke_width"`
	MarginBottom int     `yaml:"margin_bottom"`
	MaxWidthFrac float64 `yaml:"max_width_frac"`
}

// ForceStyle renders the preset as a libass style override for ffmpeg's
// subtitles filter, so the burned-in captions carry the preset's font,
// colors, and stroke rather than libass defaults.
func (s Style) ForceStyle() string {
	parts := []string{fmt.Sprintf("FontSize=%d", int(s.FontSize))}
	if s.FontPath != "" {
		name := strings.TrimSuffix(filepath.Base(s.FontPath), filepath.Ext(s.FontPath))
		parts = append(parts, "FontName="+name)
	}
	if c, ok := assColor(s.FillColor); ok {
		parts = append(parts, "PrimaryColour="+c)
	}
	if c, ok := assColor(s.StrokeColor); ok {
		parts = append(parts, "OutlineColour="+c)
	}
	if s.StrokeWidth > 0 {
		parts = append(parts, fmt.Sprintf("Outline=%d", int(s.StrokeWidth)))
	}
	if s.MarginBottom > 0 {
		parts = append(parts, fmt.Sprintf("MarginV=%d", s.MarginBottom))
	}
	return strings.Join(parts, ",")
}

// assColor converts "#RRGGBB" to libass's &HAABBGGRR form. Unparsable
// colors are dropped so libass falls back to its default.
func assColor(hex string) (string, bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return "", false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return "", false
	}
	r, g, b := (v>>16)&0xFF, (v>>8)&0xFF, v&0xFF
	return fmt.Sprintf("&H00%02X%02X%02X", b, g, r), true
}

type styleFile struct {
	Default string  `yaml:"default"`
	Styles  []Style `yaml:"styles"`
}

// DefaultStyle is used when no preset file is configured.
func DefaultStyle() Style {
	return Style{
		Name:         "clean",
		FontSize:     42,
		FillColor:    "#FFFFFF",
		StrokeColor:  "#000000",
		StrokeWidth:  2,
		MarginBottom: 64,
		MaxWidthFrac: 0.9,
	}
}

// StyleSet holds the loaded presets and the configured default.
type StyleSet struct {
	defaultName string
	byName      map[string]Style
}

// LoadStyles reads a preset file. An empty path yields a set containing
// only the built-in default.
func LoadStyles(path string) (*StyleSet, error) {
	set := &StyleSet{
		defaultName: DefaultStyle().Name,
		byName:      map[string]Style{DefaultStyle().Name: DefaultStyle()},
	}
	if path == "" {
		return set, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read caption styles: %w", err)
	}
	var f styleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse caption styles: %w", err)
	}
	for _, s := range f.Styles {
		if s.Name == "" {
			return nil, fmt.Errorf("caption style missing name in %s", path)
		}
		if s.MaxWidthFrac <= 0 || s.MaxWidthFrac > 1 {
			s.MaxWidthFrac = DefaultStyle().MaxWidthFrac
		}
		if s.FontSize <= 0 {
			s.FontSize = DefaultStyle().FontSize
		}
		set.byName[s.Name] = s
	}
	if f.Default != "" {
		if _, ok := set.byName[f.Default]; !ok {
			return nil, fmt.Errorf("default caption style %q not defined", f.Default)
		}
		set.defaultName = f.Default
	}
	return set, nil
}

func (s *StyleSet) Default() Style {
	return s.byName[s.defaultName]
}

func (s *StyleSet) Get(name string) (Style, bool) {
	st, ok := s.byName[name]
	return st, ok
}
