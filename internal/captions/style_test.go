package captions

import (
	"strings"
	"testing"
)

func TestForceStyleCarriesPreset(t *testing.T) {
	got := Style{
		Name:         "bold",
		FontPath:     "/fonts/Inter-Bold.ttf",
		FontSize:     54,
		FillColor:    "#FFD400",
		StrokeColor:  "#1A1A1A",
		StrokeWidth:  3,
		MarginBottom: 64,
	}.ForceStyle()

	for _, want := range []string{
		"FontSize=54",
		"FontName=Inter-Bold",
		"PrimaryColour=&H0000D4FF",
		"OutlineColour=&H001A1A1A",
		"Outline=3",
		"MarginV=64",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("force_style %q missing %q", got, want)
		}
	}
}

func TestForceStyleDropsUnparsableColor(t *testing.T) {
	got := Style{FontSize: 42, FillColor: "white"}.ForceStyle()
	if strings.Contains(got, "PrimaryColour") {
		t.Fatalf("force_style %q carries a colour from unparsable input", got)
	}
	if !strings.Contains(got, "FontSize=42") {
		t.Fatalf("force_style %q missing font size", got)
	}
}

func TestAssColor(t *testing.T) {
	if c, ok := assColor("#FFFFFF"); !ok || c != "&H00FFFFFF" {
		t.Fatalf("white: got %q ok=%v", c, ok)
	}
	if c, ok := assColor("#FF0000"); !ok || c != "&H000000FF" {
		t.Fatalf("red: got %q ok=%v", c, ok)
	}
	if _, ok := assColor("#FFF"); ok {
		t.Fatal("short form accepted")
	}
}
