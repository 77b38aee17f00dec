package domain

// Token is one timestamped unit of recognized speech, word granularity.
type Token struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Transcript is the transcription stage artifact.
type Transcript struct {
	Text   string  `json:"text"`
	Tokens []Token `json:"tokens"`
}

// CaptionWindow is a contiguous run of tokens displayed together.
// Intervals come straight from the tokens: [Tokens[0].StartMS, Tokens[n-1].EndMS].
type CaptionWindow struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// CaptionTrack is the captioning stage artifact: the derived windows plus
// the rendered subtitle file fed to the compositor.
type CaptionTrack struct {
	Style   string          `json:"style"`
	Windows []CaptionWindow `json:"windows"`
	SRT     string          `json:"srt"`
}
