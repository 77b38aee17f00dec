package app

import (
	"time"

	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/utils"
)

type Config struct {
	Port string

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerStaleRunning time.Duration

	TranscribePollBudget   time.Duration
	TranscribePollInterval time.Duration
	BRollMaxAttempts       int
	CompositeMaxAttempts   int

	CaptionMaxWindowMS int64
	CaptionMaxChars    int
	CaptionStylePath   string

	BRollPromptMaxRunes int
	BRollOverlaySeconds float64
	PreviewWidth        int
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port: utils.GetEnv("PORT", "8080", log),

		WorkerConcurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		WorkerPollInterval: utils.GetEnvAsDuration("WORKER_POLL_INTERVAL", time.Second, log),
		WorkerStaleRunning: utils.GetEnvAsDuration("WORKER_STALE_RUNNING", 2*time.Minute, log),

		TranscribePollBudget:   utils.GetEnvAsDuration("TRANSCRIBE_POLL_BUDGET", 5*time.Minute, log),
		TranscribePollInterval: utils.GetEnvAsDuration("TRANSCRIBE_POLL_INTERVAL", 5*time.Second, log),
		BRollMaxAttempts:       utils.GetEnvAsInt("BROLL_MAX_ATTEMPTS", 3, log),
		CompositeMaxAttempts:   utils.GetEnvAsInt("COMPOSITE_MAX_ATTEMPTS", 3, log),

		CaptionMaxWindowMS: int64(utils.GetEnvAsInt("CAPTION_MAX_WINDOW_MS", 4000, log)),
		CaptionMaxChars:    utils.GetEnvAsInt("CAPTION_MAX_CHARS", 72, log),
		CaptionStylePath:   utils.GetEnv("CAPTION_STYLE_PATH", "", log),

		BRollPromptMaxRunes: utils.GetEnvAsInt("BROLL_PROMPT_MAX_RUNES", 160, log),
		BRollOverlaySeconds: float64(utils.GetEnvAsInt("BROLL_OVERLAY_SECONDS", 4, log)),
		PreviewWidth:        utils.GetEnvAsInt("CAPTION_PREVIEW_WIDTH", 1280, log),
	}
}
