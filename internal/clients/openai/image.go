package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/clipso/clipso-backend/internal/pkg/ctxutil"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/utils"
)

// Failure classes the image provider can report. The stage runner maps
// ErrRateLimited/ErrProvider to retryable outcomes and ErrInvalidPrompt
// to a terminal one.
var (
	ErrRateLimited   = errors.New("image provider rate limited")
	ErrInvalidPrompt = errors.New("image provider rejected prompt")
	ErrProvider      = errors.New("image provider error")
)

// ImageGenerator wraps one external call: text prompt in, raster image out.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type imageGenerator struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
}

func NewImageGenerator(log *logger.Logger) (ImageGenerator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "openai.ImageGenerator")

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing env var OPENAI_API_KEY")
	}
	return &imageGenerator{
		log:        slog,
		baseURL:    utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1", slog),
		apiKey:     apiKey,
		model:      utils.GetEnv("OPENAI_IMAGE_MODEL", "gpt-image-1", slog),
		size:       utils.GetEnv("OPENAI_IMAGE_SIZE", "1024x1024", slog),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (g *imageGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidPrompt)
	}

	body, _ := json.Marshal(imageRequest{
		Model:  g.model,
		Prompt: prompt,
		N:      1,
		Size:   g.size,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrProvider, err)
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: empty image payload", ErrProvider)
	}
	img, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrProvider, err)
	}
	g.log.Debug("image generated", "bytes", len(img))
	return img, nil
}

func classifyStatus(code int, raw []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d", ErrRateLimited, code)
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: http %d: %s", ErrInvalidPrompt, code, providerMessage(raw))
	default:
		return fmt.Errorf("%w: http %d: %s", ErrProvider, code, providerMessage(raw))
	}
}

func providerMessage(raw []byte) string {
	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	return "unrecognized error payload"
}
