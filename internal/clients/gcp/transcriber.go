package gcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/clipso/clipso-backend/internal/domain"
	"github.com/clipso/clipso-backend/internal/pkg/ctxutil"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/utils"
)

type TranscribeStatus string

const (
	TranscribePending TranscribeStatus = "pending"
	TranscribeDone    TranscribeStatus = "done"
	TranscribeFailed  TranscribeStatus = "failed"
)

// TranscriptionPoll is one observation of a provider-side transcription job.
type TranscriptionPoll struct {
	Status TranscribeStatus
	Tokens []domain.Token
	Reason string
}

// Transcriber wraps the asynchronous speech-to-text provider. Start kicks
// off a provider job for audio already in the bucket and returns an opaque
// token; Poll reports its state without blocking.
type Transcriber interface {
	Start(ctx context.Context, audioURI string) (string, error)
	Poll(ctx context.Context, jobToken string) (*TranscriptionPoll, error)
	Close() error
}

type transcriber struct {
	log          *logger.Logger
	client       *speech.Client
	languageCode string
}

func NewTranscriber(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Transcriber")

	c, err := speech.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &transcriber{
		log:          slog,
		client:       c,
		languageCode: utils.GetEnv("SPEECH_LANGUAGE_CODE", "en-US", slog),
	}, nil
}

func (t *transcriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *transcriber) Start(ctx context.Context, audioURI string) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               t.languageCode,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
			Encoding:                   inferEncoding(audioURI),
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioURI},
		},
	}
	op, err := t.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start transcription: %w", err)
	}
	t.log.Info("transcription started", "audio_uri", audioURI, "op", op.Name())
	return op.Name(), nil
}

func (t *transcriber) Poll(ctx context.Context, jobToken string) (*TranscriptionPoll, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	op := t.client.LongRunningRecognizeOperation(jobToken)
	resp, err := op.Poll(ctx)
	if err != nil {
		if Transient(err) {
			return nil, fmt.Errorf("poll transcription: %w", err)
		}
		// Provider rejected the job itself; surfaced as a failed poll,
		// not an error, so the caller classifies it terminally.
		return &TranscriptionPoll{Status: TranscribeFailed, Reason: err.Error()}, nil
	}
	if !op.Done() {
		return &TranscriptionPoll{Status: TranscribePending}, nil
	}
	return &TranscriptionPoll{Status: TranscribeDone, Tokens: tokensFromResponse(resp)}, nil
}

func tokensFromResponse(resp *speechpb.LongRunningRecognizeResponse) []domain.Token {
	if resp == nil {
		return nil
	}
	var out []domain.Token
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		for _, w := range r.Alternatives[0].Words {
			if w == nil || strings.TrimSpace(w.Word) == "" {
				continue
			}
			out = append(out, domain.Token{
				Text:    w.Word,
				StartMS: durMS(w.StartTime),
				EndMS:   durMS(w.EndTime),
			})
		}
	}
	return out
}

func durMS(d *durationpb.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Milliseconds()
}

func inferEncoding(audioURI string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(audioURI)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// Transient reports whether a provider error is worth retrying: network
// timeouts, rate limits, and temporary unavailability. Everything else
// (bad audio, bad config) is permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
			codes.Aborted, codes.Internal:
			return true
		}
		return false
	}
	// Non-gRPC errors here are i/o level; assume retryable.
	return true
}
