package openai

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name string
		code int
		want error
	}{
		{"ok", http.StatusOK, nil},
		{"rate_limited", http.StatusTooManyRequests, ErrRateLimited},
		{"bad_prompt", http.StatusBadRequest, ErrInvalidPrompt},
		{"moderation", http.StatusUnprocessableEntity, ErrInvalidPrompt},
		{"server_error", http.StatusInternalServerError, ErrProvider},
		{"bad_gateway", http.StatusBadGateway, ErrProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyStatus(tc.code, []byte(`{"error":{"message":"nope"}}`))
			if tc.want == nil {
				if err != nil {
					t.Fatalf("want nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("code %d: want %v, got %v", tc.code, tc.want, err)
			}
		})
	}
}

func TestProviderMessageFallsBackOnGarbage(t *testing.T) {
	if got := providerMessage([]byte("<html>")); got != "unrecognized error payload" {
		t.Fatalf("got %q", got)
	}
	if got := providerMessage([]byte(`{"error":{"message":"quota"}}`)); got != "quota" {
		t.Fatalf("got %q", got)
	}
}
