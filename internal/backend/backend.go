// Package backend holds the HTTP clients for the supported
// text-generation services. Both speak a results-array completion API;
// they differ in payload shape and tokenize endpoint.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nettleship/rolecall/internal/config"
	"github.com/nettleship/rolecall/internal/core"
)

// Backend is the generation oracle: it produces a completion for an
// assembled prompt and counts tokens with the service's own tokenizer.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req core.GenerationRequest) (string, error)
	CountTokens(text string) (int, error)
}

// New selects the backend variant once, at configuration time.
func New(cfg config.BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case config.BackendKobold:
		return NewKobold(cfg.Endpoint, cfg.HTTPTimeout()), nil
	case config.BackendOobabooga:
		return NewOobabooga(cfg.Endpoint, cfg.HTTPTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", cfg.Kind)
	}
}

// estimateTokens is the fallback when the tokenize endpoint is not
// reachable. Rough, but keeps trimming working instead of failing a
// whole message.
func estimateTokens(text string) int {
	return len(text) / 4
}

func statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	if len(bodyBytes) > 0 {
		return errors.New(resp.Status + ": " + strings.TrimSpace(string(bodyBytes)))
	}

	return errors.New(resp.Status)
}
