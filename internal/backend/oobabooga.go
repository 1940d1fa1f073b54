package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nettleship/rolecall/internal/core"
)

// Oobabooga talks to a text-generation-webui server over its legacy
// blocking API.
type Oobabooga struct {
	endpoint string
	client   *http.Client
}

func NewOobabooga(endpoint string, timeout time.Duration) *Oobabooga {
	return &Oobabooga{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (o *Oobabooga) Name() string {
	return "oobabooga"
}

type oobaRequest struct {
	Prompt            string   `json:"prompt"`
	MaxNewTokens      int      `json:"max_new_tokens"`
	DoSample          bool     `json:"do_sample"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	TopK              int      `json:"top_k"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	TruncationLength  int      `json:"truncation_length"`
	StoppingStrings   []string `json:"stopping_strings,omitempty"`
}

// Generate calls /api/v1/generate and returns the raw completion text.
func (o *Oobabooga) Generate(ctx context.Context, req core.GenerationRequest) (string, error) {
	payload := oobaRequest{
		Prompt:            req.Prompt,
		MaxNewTokens:      req.Sampling.MaxNewTokens,
		DoSample:          true,
		Temperature:       req.Sampling.Temperature,
		TopP:              req.Sampling.TopP,
		TopK:              req.Sampling.TopK,
		RepetitionPenalty: req.Sampling.RepetitionPenalty,
		TruncationLength:  req.ContextSize,
		StoppingStrings:   req.StopSequences,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", statusError(httpResp)
	}

	var parsed resultsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}

	if len(parsed.Results) == 0 {
		return "", errors.New("no results in response")
	}

	return parsed.Results[0].Text, nil
}

// CountTokens calls /api/v1/token-count, falling back to an estimate when
// the endpoint is unreachable.
func (o *Oobabooga) CountTokens(text string) (int, error) {
	body, _ := json.Marshal(map[string]any{"prompt": text})

	httpResp, err := o.client.Post(o.endpoint+"/api/v1/token-count", "application/json", bytes.NewReader(body))
	if err != nil {
		return estimateTokens(text), nil
	}
	defer httpResp.Body.Close()

	var payload struct {
		Results []struct {
			Tokens int `json:"tokens"`
		} `json:"results"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&payload); err != nil {
		return estimateTokens(text), nil
	}

	if len(payload.Results) == 0 || payload.Results[0].Tokens <= 0 {
		return estimateTokens(text), nil
	}

	return payload.Results[0].Tokens, nil
}
