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

// Kobold talks to a KoboldCPP server.
type Kobold struct {
	endpoint string
	client   *http.Client
}

func NewKobold(endpoint string, timeout time.Duration) *Kobold {
	return &Kobold{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (k *Kobold) Name() string {
	return "kobold"
}

type koboldRequest struct {
	Prompt           string   `json:"prompt"`
	UseStory         bool     `json:"use_story"`
	UseMemory        bool     `json:"use_memory"`
	UseAuthorsNote   bool     `json:"use_authors_note"`
	UseWorldInfo     bool     `json:"use_world_info"`
	MaxContextLength int      `json:"max_context_length"`
	MaxLength        int      `json:"max_length"`
	RepPen           float64  `json:"rep_pen"`
	RepPenRange      int      `json:"rep_pen_range"`
	RepPenSlope      float64  `json:"rep_pen_slope"`
	Temperature      float64  `json:"temperature"`
	TFS              float64  `json:"tfs"`
	TopA             float64  `json:"top_a"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	Typical          float64  `json:"typical"`
	SamplerOrder     []int    `json:"sampler_order"`
	StopSequence     []string `json:"stop_sequence,omitempty"`
}

type resultsResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Generate calls /api/v1/generate and returns the raw completion text.
func (k *Kobold) Generate(ctx context.Context, req core.GenerationRequest) (string, error) {
	payload := koboldRequest{
		Prompt:           req.Prompt,
		MaxContextLength: req.ContextSize,
		MaxLength:        req.Sampling.MaxNewTokens,
		RepPen:           req.Sampling.RepetitionPenalty,
		RepPenRange:      req.ContextSize,
		RepPenSlope:      0.3,
		Temperature:      req.Sampling.Temperature,
		TFS:              0.87,
		TopA:             0,
		TopK:             req.Sampling.TopK,
		TopP:             req.Sampling.TopP,
		Typical:          1,
		SamplerOrder:     []int{5, 0, 2, 3, 1, 4, 6},
		StopSequence:     req.StopSequences,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := k.client.Do(httpReq)
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

// CountTokens calls /api/extra/tokencount. Transport or decode failures
// fall back to an estimate so trimming keeps working.
func (k *Kobold) CountTokens(text string) (int, error) {
	body, _ := json.Marshal(map[string]any{"prompt": text})

	httpResp, err := k.client.Post(k.endpoint+"/api/extra/tokencount", "application/json", bytes.NewReader(body))
	if err != nil {
		return estimateTokens(text), nil
	}
	defer httpResp.Body.Close()

	var payload struct {
		Value int `json:"value"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&payload); err != nil {
		return estimateTokens(text), nil
	}

	if payload.Value <= 0 {
		return estimateTokens(text), nil
	}

	return payload.Value, nil
}
