package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codemode-ai/codemode/pkg/errors"
)

const defaultEmbedTimeout = 30 * time.Second

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. It works
// against api.openai.com as well as local servers (Ollama, llama.cpp,
// vLLM) that speak the same shape.
type OpenAIEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.client = client
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.apiKey = key
	}
}

// NewOpenAIEmbedder creates an embedder for the given endpoint and model.
// dimension must match what the model actually returns; a mismatch is
// reported on the first Embed call.
func NewOpenAIEmbedder(baseURL, model string, dimension int, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		return nil, errors.NewMisconfigured("embedding endpoint URL is empty", nil)
	}
	if dimension <= 0 {
		return nil, errors.Newf(errors.KindMisconfigured, "embedding dimension %d is not positive", dimension)
	}
	e := &OpenAIEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: defaultEmbedTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ModelInfo implements Embedder.
func (e *OpenAIEmbedder) ModelInfo() ModelInfo {
	return ModelInfo{Name: e.model, Dimension: e.dimension, Version: "1"}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder. Transient HTTP failures (5xx, 429, network
// errors) are retried with exponential backoff; 4xx responses other than
// 429 fail immediately.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, err
	}

	operation := func() ([]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("embedding endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, backoff.Permanent(errors.Newf(errors.KindUnavailable,
				"embedding endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
		}

		var parsed embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decoding embedding response: %w", err))
		}
		if len(parsed.Data) == 0 {
			return nil, backoff.Permanent(errors.NewUnavailable("embedding response contained no data", nil))
		}
		vec := parsed.Data[0].Embedding
		if len(vec) != e.dimension {
			return nil, backoff.Permanent(errors.Newf(errors.KindMisconfigured,
				"model %s returned dimension %d, configured %d", e.model, len(vec), e.dimension))
		}
		return vec, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
}
