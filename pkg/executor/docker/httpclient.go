package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codemode-ai/codemode/pkg/errors"
)

// sessionClient talks to one codemode container service over HTTP.
type sessionClient struct {
	baseURL   string
	authToken string
	sessionID string
	client    *http.Client
}

func newSessionClient(baseURL, authToken, sessionID string) *sessionClient {
	return &sessionClient{
		baseURL:   baseURL,
		authToken: authToken,
		sessionID: sessionID,
		client:    &http.Client{},
	}
}

// waitHealthy polls /health until the service answers. Health is the one
// unauthenticated endpoint, so this also works before tokens are wired.
func (c *sessionClient) waitHealthy(ctx context.Context, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("health returned %d", resp.StatusCode)
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(within),
	)
	if err != nil {
		return errors.NewUnavailable("container service did not become healthy", err)
	}
	return nil
}

// post sends a JSON request and decodes the JSON response into out. A nil
// out discards the body.
func (c *sessionClient) post(ctx context.Context, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternal("encoding request", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return errors.NewInternal("building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.sessionID != "" {
		req.Header.Set("X-Session-ID", c.sessionID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewInterpreterDied("container service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewInternal("reading response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewInternal("decoding response", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	message := string(body)
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		message = wire.Error
	}
	switch code {
	case http.StatusUnauthorized:
		return errors.NewAuthInvalid(message, nil)
	case http.StatusServiceUnavailable:
		return errors.NewUnavailable(message, nil)
	case http.StatusNotFound:
		return errors.NewNotFound(message, nil)
	default:
		return errors.Newf(errors.KindCallFailed, "container service returned %d: %s", code, message)
	}
}
