package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultWebhookTimeout = 10 * time.Second

	// IdempotencyKeyHeader carries Origin.IdempotencyKey so receivers can drop replays.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxErrorBody = 1024
)

// WebhookClient performs webhook calls over HTTP.
type WebhookClient struct {
	client *http.Client
}

func NewWebhookClient(timeout time.Duration) *WebhookClient {
	return &WebhookClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Call sends the payload as a JSON body (POST) or as query parameters (GET). 2xx succeeds, 4xx
// is a permanent failure, anything else (including timeouts) is retryable.
func (c *WebhookClient) Call(ctx context.Context, req WebhookRequest) (int, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	target, err := url.Parse(req.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return 0, Permanent(fmt.Errorf("invalid webhook url %q", req.URL))
	}

	var body io.Reader

	switch method {
	case http.MethodPost:
		payload, err := json.Marshal(req.Payload)
		if err != nil {
			return 0, Permanent(fmt.Errorf("failed to encode webhook payload: %w", err))
		}

		body = bytes.NewReader(payload)
	case http.MethodGet:
		query := target.Query()
		for key, value := range req.Payload {
			query.Set(key, value)
		}

		target.RawQuery = query.Encode()
	default:
		return 0, Permanent(fmt.Errorf("unsupported webhook method %q", req.Method))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return 0, Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	// the body is always the JSON context, whatever the node headers say
	if method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, req.IdempotencyKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return resp.StatusCode, nil
	}

	message, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: string(message)}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return resp.StatusCode, Permanent(httpErr)
	}

	return resp.StatusCode, httpErr
}
