package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookClient_PostSendsContextAsJSON(t *testing.T) {
	var (
		gotBody    map[string]string
		gotHeaders http.Header
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		gotHeaders = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewWebhookClient(DefaultWebhookTimeout)

	status, err := client.Call(context.Background(), WebhookRequest{
		Origin:  Origin{IdempotencyKey: "exec-1:hook"},
		URL:     server.URL,
		Method:  "post",
		Headers: map[string]string{"X-Token": "secret"},
		Payload: map[string]string{"first_name": "Ana", "email": "ana@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, map[string]string{"first_name": "Ana", "email": "ana@example.com"}, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "secret", gotHeaders.Get("X-Token"))
	assert.Equal(t, "exec-1:hook", gotHeaders.Get(IdempotencyKeyHeader))
}

func TestWebhookClient_PostKeepsJSONContentType(t *testing.T) {
	var contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewWebhookClient(DefaultWebhookTimeout).Call(context.Background(), WebhookRequest{
		URL:     server.URL,
		Method:  http.MethodPost,
		Headers: map[string]string{"content-type": "text/plain"},
		Payload: map[string]string{"first_name": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
}

func TestWebhookClient_GetSendsContextAsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Ana", r.URL.Query().Get("first_name"))
		assert.Equal(t, "keep", r.URL.Query().Get("existing"))
		assert.Empty(t, r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	status, err := NewWebhookClient(DefaultWebhookTimeout).Call(context.Background(), WebhookRequest{
		URL:     server.URL + "/hook?existing=keep",
		Method:  "GET",
		Payload: map[string]string{"first_name": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestWebhookClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "not found", status: http.StatusNotFound, permanent: true},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "unavailable", status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			status, err := NewWebhookClient(DefaultWebhookTimeout).Call(context.Background(), WebhookRequest{URL: server.URL, Method: "POST"})
			require.Error(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.permanent, isMarkedPermanent(err))

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, "nope", httpErr.Message)
		})
	}
}

func TestWebhookClient_TimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewWebhookClient(20*time.Millisecond).Call(context.Background(), WebhookRequest{URL: server.URL, Method: "POST"})
	require.Error(t, err)
	assert.False(t, isMarkedPermanent(err))
}

func TestWebhookClient_RejectsUnsupportedMethod(t *testing.T) {
	_, err := NewWebhookClient(DefaultWebhookTimeout).Call(context.Background(), WebhookRequest{URL: "https://example.com", Method: "DELETE"})
	require.Error(t, err)
	assert.True(t, isMarkedPermanent(err))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	backoff := DefaultRetryPolicy.backoff()

	var delays []time.Duration

	for {
		delay, stop := backoff.Next()
		if stop {
			break
		}

		delays = append(delays, delay)
	}

	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}, delays)
}
