package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/prompt"
)

var testMessages = []prompt.Message{
	{Role: prompt.RoleSystem, Content: "sys"},
	{Role: prompt.RoleUser, Content: "Water, Sugar"},
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, APIKey: "test-key", Model: "test-model", Timeout: 5 * time.Second}, nil)
}

func writeContent(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
}

func TestSend_RequestShape(t *testing.T) {
	var got map[string]any
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeContent(w, `{"verdict":"pass"}`)
	})

	out, err := c.Send(context.Background(), testMessages, ShapeJSON)
	require.NoError(t, err)
	require.Equal(t, `{"verdict":"pass"}`, out)

	require.Equal(t, "Bearer test-key", auth)
	require.Equal(t, "test-model", got["model"])
	require.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, map[string]any{"role": "user", "content": "Water, Sugar"}, msgs[1])
}

func TestSend_TextShapeOmitsResponseFormat(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeContent(w, "Yes, it is.")
	})

	out, err := c.Send(context.Background(), testMessages, ShapeText)
	require.NoError(t, err)
	require.Equal(t, "Yes, it is.", out)
	_, ok := got["response_format"]
	require.False(t, ok)
}

func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   errors.ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, errors.ErrRateLimited},
		{"quota", http.StatusPaymentRequired, errors.ErrQuotaExhausted},
		{"server error", http.StatusInternalServerError, errors.ErrUpstream},
		{"bad request", http.StatusBadRequest, errors.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			})

			_, err := c.Send(context.Background(), testMessages, ShapeText)
			require.True(t, errors.Is(err, tt.code), "got %v", err)
			require.Equal(t, 1, calls, "gateway must not retry")
		})
	}
}

func TestSend_UpstreamDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	})

	_, err := c.Send(context.Background(), testMessages, ShapeText)
	mErr := errors.As(err)
	require.Equal(t, errors.ErrUpstream, mErr.Code)
	require.Equal(t, http.StatusServiceUnavailable, mErr.Details["status"])
	require.Equal(t, "overloaded", mErr.Details["body"])
}

func TestSend_EmptyContent(t *testing.T) {
	bodies := []string{
		`{"choices":[]}`,
		`{"choices":[{"message":{}}]}`,
		`{"choices":[{"message":{"content":"   "}}]}`,
		`not json`,
	}
	for _, b := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(b))
		})
		_, err := c.Send(context.Background(), testMessages, ShapeText)
		require.True(t, errors.Is(err, errors.ErrEmptyResponse), "body %q: got %v", b, err)
	}
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{URL: url, APIKey: "k"}, nil)
	_, err := c.Send(context.Background(), testMessages, ShapeText)
	require.True(t, errors.Is(err, errors.ErrServiceUnavailable), "got %v", err)
}

func TestSend_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeContent(w, "late")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Send(ctx, testMessages, ShapeText)
	require.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSend_MissingAPIKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	c := New(Config{URL: srv.URL}, nil)
	_, err := c.Send(context.Background(), testMessages, ShapeText)
	require.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	require.False(t, called)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{APIKey: "k"}, nil)
	require.Equal(t, DefaultURL, c.url)
	require.Equal(t, DefaultModel, c.Model())
	require.Equal(t, DefaultTimeout, c.http.Timeout)
}
