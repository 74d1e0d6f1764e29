package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tenantgraph/internal/apperr"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func newTestClient(t *testing.T, url string, failures uint32) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:         url,
		Model:           "test-model",
		Timeout:         5 * time.Second,
		BreakerFailures: failures,
		BreakerCooldown: time.Minute,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(`{"nodes": [], "relationships": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	out, err := c.Complete(context.Background(), Request{Op: "extract", System: "sys", Prompt: "hello", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"nodes": [], "relationships": []}`, out)

	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
}

func TestClient_ServerErrorsOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{Op: "translate"})
		assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
	}
	require.Equal(t, int32(2), hits.Load())

	_, err := c.Complete(context.Background(), Request{Op: "translate"})
	assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open breaker short-circuits the call")
}

func TestClient_DeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, Request{Op: "summarize"})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.True(t, apperr.Retryable(err))
}

func TestClient_NoChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.Complete(context.Background(), Request{Op: "extract"})
	assert.ErrorIs(t, err, apperr.ErrOracleMalformed)
}

func TestNewClient_RequiresBaseURLAndModel(t *testing.T) {
	_, err := NewClient(Config{Model: "m"}, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	cases := map[string]struct{ in, want string }{
		"plain":          {"  MATCH (n) RETURN n \n", "MATCH (n) RETURN n"},
		"cypher fence":   {"```cypher\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		"bare fence":     {"```\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		"upper tag":      {"```Cypher\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		"json fence":     {"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		"prose around":   {"Here is the query:\n```cypher\nMATCH (n) RETURN n\n```\nIt returns all nodes.", "MATCH (n) RETURN n"},
		"first block":    {"```\nA\n```\ntext\n```\nB\n```", "A"},
		"unterminated":   {"```cypher\nMATCH (n) RETURN n", "MATCH (n) RETURN n"},
		"inline fence":   {"```MATCH (n) RETURN n```", "MATCH (n) RETURN n"},
		"empty tag only": {"```cypher```", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripFences(tc.in))
		})
	}
}
