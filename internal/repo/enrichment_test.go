package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testBatch() models.TraceBatch {
	ts := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return models.TraceBatch{{Timestamp: ts, Severity: "ERROR", Service: "payment-api", Message: "pool exhausted", TraceID: "t1"}}
}

func TestEnrichDecodesAnalysis(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"cause":"pool exhausted","category":"Database","confidence":0.4,"action":"raise pool size","security_alert":false,"redacted_summary":"db pool","priority":"P1","correlation_insight":"n/a"}`)
	client := NewEnrichmentClient(EnrichmentConfig{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, nil)

	result, err := client.Enrich(context.Background(), "t1", testBatch())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "Database", result.Category)
	assert.InDelta(t, 0.4, result.Confidence, 1e-9)
	assert.Equal(t, models.PriorityP1, result.Priority)
}

func TestEnrichUpstreamErrorIsUnavailable(t *testing.T) {
	srv := chatServer(t, http.StatusServiceUnavailable, "")
	client := NewEnrichmentClient(EnrichmentConfig{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, nil)

	_, err := client.Enrich(context.Background(), "t1", testBatch())
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindEnrichmentUnavailable))
}

func TestEnrichMalformedIsUnavailable(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "I think the database is down")
	client := NewEnrichmentClient(EnrichmentConfig{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, nil)

	_, err := client.Enrich(context.Background(), "t1", testBatch())
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindEnrichmentUnavailable))
}

func TestDecodeAnalysisDefaults(t *testing.T) {
	result, err := DecodeAnalysis(`{"cause":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityP2, result.Priority)
	assert.Zero(t, result.Confidence)
	assert.False(t, result.SecurityAlert)

	result, err = DecodeAnalysis("```json\n{\"confidence\":\"87\",\"priority\":\"P0\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 87.0, result.Confidence)
	assert.Equal(t, models.PriorityP0, result.Priority)

	_, err = DecodeAnalysis(`[1,2]`)
	assert.Error(t, err)
}

func TestEnrichHungUpstreamTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewEnrichmentClient(EnrichmentConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	result, err := client.Enrich(context.Background(), "t1", testBatch())
	elapsed := time.Since(start)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindEnrichmentUnavailable))
	assert.Less(t, elapsed, 2*time.Second)
}
