package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

func TestFetchTracesGroupsAndCaches(t *testing.T) {
	hits := 0
	cacheStub := newCountingCache()
	client := NewLogSourceClient("https://logs.example.com", "/api/v1/logs/traces", time.Second, cacheStub, time.Minute, nil)
	fixed := time.Date(2026, 10, 19, 10, 0, 30, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	base := fixed.Add(-10 * time.Minute)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/api/v1/logs/traces" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["project_id"] != "proj" {
			t.Fatalf("unexpected project id %v", body["project_id"])
		}
		return jsonResponse(t, map[string]any{
			"entries": []map[string]any{
				{"timestamp": base.Add(2 * time.Minute), "severity": "error", "service": "checkout", "message": "b", "trace_id": "t1"},
				{"timestamp": base.Add(1 * time.Minute), "severity": "ERROR", "service": "checkout", "message": "a", "trace_id": "t1"},
				{"timestamp": base, "text_payload": `ERROR:cloud-rca:{"trace_id":"t2","message":"db down","service":"payments"}`},
				{"timestamp": base, "message": "no trace"},
				{"timestamp": base, "text_payload": `INFO:cloud-rca:{"message":"also no trace"}`},
			},
		}), nil
	}))

	ctx := context.Background()
	cred := models.Credential{Token: "tok", ProjectID: "proj"}

	set, err := client.FetchTraces(ctx, cred, 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 traces, got %d", set.Len())
	}
	if set.Order[0] != "t2" || set.Order[1] != "t1" {
		t.Fatalf("unexpected trace order %v", set.Order)
	}
	t1 := set.Batches["t1"]
	if len(t1) != 2 || t1[0].Message != "a" || t1[1].Severity != "ERROR" {
		t.Fatalf("unexpected t1 batch %+v", t1)
	}
	if set.Batches["t2"][0].Service != "payments" {
		t.Fatalf("unexpected t2 batch %+v", set.Batches["t2"])
	}

	if _, err := client.FetchTraces(ctx, cred, 15); err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if cacheStub.gets.Load() != 2 || cacheStub.sets.Load() != 1 {
		t.Fatalf("unexpected cache traffic gets=%d sets=%d", cacheStub.gets.Load(), cacheStub.sets.Load())
	}
	if time.Duration(cacheStub.ttl.Load()) != time.Minute {
		t.Fatalf("unexpected cache ttl %v", time.Duration(cacheStub.ttl.Load()))
	}
}

func TestFetchTracesEmptyIsNotAnError(t *testing.T) {
	client := NewLogSourceClient("https://logs.example.com", "/traces", time.Second, nil, 0, nil)
	client.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, map[string]any{"entries": []any{}}), nil
	}))

	set, err := client.FetchTraces(context.Background(), models.Credential{}, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d", set.Len())
	}
}

func TestFetchTracesUpstreamFailure(t *testing.T) {
	client := NewLogSourceClient("https://logs.example.com", "/traces", time.Second, nil, 0, nil)
	client.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return statusResponse(t, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"}), nil
	}))
	if _, err := client.FetchTraces(context.Background(), models.Credential{}, 60); err == nil {
		t.Fatalf("expected error for upstream failure")
	}
}

func TestParseTextPayload(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	entry, ok := ParseTextPayload(`2026 WARNING:cloud-rca:{"trace_id":"abc","message":"slow","root_cause":"lock","suggestion":"index"}`, ts)
	if !ok {
		t.Fatalf("expected payload to parse")
	}
	if entry.Severity != "WARNING" || entry.Service != "cloud-rca" || entry.RootCause != "lock" || entry.Suggestion != "index" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, ok := ParseTextPayload(`DEBUG:cloud-rca:{"trace_id":"abc"}`, ts); ok {
		t.Fatalf("unknown level should not parse")
	}
	if _, ok := ParseTextPayload(`ERROR:cloud-rca:{not json}`, ts); ok {
		t.Fatalf("malformed json should not parse")
	}
}
