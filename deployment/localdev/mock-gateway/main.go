// Command mock-gateway serves canned trace logs and enrichment responses so
// the engine can run end to end without cloud access.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type logEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity,omitempty"`
	Service     string    `json:"service,omitempty"`
	Message     string    `json:"message,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	TextPayload string    `json:"text_payload,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/logs/traces", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		now := time.Now().UTC()
		writeJSON(w, map[string]any{
			"entries": []logEntry{
				{Timestamp: now.Add(-4 * time.Minute), Severity: "ERROR", Service: "checkout", Message: "payment call timed out", TraceID: "trace-abc"},
				{Timestamp: now.Add(-3 * time.Minute), Severity: "ERROR", Service: "checkout", Message: "retry exhausted", TraceID: "trace-abc"},
				{Timestamp: now.Add(-3 * time.Minute), TextPayload: `ERROR:payments.db:{"trace_id": "trace-def", "message": "connection pool exhausted", "service": "payments"}`},
				{Timestamp: now.Add(-2 * time.Minute), Severity: "WARNING", Service: "inventory", Message: "slow query", TraceID: "trace-ghi"},
				{Timestamp: now.Add(-time.Minute), Severity: "INFO", Service: "inventory", Message: "cache warmed"},
			},
		})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		content := cannedReply(req.Messages)
		if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
			content = cannedAnalysis(req.Messages)
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       chatMessage{Role: "assistant", Content: content},
			}},
		})
	})

	logger := log.New(log.Writer(), "gateway-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              ":8080",
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// cannedAnalysis picks a category from keywords in the prompt.
func cannedAnalysis(messages []chatMessage) string {
	var prompt strings.Builder
	for _, m := range messages {
		prompt.WriteString(strings.ToLower(m.Content))
	}
	category, cause := "Application", "Unhandled application error"
	switch text := prompt.String(); {
	case strings.Contains(text, "pool") || strings.Contains(text, "query"):
		category, cause = "Database", "Database connection pool saturation"
	case strings.Contains(text, "timed out"):
		category, cause = "Network", "Upstream payment provider timeout"
	}
	return fmt.Sprintf(`{"cause": %q, "category": %q, "confidence": 0.82, "action": "Inspect %s dashboards", "security_alert": false, "redacted_summary": %q, "priority": "P1", "correlation_insight": "errors clustered within one trace"}`,
		cause, category, strings.ToLower(category), cause)
}

// cannedReply answers assistant chat with a fixed line echoing the question.
func cannedReply(messages []chatMessage) string {
	question := ""
	if len(messages) > 0 {
		question = messages[len(messages)-1].Content
	}
	return fmt.Sprintf("Mock assistant: the latest incidents point at database pool saturation. You asked: %q", question)
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
