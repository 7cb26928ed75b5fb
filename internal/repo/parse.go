package repo

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// textPayloadPattern matches application log lines of the form
// LEVEL:logger:{json}. The level comes from the text prefix, not from the
// platform's own severity.
var textPayloadPattern = regexp.MustCompile(`(ERROR|WARNING|INFO|CRITICAL):([\w.-]+):(\{.+\})`)

// rawEntry is one entry as returned by the log source. Either the structured
// fields or TextPayload is populated.
type rawEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity"`
	Service     string    `json:"service"`
	Message     string    `json:"message"`
	TraceID     string    `json:"trace_id"`
	RootCause   string    `json:"root_cause"`
	Suggestion  string    `json:"suggestion"`
	TextPayload string    `json:"text_payload"`
}

type payloadFields struct {
	TraceID    string `json:"trace_id"`
	Message    string `json:"message"`
	Service    string `json:"service"`
	RootCause  string `json:"root_cause"`
	Suggestion string `json:"suggestion"`
}

// ParseTextPayload extracts a LogEntry from a LEVEL:logger:{json} line.
// It reports false when the line does not match or has no trace id.
func ParseTextPayload(payload string, ts time.Time) (models.LogEntry, bool) {
	match := textPayloadPattern.FindStringSubmatch(payload)
	if match == nil {
		return models.LogEntry{}, false
	}
	var fields payloadFields
	if err := json.Unmarshal([]byte(match[3]), &fields); err != nil {
		return models.LogEntry{}, false
	}
	if strings.TrimSpace(fields.TraceID) == "" {
		return models.LogEntry{}, false
	}
	return models.LogEntry{
		Timestamp:  ts,
		Severity:   match[1],
		Service:    firstNonEmpty(fields.Service, match[2]),
		Message:    fields.Message,
		TraceID:    fields.TraceID,
		RootCause:  fields.RootCause,
		Suggestion: fields.Suggestion,
	}, true
}

func (r rawEntry) toLogEntry() (models.LogEntry, bool) {
	if r.TraceID == "" && r.TextPayload != "" {
		return ParseTextPayload(r.TextPayload, r.Timestamp)
	}
	if strings.TrimSpace(r.TraceID) == "" {
		return models.LogEntry{}, false
	}
	return models.LogEntry{
		Timestamp:  r.Timestamp,
		Severity:   strings.ToUpper(r.Severity),
		Service:    r.Service,
		Message:    r.Message,
		TraceID:    r.TraceID,
		RootCause:  r.RootCause,
		Suggestion: r.Suggestion,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
