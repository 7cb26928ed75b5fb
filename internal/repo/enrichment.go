package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-incidents/internal/extractors"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

const systemPrompt = "You are an expert cloud SRE and security agent. " +
	"Analyze the trace logs you are given. Return ONLY a JSON object with the keys: " +
	"cause, category, confidence, action, security_alert, redacted_summary, priority, correlation_insight."

// EnrichmentConfig configures the OpenAI-compatible endpoint shared by
// enrichment and chat.
type EnrichmentConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
	HTTPClient  *http.Client
}

// EnrichmentClient turns a trace batch into an AnalysisResult via a chat
// completion with a JSON response format.
type EnrichmentClient struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
	logger      *slog.Logger
}

// NewEnrichmentClient builds a client for cfg.
func NewEnrichmentClient(cfg EnrichmentConfig, logger *slog.Logger) *EnrichmentClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &EnrichmentClient{
		client:      cfg.openAIClient(),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (cfg EnrichmentConfig) withDefaults() EnrichmentConfig {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

func (cfg EnrichmentConfig) openAIClient() *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

type enrichmentInput struct {
	TraceID string                `json:"trace_id"`
	Stats   extractors.BatchStats `json:"stats"`
	Logs    []models.LogEntry     `json:"logs"`
}

// Enrich analyses one trace batch. Each call carries its own timeout. A
// non-success response or an unparseable body is reported as
// EnrichmentUnavailable.
func (c *EnrichmentClient) Enrich(ctx context.Context, traceID string, batch models.TraceBatch) (*models.AnalysisResult, error) {
	const op = "repo.Enrich"

	stats := extractors.Summarize(batch)
	c.logger.Debug("enriching trace",
		"trace_id", traceID,
		"log_count", stats.LogCount,
		"error_ratio", stats.ErrorRatio(),
		"span_minutes", utils.DurationMinutes(stats.FirstSeen, stats.LastSeen),
	)
	input, err := json.Marshal(enrichmentInput{
		TraceID: traceID,
		Stats:   stats,
		Logs:    batch,
	})
	if err != nil {
		return nil, utils.E(utils.KindEnrichmentUnavailable, op, "marshal batch", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(input)},
		},
		Temperature:    c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, utils.E(utils.KindEnrichmentUnavailable, op, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, utils.E(utils.KindEnrichmentUnavailable, op, "no choices returned", nil)
	}

	result, err := DecodeAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, utils.E(utils.KindEnrichmentUnavailable, op, "malformed analysis", err)
	}
	c.logger.Debug("trace enriched", "trace_id", traceID, "category", result.Category, "finish_reason", resp.Choices[0].FinishReason)
	return result, nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
		if err == nil {
			*f = flexFloat(n)
			return nil
		}
	}
	*f = 0
	return nil
}

type analysisPayload struct {
	Cause              string    `json:"cause"`
	Category           string    `json:"category"`
	Confidence         flexFloat `json:"confidence"`
	Action             string    `json:"action"`
	SecurityAlert      bool      `json:"security_alert"`
	RedactedSummary    string    `json:"redacted_summary"`
	Priority           string    `json:"priority"`
	CorrelationInsight string    `json:"correlation_insight"`
}

// DecodeAnalysis parses the enrichment JSON object. Missing keys take
// deterministic defaults: confidence 0, priority P2, everything else empty.
// A response that is not a JSON object is an error.
func DecodeAnalysis(content string) (*models.AnalysisResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return nil, fmt.Errorf("expected JSON object")
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, err
	}
	priority := models.Priority(strings.TrimSpace(payload.Priority))
	if priority == "" {
		priority = models.PriorityP2
	}
	return &models.AnalysisResult{
		Cause:              payload.Cause,
		Category:           payload.Category,
		Confidence:         float64(payload.Confidence),
		Action:             payload.Action,
		SecurityAlert:      payload.SecurityAlert,
		RedactedSummary:    payload.RedactedSummary,
		Priority:           priority,
		CorrelationInsight: payload.CorrelationInsight,
	}, nil
}
