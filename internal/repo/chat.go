package repo

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

const (
	chatPrompt = "You are a reliability assistant for SRE teams. " +
		"Help the user understand system health and the incidents listed below. " +
		"Reply concisely. Do not claim you can take autonomous actions. " +
		"When asked for suggestions, give concrete remediation steps."

	chatTemperature = 0.2
	chatTimeout     = 20 * time.Second
	traceIDPrefix   = 8
)

// ChatClient answers free-form questions about recent incidents.
type ChatClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewChatClient builds a chat client on the enrichment endpoint. The call
// timeout is capped at 20s.
func NewChatClient(cfg EnrichmentConfig, logger *slog.Logger) *ChatClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	timeout := cfg.Timeout
	if timeout > chatTimeout {
		timeout = chatTimeout
	}
	return &ChatClient{
		client:  cfg.openAIClient(),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
}

// ChatContextEntry is the condensed view of one incident sent with a chat
// message.
type ChatContextEntry struct {
	ID         string          `json:"id"`
	Service    string          `json:"service"`
	Cause      string          `json:"cause"`
	Confidence float64         `json:"confidence"`
	Priority   models.Priority `json:"priority"`
	Time       time.Time       `json:"time"`
}

// ChatContext condenses incidents for the prompt. Trace ids are shortened to
// their first eight characters.
func ChatContext(incidents []models.Incident) []ChatContextEntry {
	out := make([]ChatContextEntry, 0, len(incidents))
	for _, inc := range incidents {
		id := inc.TraceID
		if id == "" {
			id = inc.ID
		}
		if len(id) > traceIDPrefix {
			id = id[:traceIDPrefix]
		}
		out = append(out, ChatContextEntry{
			ID:         id,
			Service:    inc.ServiceName,
			Cause:      inc.Analysis.Cause,
			Confidence: inc.Analysis.Confidence,
			Priority:   inc.Analysis.Priority,
			Time:       inc.Timestamp,
		})
	}
	return out
}

// Reply sends message to the model along with the incident context.
// Transport failures and empty answers are EnrichmentUnavailable.
func (c *ChatClient) Reply(ctx context.Context, message string, incidents []models.Incident) (string, error) {
	const op = "repo.Reply"

	contextJSON, err := json.Marshal(ChatContext(incidents))
	if err != nil {
		return "", utils.E(utils.KindEnrichmentUnavailable, op, "marshal incident context", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: chatPrompt + "\n\nIncident context (latest " + strconv.Itoa(len(incidents)) + "):\n" + string(contextJSON)},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", utils.E(utils.KindEnrichmentUnavailable, op, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", utils.E(utils.KindEnrichmentUnavailable, op, "no choices returned", nil)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", utils.E(utils.KindEnrichmentUnavailable, op, "empty reply", nil)
	}
	c.logger.Debug("chat answered", "context_incidents", len(incidents), "finish_reason", resp.Choices[0].FinishReason)
	return reply, nil
}
