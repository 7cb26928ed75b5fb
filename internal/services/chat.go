package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

const (
	// chatContextSize is how many recent incidents accompany a chat message.
	chatContextSize = 50
	maxChatMessage  = 4000
)

// FallbackChatReply is returned when the model cannot answer.
const FallbackChatReply = "I'm having trouble reaching the analysis model right now. Please try again shortly."

// ChatResponder answers a message given recent incidents.
type ChatResponder interface {
	Reply(ctx context.Context, message string, incidents []models.Incident) (string, error)
}

// ChatReply is the assistant's answer.
type ChatReply struct {
	Reply string `json:"reply"`
}

// Chat answers a free-form question using the latest incidents as context.
// An unreadable store sends the message without context; an unavailable model
// yields FallbackChatReply rather than an error.
func (s *IncidentService) Chat(ctx context.Context, userID, message string) (ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatReply{}, utils.E(utils.KindInvalidArgument, "services.Chat", "message is required", nil)
	}
	if len(message) > maxChatMessage {
		return ChatReply{}, utils.E(utils.KindInvalidArgument, "services.Chat", "message is too long", nil)
	}
	if s.deps.Chat == nil {
		s.logger.Warn("chat requested but no model is configured", slog.String("user_id", userID))
		return ChatReply{Reply: FallbackChatReply}, nil
	}

	incidents, err := s.deps.Incidents.Recent(ctx, chatContextSize)
	if err != nil {
		s.logger.Warn("chat context unavailable; answering without incidents", slog.Any("error", err))
		incidents = nil
	}

	reply, err := s.deps.Chat.Reply(ctx, message, incidents)
	if err != nil {
		s.logger.Warn("chat model unavailable", slog.String("user_id", userID), slog.Any("error", err))
		return ChatReply{Reply: FallbackChatReply}, nil
	}
	s.logger.Info("chat answered", slog.String("user_id", userID), slog.Int("context_incidents", len(incidents)))
	return ChatReply{Reply: reply}, nil
}
