package api

import (
	"context"
	"fmt"

	"sage-gateway-go/internal/models"

	"go.uber.org/zap"
)

// SetHistoryLimit bounds the number of stored conversation turns per user.
func (s *LedgerService) SetHistoryLimit(limit int) {
	if limit > 0 {
		s.historyLimit = limit
	}
}

func (s *LedgerService) History(ctx context.Context, userId string) ([]models.ChatMessage, error) {
	history, err := s.store.GetHistory(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

// RecordExchange appends a user prompt and the assistant reply
func (s *LedgerService) RecordExchange(ctx context.Context, userId, prompt, reply string) error {
	turns := []models.ChatMessage{
		{Role: models.RoleUser, Content: prompt},
		{Role: models.RoleAssistant, Content: reply},
	}
	for _, turn := range turns {
		if err := s.store.AppendHistory(ctx, userId, turn, s.historyLimit); err != nil {
			zap.L().Error("Failed to append history", zap.String("user_id", userId), zap.Error(err))
			return fmt.Errorf("failed to append history: %w", err)
		}
	}
	return nil
}

// MarkWelcomed reports true the first time a user is seen in a channel
func (s *LedgerService) MarkWelcomed(ctx context.Context, channelId, userId string) (bool, error) {
	first, err := s.store.MarkWelcomed(ctx, channelId, userId)
	if err != nil {
		return false, fmt.Errorf("failed to mark welcome: %w", err)
	}
	return first, nil
}
