package repository

import (
	"context"

	"studyroomix/internal/domain"
)

// ChatHistoryRepository stores the AI tutor conversation of each user.
type ChatHistoryRepository interface {
	// SaveBatch appends the turns in order.
	SaveBatch(ctx context.Context, turns []domain.ChatTurn) error

	// Recent returns the user's last limit turns in chronological order.
	Recent(ctx context.Context, userID uint, limit int) ([]domain.ChatTurn, error)
}
