package repository

import (
	"context"

	"studyroomix/internal/domain"
)

// MemberRepository is the RoomMembershipStore: one row per (room, user).
type MemberRepository interface {
	// Upsert inserts the member row if it does not exist yet.
	// Repeated calls for the same pair are no-ops; created reports whether a row was inserted.
	Upsert(ctx context.Context, member *domain.Member) (created bool, err error)

	// Find returns the member row or ErrMemberNotFound.
	Find(ctx context.Context, roomID, userID uint) (*domain.Member, error)

	// ListByRoom returns the room's members ordered by join time.
	ListByRoom(ctx context.Context, roomID uint) ([]domain.Member, error)

	// Delete removes the member row; deleting a missing row returns ErrMemberNotFound.
	Delete(ctx context.Context, roomID, userID uint) error
}
