package repository

import (
	"context"
	"time"

	"studyroomix/internal/domain"
)

// SessionRepository stores study sessions and attaches them to member rows.
type SessionRepository interface {
	// StartAttached creates the session and, in the same transaction, sets it as the member's
	// current session only if the member currently has none.
	// Returns ErrMemberNotFound if the member row is missing and ErrConflict if it already
	// references a session; in both cases nothing is written.
	StartAttached(ctx context.Context, session *domain.Session) error

	// StopDetached writes the final duration and end time of the session and clears the
	// member's reference, atomically. Returns ErrSessionNotFound if the session does not
	// exist or is already closed.
	StopDetached(ctx context.Context, roomID, userID uint, sessionID string, duration int64, endedAt time.Time) (*domain.Session, error)

	// UpdateDuration raises the duration of an open session; lower values are ignored.
	UpdateDuration(ctx context.Context, sessionID string, duration int64) (*domain.Session, error)

	// FindByID returns the session or ErrSessionNotFound.
	FindByID(ctx context.Context, id string) (*domain.Session, error)

	// ListOpenByIDs returns the open sessions among ids.
	ListOpenByIDs(ctx context.Context, ids []string) ([]domain.Session, error)

	// CloseOrphans ends every open session that no member row references, keeping its last
	// persisted duration. Returns the number of sessions closed.
	CloseOrphans(ctx context.Context, endedAt time.Time) (int64, error)

	// TopTotals sums the duration of closed sessions per user, largest first (ties by user id),
	// returning at most limit rows.
	TopTotals(ctx context.Context, limit int) ([]domain.StudyTotal, error)

	// UserTotal sums the duration of the user's closed sessions; zero when there are none.
	UserTotal(ctx context.Context, userID uint) (int64, error)
}
