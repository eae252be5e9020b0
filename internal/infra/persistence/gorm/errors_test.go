package gormpersistence

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"studyroomix/internal/repository"
)

func TestWrapErr_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, repository.ErrNotFound},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, repository.ErrDuplicateEntry},
		{"postgres duplicate", &pgconn.PgError{Code: "23505"}, repository.ErrDuplicateEntry},
		{"bad connection", fmt.Errorf("exec: %w", driver.ErrBadConn), repository.ErrUnavailable},
		{"mysql invalid conn", mysql.ErrInvalidConn, repository.ErrUnavailable},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, repository.ErrUnavailable},
		{"postgres serialization", &pgconn.PgError{Code: "40001"}, repository.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapErr("op", tt.err)
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
		})
	}
}

func TestWrapErr_PlainErrorIsNotRetryable(t *testing.T) {
	got := wrapErr("op", errors.New("syntax error near WHERE"))
	assert.False(t, errors.Is(got, repository.ErrUnavailable))
	assert.Contains(t, got.Error(), "gorm: op")
	assert.Nil(t, wrapErr("op", nil))
}
