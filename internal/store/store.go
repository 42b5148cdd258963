// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/autostream-chat/internal/domain"
)

// Repository persists chat history per client.
type Repository interface {
	// SaveSession upserts a session and appends any messages not stored yet.
	// position is the session's index in the client's session list.
	SaveSession(ctx context.Context, clientID string, position int, session domain.Session) error

	// LoadSessions returns a client's sessions ordered by position, each with
	// its messages in append order.
	LoadSessions(ctx context.Context, clientID string) ([]domain.Session, error)

	// DeleteClient removes every session and message of a client.
	DeleteClient(ctx context.Context, clientID string) (int64, error)

	// CleanupExpired removes sessions not updated within ttl.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
