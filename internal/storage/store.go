// Package storage defines the persistence surface the realtime core depends
// on. Implementations live in the mongo and memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/SabbirMurad/fanari-backend/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	// RoomsForUser returns every conversation id the user participates in,
	// single and group alike. Computed ahead of connection; never re-derived
	// while the socket lives.
	RoomsForUser(ctx context.Context, userID string) ([]string, error)

	// SaveMessage persists one chat message. Callers treat it as
	// fire-and-forget; the write must be atomic across its parts.
	SaveMessage(ctx context.Context, msg *domain.Message) error

	// SetPresence flips the durable online flag; lastSeen is written when
	// non-zero. Last write wins, no ordering guarantee.
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error

	// GetPresence reads the current presence record.
	GetPresence(ctx context.Context, userID string) (domain.Presence, error)
}
