// Package memory is an in-process storage.Store for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/SabbirMurad/fanari-backend/internal/domain"
	"github.com/SabbirMurad/fanari-backend/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	rooms    map[string][]string // userID -> conversation ids
	messages []*domain.Message
	presence map[string]domain.Presence
}

func New() *Store {
	return &Store{
		rooms:    make(map[string][]string),
		presence: make(map[string]domain.Presence),
	}
}

// SeedRooms assigns the given conversation ids to a user.
func (s *Store) SeedRooms(userID string, roomIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[userID] = append(s.rooms[userID], roomIDs...)
}

func (s *Store) RoomsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.rooms[userID]...), nil
}

func (s *Store) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *Store) Messages() []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Message(nil), s.messages...)
}

func (s *Store) SetPresence(_ context.Context, userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.presence[userID]
	p.UserID = userID
	p.Online = online
	if !lastSeen.IsZero() {
		p.LastSeen = lastSeen.UnixMilli()
	}
	s.presence[userID] = p
	return nil
}

func (s *Store) GetPresence(_ context.Context, userID string) (domain.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	if !ok {
		return domain.Presence{}, storage.ErrNotFound
	}
	return p, nil
}
