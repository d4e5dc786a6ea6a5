package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SabbirMurad/fanari-backend/internal/domain"
	"github.com/SabbirMurad/fanari-backend/internal/storage"
)

func TestStore_Rooms(t *testing.T) {
	s := New()
	s.SeedRooms("u1", "r1", "r2")

	rooms, err := s.RoomsForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, rooms)

	rooms, err = s.RoomsForUser(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestStore_Presence(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetPresence(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.SetPresence(ctx, "u1", true, time.Time{}))
	p, err := s.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Zero(t, p.LastSeen)

	seen := time.Now()
	require.NoError(t, s.SetPresence(ctx, "u1", false, seen))
	p, err = s.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.Equal(t, seen.UnixMilli(), p.LastSeen)
}

func TestStore_Messages(t *testing.T) {
	s := New()
	text := "hi"
	msg := &domain.Message{UUID: "m1", Owner: "u1", ConversationID: "r1", Text: &text, Type: domain.TextTypeText}

	require.NoError(t, s.SaveMessage(context.Background(), msg))
	saved := s.Messages()
	require.Len(t, saved, 1)
	assert.Equal(t, "m1", saved[0].UUID)
}
