package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/callcaster/internal/session"
)

func TestInMemoryStoreKeepsMostRecent(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, Record{Op: "play", RequestID: fmt.Sprint(i), Outcome: "ok"}))
	}

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2", all[0].RequestID)
	assert.Equal(t, "4", all[2].RequestID)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].CreatedAt.IsZero())

	last, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "4", last[0].RequestID)
}

func TestNewStoreWithoutDatabaseIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	_, ok := s.(*InMemoryStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())
}

func TestRecorderWritesEvents(t *testing.T) {
	store := NewInMemoryStore(0)
	r := NewRecorder(store, 4, nil)

	r.Observe(session.Event{Op: session.OpJoin, ChatID: -100, Outcome: session.OutcomeOK, Duration: 25 * time.Millisecond, At: time.Now().UTC()})
	r.Observe(session.Event{Op: session.OpPlay, ChatID: -100, RequestID: "r1", Kind: session.KindText, Outcome: session.OutcomeFailed, Err: errors.New("stream rejected")})
	r.Close()

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "join", recs[0].Op)
	assert.Equal(t, int64(25), recs[0].DurationMS)
	assert.Equal(t, "stream rejected", recs[1].Error)
	assert.Equal(t, "text", recs[1].Kind)

	// Close is idempotent.
	r.Close()
}
