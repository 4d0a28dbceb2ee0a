// Package storetest holds the behaviour every request.Store must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/requestbot/internal/request"
)

// Run exercises a store produced by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) request.Store) {
	t.Helper()
	ctx := context.Background()
	posted := time.Unix(1_700_000_000, 0).UTC()

	t.Run("unknown user reads as idle", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.UserID)
		assert.Equal(t, request.StateIdle, got.State)
		assert.Nil(t, got.Pending)
		assert.True(t, got.LastPostedAt.IsZero())
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		in := request.Session{
			UserID:       7,
			State:        request.StateAwaitingMessage,
			Pending:      &request.PendingRequest{ChatID: -100500, MessageID: 31},
			LastPostedAt: posted,
			UpdatedAt:    posted.Add(time.Minute),
		}
		require.NoError(t, s.Put(ctx, in))

		got, err := s.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, request.StateAwaitingMessage, got.State)
		require.NotNil(t, got.Pending)
		assert.Equal(t, *in.Pending, *got.Pending)
		assert.True(t, posted.Equal(got.LastPostedAt), "last posted %s", got.LastPostedAt)
	})

	t.Run("overwrite clears pending", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, request.Session{
			UserID:  7,
			State:   request.StateAwaitingMessage,
			Pending: &request.PendingRequest{ChatID: 7, MessageID: 1},
		}))
		require.NoError(t, s.Put(ctx, request.Session{UserID: 7, State: request.StateIdle, LastPostedAt: posted}))

		got, err := s.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, request.StateIdle, got.State)
		assert.Nil(t, got.Pending)
		assert.True(t, posted.Equal(got.LastPostedAt))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, request.Session{UserID: 9, State: request.StateAwaitingMessage, LastPostedAt: posted}))
		require.NoError(t, s.Delete(ctx, 9))
		require.NoError(t, s.Delete(ctx, 9))

		got, err := s.Get(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, request.NewSession(9), got)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("prune idle", func(t *testing.T) {
		s := newStore(t)
		cutoff := posted
		sessions := []request.Session{
			{UserID: 1, State: request.StateIdle},                                       // never posted: pruned
			{UserID: 2, State: request.StateIdle, LastPostedAt: cutoff.Add(-time.Hour)}, // out of cooldown: pruned
			{UserID: 3, State: request.StateIdle, LastPostedAt: cutoff.Add(time.Minute)},
			{UserID: 4, State: request.StateAwaitingMessage},
			{UserID: 5, State: request.StateAwaitingMessage, Pending: &request.PendingRequest{ChatID: 5, MessageID: 5}},
		}
		for _, sess := range sessions {
			require.NoError(t, s.Put(ctx, sess))
		}

		n, err := s.PruneIdle(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		got, err := s.Get(ctx, 3)
		require.NoError(t, err)
		assert.False(t, got.LastPostedAt.IsZero())
	})

	t.Run("concurrent users", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := int64(1); i <= 16; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, request.Session{
					UserID:  id,
					State:   request.StateAwaitingMessage,
					Pending: &request.PendingRequest{ChatID: id, MessageID: int(id)},
				}))
			}(i)
		}
		wg.Wait()

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 16, n)
		for i := int64(1); i <= 16; i++ {
			got, err := s.Get(ctx, i)
			require.NoError(t, err)
			require.NotNil(t, got.Pending)
			assert.Equal(t, int(i), got.Pending.MessageID)
		}
	})
}
