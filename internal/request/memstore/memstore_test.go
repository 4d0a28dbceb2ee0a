package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/requestbot/internal/request"
	"github.com/m3rciful/requestbot/internal/request/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) request.Store { return New() })
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, request.Session{
		UserID:  1,
		State:   request.StateAwaitingMessage,
		Pending: &request.PendingRequest{ChatID: 1, MessageID: 10},
	}))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	got.Pending.MessageID = 99

	again, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, again.Pending.MessageID)
}
