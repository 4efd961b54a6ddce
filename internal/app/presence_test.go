package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
	"wedding-quiz-service/internal/infra/memory"
)

func TestPresenceCountsFreshHeartbeats(t *testing.T) {
	store := memory.NewStore(15, "default")
	clock := clockwork.NewFakeClockAt(t0)
	presence := app.NewPresenceService(store, clock, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, presence.Heartbeat(ctx, "u1", "Alice"))
	require.NoError(t, presence.Heartbeat(ctx, "u2", "Bob"))
	n, err := presence.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clock.Advance(20 * time.Second)
	require.NoError(t, presence.Heartbeat(ctx, "u1", ""))
	clock.Advance(15 * time.Second)

	n, err = presence.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "u2 went stale without leaving")

	require.NoError(t, presence.Leave(ctx, "u1"))
	n, _ = presence.ActiveCount(ctx)
	assert.Zero(t, n)

	p, ok := store.Participant("u1")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.False(t, p.IsInQuizPage)
}

func TestPresenceRequiresLineID(t *testing.T) {
	presence := app.NewPresenceService(memory.NewStore(15, "default"), clockwork.NewFakeClock(), time.Minute)

	require.ErrorIs(t, presence.Heartbeat(context.Background(), "", "x"), domain.ErrInvalidCommand)
	require.ErrorIs(t, presence.Leave(context.Background(), ""), domain.ErrInvalidCommand)
}
