package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-quiz-service/internal/app"
)

func TestHubPrimesSubscribersWithLatestState(t *testing.T) {
	hub := app.NewHub()
	ctx := context.Background()

	hub.Publish(ctx, app.Event{Type: app.EventGameState, State: &app.GameStateView{TimeRemainingMs: 1}})
	hub.Publish(ctx, app.Event{Type: app.EventScoresUpdated})
	hub.Publish(ctx, app.Event{Type: app.EventGameState, State: &app.GameStateView{TimeRemainingMs: 2}})

	events, cancel := hub.Subscribe()
	defer cancel()

	ev := <-events
	require.Equal(t, app.EventGameState, ev.Type)
	assert.EqualValues(t, 2, ev.State.TimeRemainingMs)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestHubSlowSubscriberKeepsNewest(t *testing.T) {
	hub := app.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	for i := 1; i <= 50; i++ {
		hub.Publish(context.Background(), app.Event{Type: app.EventGameState, State: &app.GameStateView{TimeRemainingMs: int64(i)}})
	}

	var last app.Event
	for len(events) > 0 {
		last = <-events
	}
	assert.EqualValues(t, 50, last.State.TimeRemainingMs)
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := app.NewHub()
	events, cancel := hub.Subscribe()
	cancel()
	cancel()

	_, ok := <-events
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers())

	hub.Publish(context.Background(), app.Event{Type: app.EventScoresUpdated})
}
