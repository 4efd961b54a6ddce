package app

import (
	"context"
	"sync"
	"time"
)

// Event types pushed to connected clients.
const (
	EventGameState     = "game_state"
	EventScoresUpdated = "scores_updated"
)

// Event is a change notification. Clients re-derive everything from the latest
// game_state snapshot, so dropped intermediate events are harmless.
type Event struct {
	Type  string         `json:"type"`
	State *GameStateView `json:"state,omitempty"`
	At    time.Time      `json:"at"`
}

// Publisher fans committed changes out to observers. Publish never fails the
// caller; delivery is best-effort and at-least-once.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Hub is the in-process fan-out point that websocket connections subscribe to.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	lastState   *Event
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish delivers ev to every subscriber, replacing the oldest buffered event
// of slow subscribers instead of blocking.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type == EventGameState {
		h.lastState = &ev
	}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

// Subscribe returns a channel of events, primed with the latest game state if
// one has been published. The caller must invoke cancel to avoid leaks.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	if h.lastState != nil {
		ch <- *h.lastState
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers reports how many channels are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
