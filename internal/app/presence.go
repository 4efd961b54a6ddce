package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"wedding-quiz-service/internal/domain"
)

// PresenceService tracks which guests currently have the quiz view open.
type PresenceService struct {
	store      Store
	clock      clockwork.Clock
	staleAfter time.Duration
}

// NewPresenceService counts a heartbeat older than staleAfter as absent.
func NewPresenceService(store Store, clock clockwork.Clock, staleAfter time.Duration) *PresenceService {
	return &PresenceService{store: store, clock: clock, staleAfter: staleAfter}
}

func (s *PresenceService) Heartbeat(ctx context.Context, lineID, displayName string) error {
	if lineID == "" {
		return fmt.Errorf("%w: lineId is required", domain.ErrInvalidCommand)
	}
	return domain.WrapStore("heartbeat", s.store.Heartbeat(ctx, lineID, displayName, s.clock.Now()))
}

func (s *PresenceService) Leave(ctx context.Context, lineID string) error {
	if lineID == "" {
		return fmt.Errorf("%w: lineId is required", domain.ErrInvalidCommand)
	}
	return domain.WrapStore("leave", s.store.Leave(ctx, lineID))
}

// ActiveCount counts participants on the quiz page with a fresh heartbeat.
func (s *PresenceService) ActiveCount(ctx context.Context) (int, error) {
	n, err := s.store.CountPresent(ctx, s.clock.Now().Add(-s.staleAfter))
	if err != nil {
		return 0, domain.WrapStore("count present", err)
	}
	return n, nil
}

func (s *PresenceService) StaleAfter() time.Duration { return s.staleAfter }
