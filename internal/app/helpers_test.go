package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
	"wedding-quiz-service/internal/infra/memory"
)

const adminID = "U-admin"

var t0 = time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type fixture struct {
	store   *memory.Store
	hub     *app.Hub
	clock   fakeClock
	game    *app.GameService
	scoring *app.ScoringService
}

func newFixture(t *testing.T, scorer app.Scorer, questions ...domain.Question) *fixture {
	t.Helper()
	store := memory.NewStore(15, "default")
	store.AddAdmin(adminID)
	store.AddQuestions(questions...)
	clock := clockwork.NewFakeClockAt(t0)
	hub := app.NewHub()
	repo := memory.NewQuestionRepository(store, time.Minute, clock)
	return &fixture{
		store:   store,
		hub:     hub,
		clock:   clock,
		game:    app.NewGameService(store, hub, clock),
		scoring: app.NewScoringService(store, repo, scorer, hub, clock),
	}
}

func (f *fixture) exec(t *testing.T, cmd domain.Command) app.CommandResult {
	t.Helper()
	res, err := f.game.Execute(context.Background(), adminID, cmd)
	require.NoError(t, err)
	return res
}

func (f *fixture) state(t *testing.T) domain.GameState {
	t.Helper()
	state, err := f.store.GetGameState(context.Background())
	require.NoError(t, err)
	return state
}

func question(id domain.QuestionID, order int) domain.Question {
	return domain.Question{
		ID:            id,
		DisplayOrder:  order,
		Category:      "default",
		IsActive:      true,
		Text:          "Which song played at the first dance?",
		Options:       [4]string{"Perfect", "Yellow", "Thinking Out Loud", "All of Me"},
		CorrectAnswer: domain.ChoiceB,
		Points:        100,
		TimeLimit:     5,
	}
}

// scenarioQuestion is the fully featured rule set used across scoring tests.
func scenarioQuestion(id domain.QuestionID) domain.Question {
	q := question(id, 1)
	q.PenaltyEnabled = true
	q.PenaltyScore = 50
	q.TimeoutPenaltyEnabled = true
	q.TimeoutPenaltyScore = 10
	q.SpeedBonusEnabled = true
	q.MaxBonusPoints = 20
	return q
}

func choice(c domain.Choice) *domain.Choice { return &c }
