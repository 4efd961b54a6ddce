package app

import (
	"time"

	"wedding-quiz-service/internal/domain"
)

// AnswerGrace is how long after the window closes an answer still counts,
// covering the trip from the guest's device.
const AnswerGrace = 2 * time.Second

// TimeRemaining derives what is left of the pre-roll plus answer window from the
// shared question start timestamp. While paused the value is frozen at the
// moment of pausing.
func TimeRemaining(state domain.GameState, q domain.Question, now time.Time) time.Duration {
	if state.QuestionStartTime == nil {
		return 0
	}
	total := q.PreRoll() + state.AnswerWindow()
	remaining := total - sinceStart(state, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AnswerElapsed is how long the answer window has been open, 0 during pre-roll.
func AnswerElapsed(state domain.GameState, q domain.Question, now time.Time) time.Duration {
	if state.QuestionStartTime == nil {
		return 0
	}
	elapsed := sinceStart(state, now) - q.PreRoll()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// AnswersOpen reports whether the pre-roll of the current question is over.
func AnswersOpen(state domain.GameState, q domain.Question, now time.Time) bool {
	return state.QuestionStartTime != nil && sinceStart(state, now) >= q.PreRoll()
}

// AnswerLate reports whether the answer window plus AnswerGrace has passed.
func AnswerLate(state domain.GameState, q domain.Question, now time.Time) bool {
	return AnswerElapsed(state, q, now) > state.AnswerWindow()+AnswerGrace
}

func sinceStart(state domain.GameState, now time.Time) time.Duration {
	ref := now
	if state.IsPaused && state.PausedAt != nil {
		ref = *state.PausedAt
	}
	elapsed := ref.Sub(*state.QuestionStartTime)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
