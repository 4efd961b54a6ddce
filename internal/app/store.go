package app

import (
	"context"
	"time"

	"wedding-quiz-service/internal/domain"
)

// QuestionFinder looks questions up in the question bank. Only active
// questions of the given set take part in ordering.
type QuestionFinder interface {
	GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error)
	// FirstQuestion returns the lowest (display_order, id) active question of set.
	FirstQuestion(ctx context.Context, set string) (domain.Question, bool, error)
	// NextQuestion returns the first active question of set ordered strictly after `after`.
	NextQuestion(ctx context.Context, set string, after domain.Question) (domain.Question, bool, error)
	CountQuestions(ctx context.Context, set string) (int, error)
}

// Tx is the unit of work handed to Store.RunInTx. Every write made through it
// is discarded when the surrounding function returns an error.
type Tx interface {
	QuestionFinder

	// LockGameState reads the game state row for update.
	LockGameState(ctx context.Context) (domain.GameState, error)
	// ShareGameState reads the game state row, blocking concurrent updates until commit.
	ShareGameState(ctx context.Context) (domain.GameState, error)
	SaveGameState(ctx context.Context, state domain.GameState) error

	IsAdmin(ctx context.Context, adminID string) (bool, error)
	InsertAdminAction(ctx context.Context, action domain.AdminAction) error

	// InsertAnswer returns domain.ErrDuplicateSubmission when the pair already exists.
	InsertAnswer(ctx context.Context, record domain.AnswerRecord) error
	CountCorrectAnswers(ctx context.Context, questionID domain.QuestionID) (int, error)
	// AddScore atomically adds delta to quiz_score and returns the new total.
	AddScore(ctx context.Context, userID string, delta int) (int, error)

	// ClearPresence sets is_in_quiz_page=false for every participant.
	ClearPresence(ctx context.Context) error
	// ResetScores deletes all answers and score adjustments, zeroes scores and presence.
	ResetScores(ctx context.Context) error
}

// Store is the persistent backend of the game. Implementations must make
// RunInTx atomic and serialize concurrent LockGameState callers.
type Store interface {
	QuestionFinder

	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetGameState(ctx context.Context) (domain.GameState, error)

	// Heartbeat upserts the participant as present; an empty displayName keeps the stored one.
	Heartbeat(ctx context.Context, lineID, displayName string, at time.Time) error
	Leave(ctx context.Context, lineID string) error
	CountPresent(ctx context.Context, since time.Time) (int, error)

	// Leaderboard orders participants by quiz_score plus score adjustments.
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// QuestionRepository serves question rules, typically through a cache.
type QuestionRepository interface {
	GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error)
}
