package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
)

func TestStoreOrdersQuestionsByDisplayOrderThenID(t *testing.T) {
	store := NewStore(15, "default")
	store.AddQuestions(
		domain.Question{ID: 12, DisplayOrder: 2, Category: "default", IsActive: true},
		domain.Question{ID: 11, DisplayOrder: 1, Category: "default", IsActive: true},
		domain.Question{ID: 10, DisplayOrder: 1, Category: "default", IsActive: true},
		domain.Question{ID: 9, DisplayOrder: 0, Category: "default", IsActive: false},
		domain.Question{ID: 8, DisplayOrder: 0, Category: "other", IsActive: true},
	)
	ctx := context.Background()

	first, ok, err := store.FirstQuestion(ctx, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 10, first.ID)

	next, ok, _ := store.NextQuestion(ctx, "default", first)
	require.True(t, ok)
	assert.EqualValues(t, 11, next.ID)

	next, ok, _ = store.NextQuestion(ctx, "default", next)
	require.True(t, ok)
	assert.EqualValues(t, 12, next.ID)

	_, ok, _ = store.NextQuestion(ctx, "default", next)
	assert.False(t, ok)

	n, _ := store.CountQuestions(ctx, "default")
	assert.Equal(t, 3, n)
}

func TestStoreRollsBackFailedTransaction(t *testing.T) {
	store := NewStore(15, "default")
	store.AddParticipant(domain.Participant{LineID: "u1", QuizScore: 40, IsInQuizPage: true})
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		state, _ := tx.LockGameState(ctx)
		state.IsActive = true
		require.NoError(t, tx.SaveGameState(ctx, state))
		require.NoError(t, tx.InsertAnswer(ctx, domain.AnswerRecord{UserID: "u1", QuestionID: 1}))
		_, err := tx.AddScore(ctx, "u1", 10)
		require.NoError(t, err)
		require.NoError(t, tx.InsertAdminAction(ctx, domain.AdminAction{ActionType: "x"}))
		require.NoError(t, tx.ResetScores(ctx))
		return boom
	})
	require.ErrorIs(t, err, boom)

	state, _ := store.GetGameState(ctx)
	assert.False(t, state.IsActive)
	assert.Empty(t, store.Answers())
	assert.Empty(t, store.AdminActions())
	p, _ := store.Participant("u1")
	assert.Equal(t, 40, p.QuizScore)
	assert.True(t, p.IsInQuizPage)
}

func TestStoreRejectsDuplicateAnswer(t *testing.T) {
	store := NewStore(15, "default")
	ctx := context.Background()
	insert := func() error {
		return store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
			return tx.InsertAnswer(ctx, domain.AnswerRecord{UserID: "u1", QuestionID: 1})
		})
	}

	require.NoError(t, insert())
	require.ErrorIs(t, insert(), domain.ErrDuplicateSubmission)
	assert.Len(t, store.Answers(), 1)
}

func TestStorePresenceAndLeaderboard(t *testing.T) {
	store := NewStore(15, "default")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)

	require.NoError(t, store.Heartbeat(ctx, "u1", "Alice", now))
	require.NoError(t, store.Heartbeat(ctx, "u2", "Bob", now.Add(-2*time.Minute)))
	require.NoError(t, store.Heartbeat(ctx, "u3", "Carol", now))
	require.NoError(t, store.Leave(ctx, "u3"))
	require.NoError(t, store.Leave(ctx, "unknown"))

	n, err := store.CountPresent(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Heartbeat(ctx, "u1", "", now))
	p, _ := store.Participant("u1")
	assert.Equal(t, "Alice", p.DisplayName, "empty name keeps the stored one")

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		_, err := tx.AddScore(ctx, "u2", 30)
		return err
	}))
	store.AddScoreAdjustment(ScoreAdjustment{UserID: "u1", Delta: 50})

	entries, err := store.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", entries[0].LineID)
	assert.Equal(t, 50, entries[0].Score)
	assert.Equal(t, "u2", entries[1].LineID)
}
