package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
)

// liveFixture starts a game on question 10 and opens its answer window.
func liveFixture(t *testing.T, scorer app.Scorer) *fixture {
	t.Helper()
	f := newFixture(t, scorer, scenarioQuestion(10), scenarioQuestion(11))
	f.store.AddParticipant(domain.Participant{LineID: "u1", DisplayName: "Alice"})
	f.store.AddParticipant(domain.Participant{LineID: "u2", DisplayName: "Bob"})
	f.exec(t, domain.StartGame{})
	f.exec(t, domain.StartFirstQuestion{})
	f.clock.Advance(5 * time.Second) // pre-roll
	return f
}

func TestSubmitCorrectAnswerScenario(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	f.clock.Advance(time.Second)

	res, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB), AnswerTimeMs: 1000,
	})
	require.NoError(t, err)
	assert.True(t, res.Record.IsCorrect)
	assert.Equal(t, 118, res.Details.FinalScore)
	assert.Equal(t, 118, res.TotalScore)
	assert.EqualValues(t, 1000, res.Record.AnswerTimeMs)
}

func TestSubmitWrongAndTimeout(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	ctx := context.Background()

	f.clock.Advance(5 * time.Second)
	res, err := f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceA), AnswerTimeMs: 5000,
	})
	require.NoError(t, err)
	assert.False(t, res.Record.IsCorrect)
	assert.Equal(t, -50, res.Record.ScoreDelta)

	f.clock.Advance(10 * time.Second)
	res, err = f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u2", QuestionID: 10, AnswerTimeMs: 15000, IsTimeout: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Record.IsCorrect)
	assert.Equal(t, -10, res.Record.ScoreDelta)
	assert.Equal(t, -10, res.TotalScore)
}

func TestDuplicateSubmissionScoredOnce(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	ctx := context.Background()
	sub := domain.AnswerSubmission{UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB), AnswerTimeMs: 2000}

	first, err := f.scoring.SubmitAnswer(ctx, sub)
	require.NoError(t, err)

	// A late explicit answer racing the implicit timeout.
	_, err = f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{UserID: "u1", QuestionID: 10, IsTimeout: true, AnswerTimeMs: 15000})
	require.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	_, err = f.scoring.SubmitAnswer(ctx, sub)
	require.ErrorIs(t, err, domain.ErrDuplicateSubmission)

	p, _ := f.store.Participant("u1")
	assert.Equal(t, first.TotalScore, p.QuizScore)
	assert.Len(t, f.store.Answers(), 1)
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	sub := domain.AnswerSubmission{UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB), AnswerTimeMs: 0}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.scoring.SubmitAnswer(context.Background(), sub); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	p, _ := f.store.Participant("u1")
	assert.Equal(t, 120, p.QuizScore)
}

func TestStaleSubmissionIgnored(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	ctx := context.Background()
	f.exec(t, domain.NextQuestion{})

	_, err := f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.ErrorIs(t, err, domain.ErrStaleSubmission)

	_, err = f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u1", QuestionID: 404, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.ErrorIs(t, err, domain.ErrStaleSubmission)

	p, _ := f.store.Participant("u1")
	assert.Zero(t, p.QuizScore)
	assert.Empty(t, f.store.Answers())
}

func TestSubmissionAfterGameEndIsStale(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	f.exec(t, domain.EndGame{})

	_, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.ErrorIs(t, err, domain.ErrStaleSubmission)
}

func TestUnknownParticipantLeavesNoRecord(t *testing.T) {
	f := liveFixture(t, app.Scorer{})

	_, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "ghost", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.ErrorIs(t, err, domain.ErrParticipantNotFound)
	assert.Empty(t, f.store.Answers(), "answer insert rolled back with the failed increment")
}

func TestServerObservedTimeBoundsClaimedSpeed(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	f.clock.Advance(9 * time.Second)

	res, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB), AnswerTimeMs: 0,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9000, res.Record.AnswerTimeMs)
	assert.Equal(t, 8, res.Details.SpeedBonus)
}

func TestRankBonusFollowsArrivalOrder(t *testing.T) {
	f := liveFixture(t, app.Scorer{RankBonuses: []int{5, 3}})
	ctx := context.Background()
	f.clock.Advance(9 * time.Second)

	first, err := f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB)})
	require.NoError(t, err)
	second, err := f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{UserID: "u2", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB)})
	require.NoError(t, err)

	assert.Equal(t, 5, first.Details.RankBonus)
	assert.Equal(t, 3, second.Details.RankBonus)
}

func TestSubmitPublishesScoresUpdated(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	events, cancel := f.hub.Subscribe()
	defer cancel()
	<-events // latest game state

	_, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, app.EventScoresUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected scores_updated event")
	}
}

func TestLeaderboardRanks(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	ctx := context.Background()
	_, err := f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{UserID: "u2", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB)})
	require.NoError(t, err)

	board, err := f.scoring.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "u2", board.Entries[0].LineID)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, 2, board.Entries[1].Rank)
}

func TestAnswerDuringPreRollRejected(t *testing.T) {
	f := newFixture(t, app.Scorer{}, scenarioQuestion(10))
	f.store.AddParticipant(domain.Participant{LineID: "u1"})
	f.exec(t, domain.StartGame{})
	f.exec(t, domain.StartFirstQuestion{})
	f.clock.Advance(time.Second)

	_, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.ErrorIs(t, err, domain.ErrAnswersNotOpen)
	assert.Empty(t, f.store.Answers())

	// Once the pre-roll is over the same guest may still answer.
	f.clock.Advance(4 * time.Second)
	res, err := f.scoring.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB),
	})
	require.NoError(t, err)
	assert.Equal(t, 120, res.Details.FinalScore)
}

func TestLateAnswerScoredAsTimeout(t *testing.T) {
	f := liveFixture(t, app.Scorer{})
	ctx := context.Background()

	// Inside the grace period the answer still counts, without speed bonus.
	f.clock.Advance(window + time.Second)
	res, err := f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u1", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB), AnswerTimeMs: 500,
	})
	require.NoError(t, err)
	assert.True(t, res.Record.IsCorrect)
	assert.False(t, res.Record.IsTimeout)
	assert.Equal(t, 100, res.Details.FinalScore)

	f.clock.Advance(10 * time.Minute)
	res, err = f.scoring.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u2", QuestionID: 10, SelectedAnswer: choice(domain.ChoiceB), AnswerTimeMs: 500,
	})
	require.NoError(t, err)
	assert.False(t, res.Record.IsCorrect)
	assert.True(t, res.Record.IsTimeout)
	assert.Equal(t, -10, res.Details.FinalScore)
	assert.Equal(t, -10, res.TotalScore)
}
