package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-quiz-service/internal/domain"
	"wedding-quiz-service/internal/infra/memory"
)

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestion())}
	repo := NewQuestionRepository(newClient(mr), loader, time.Minute)
	ctx := context.Background()

	q, err := repo.GetQuestion(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.ChoiceC, q.CorrectAnswer)
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.True(t, mr.Exists("quiz:question:7"))

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuestion(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, q, cached)
	assert.Equal(t, int32(1), loader.calls.Load())

	mr.FastForward(2 * time.Minute)
	_, err = repo.GetQuestion(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestQuestionRepositoryUnknownQuestion(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := NewQuestionRepository(newClient(mr), memory.NewStaticQuestionLoader(), time.Minute)

	_, err := repo.GetQuestion(context.Background(), 99)
	require.ErrorIs(t, err, domain.ErrQuestionNotFound)
	assert.False(t, mr.Exists("quiz:question:99"))
}

func TestQuestionRepositoryFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestion())}
	repo := NewQuestionRepository(newClient(mr), loader, time.Minute)
	mr.Close()

	q, err := repo.GetQuestion(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, q.ID)
}

func TestQuestionRepositoryInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestion())}
	repo := NewQuestionRepository(newClient(mr), loader, time.Minute)
	ctx := context.Background()

	_, err := repo.GetQuestion(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, repo.Invalidate(ctx, 7))
	assert.False(t, mr.Exists("quiz:question:7"))

	_, err = repo.GetQuestion(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

type countingLoader struct {
	memory.QuestionLoader
	calls atomic.Int32
}

func (l *countingLoader) GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error) {
	l.calls.Add(1)
	return l.QuestionLoader.GetQuestion(ctx, id)
}

func sampleQuestion() domain.Question {
	return domain.Question{
		ID:                7,
		DisplayOrder:      3,
		Category:          "default",
		IsActive:          true,
		Text:              "Where did the couple first meet?",
		Options:           [4]string{"Library", "Gym", "University", "Train"},
		CorrectAnswer:     domain.ChoiceC,
		Points:            100,
		TimeLimit:         5,
		SpeedBonusEnabled: true,
		MaxBonusPoints:    20,
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
