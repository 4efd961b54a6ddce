package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"wedding-quiz-service/internal/domain"
	"wedding-quiz-service/internal/infra/memory"
)

// QuestionRepository caches question rules in Redis so every instance shares
// one warm copy, and falls back to the loader on a miss.
// Questions are stored as JSON under quiz:question:{id}.
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error) {
	key := questionKey(id)
	if q, ok := r.lookup(ctx, key); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if q, ok := r.lookup(ctx, key); ok {
			return q, nil
		}

		q, err := r.loader.GetQuestion(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}

		data, err := json.Marshal(q)
		if err == nil {
			err = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("question cache fill failed")
		}
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

// Invalidate drops cached copies of questions replaced by an import.
func (r *QuestionRepository) Invalidate(ctx context.Context, ids ...domain.QuestionID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, questionKey(id))
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *QuestionRepository) lookup(ctx context.Context, key string) (domain.Question, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("question cache read failed")
		}
		return domain.Question{}, false
	}
	var q domain.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Question{}, false
	}
	return q, true
}

func questionKey(id domain.QuestionID) string {
	return "quiz:question:" + strconv.FormatInt(int64(id), 10)
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
