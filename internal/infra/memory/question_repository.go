package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"wedding-quiz-service/internal/domain"
)

// QuestionLoader fetches question rules from the backing store.
type QuestionLoader interface {
	GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error)
}

// QuestionRepository caches question rules with TTL so a burst of submissions
// for the live question hits the store once.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[domain.QuestionID]cachedQuestion
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration, clock clockwork.Clock) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.QuestionID]cachedQuestion),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error) {
	if q, ok := r.lookup(id); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(strconv.FormatInt(int64(id), 10), func() (interface{}, error) {
		if q, ok := r.lookup(id); ok {
			return q, nil
		}

		q, err := r.loader.GetQuestion(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}

		r.mu.Lock()
		r.cache[id] = cachedQuestion{
			question:  q,
			expiresAt: r.clock.Now().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) lookup(id domain.QuestionID) (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || !entry.expiresAt.After(r.clock.Now()) {
		return domain.Question{}, false
	}
	return entry.question, true
}

// ttlWithJitter must be called with mu held for writing.
func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by a fixed map (tests/demos).
type StaticQuestionLoader struct {
	questions map[domain.QuestionID]domain.Question
}

func NewStaticQuestionLoader(questions ...domain.Question) *StaticQuestionLoader {
	l := &StaticQuestionLoader{questions: make(map[domain.QuestionID]domain.Question, len(questions))}
	for _, q := range questions {
		l.questions[q.ID] = q
	}
	return l
}

func (l *StaticQuestionLoader) GetQuestion(_ context.Context, id domain.QuestionID) (domain.Question, error) {
	if q, ok := l.questions[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
