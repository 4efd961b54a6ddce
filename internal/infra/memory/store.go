package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. Transactions are
// serialized by a single mutex and rolled back through an undo journal.
type Store struct {
	mu           sync.Mutex
	state        domain.GameState
	questions    map[domain.QuestionID]domain.Question
	participants map[string]*domain.Participant
	answers      map[answerKey]domain.AnswerRecord
	adjustments  []ScoreAdjustment
	actions      []domain.AdminAction
	admins       map[string]struct{}
}

// ScoreAdjustment is a manual admin correction summed into the leaderboard.
type ScoreAdjustment struct {
	UserID string
	Delta  int
}

type answerKey struct {
	userID     string
	questionID domain.QuestionID
}

// NewStore creates an idle game with the given answer window and question set.
func NewStore(questionTimeLimit int, questionSet string) *Store {
	return &Store{
		state: domain.GameState{
			DisplayPhase:      domain.DisplayQuestion,
			ActiveQuestionSet: questionSet,
			QuestionTimeLimit: questionTimeLimit,
		},
		questions:    make(map[domain.QuestionID]domain.Question),
		participants: make(map[string]*domain.Participant),
		answers:      make(map[answerKey]domain.AnswerRecord),
		admins:       make(map[string]struct{}),
	}
}

func (s *Store) AddAdmin(lineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[lineID] = struct{}{}
}

func (s *Store) AddQuestions(questions ...domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range questions {
		s.questions[q.ID] = q
	}
}

func (s *Store) AddParticipant(p domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.LineID] = &p
}

func (s *Store) AddScoreAdjustment(adj ScoreAdjustment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments = append(s.adjustments, adj)
}

// Participant returns a copy of the stored participant.
func (s *Store) Participant(lineID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[lineID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Answers returns every stored answer record.
func (s *Store) Answers() []domain.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AnswerRecord, 0, len(s.answers))
	for _, a := range s.answers {
		out = append(out, a)
	}
	return out
}

// AdminActions returns the audit log in insertion order.
func (s *Store) AdminActions() []domain.AdminAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AdminAction(nil), s.actions...)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &storeTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetGameState(_ context.Context) (domain.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *Store) GetQuestion(_ context.Context, id domain.QuestionID) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getQuestion(id)
}

func (s *Store) FirstQuestion(_ context.Context, set string) (domain.Question, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.firstAfter(set, nil)
	return q, ok, nil
}

func (s *Store) NextQuestion(_ context.Context, set string, after domain.Question) (domain.Question, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.firstAfter(set, &after)
	return q, ok, nil
}

func (s *Store) CountQuestions(_ context.Context, set string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ordered(set)), nil
}

func (s *Store) Heartbeat(_ context.Context, lineID, displayName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[lineID]
	if !ok {
		p = &domain.Participant{LineID: lineID}
		s.participants[lineID] = p
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	p.IsInQuizPage = true
	p.LastHeartbeat = at
	return nil
}

func (s *Store) Leave(_ context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[lineID]; ok {
		p.IsInQuizPage = false
	}
	return nil
}

func (s *Store) CountPresent(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.participants {
		if p.IsInQuizPage && !p.LastHeartbeat.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adjusted := make(map[string]int, len(s.adjustments))
	for _, adj := range s.adjustments {
		adjusted[adj.UserID] += adj.Delta
	}
	entries := make([]domain.LeaderboardEntry, 0, len(s.participants))
	for _, p := range s.participants {
		entries = append(entries, domain.LeaderboardEntry{
			LineID:      p.LineID,
			DisplayName: p.DisplayName,
			Score:       p.QuizScore + adjusted[p.LineID],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].LineID < entries[j].LineID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) getQuestion(id domain.QuestionID) (domain.Question, error) {
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *Store) ordered(set string) []domain.Question {
	out := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		if q.IsActive && q.Category == set {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Store) firstAfter(set string, after *domain.Question) (domain.Question, bool) {
	for _, q := range s.ordered(set) {
		if after == nil || after.Before(q) {
			return q, true
		}
	}
	return domain.Question{}, false
}

// storeTx runs with Store.mu held; every mutation records its inverse.
type storeTx struct {
	s    *Store
	undo []func()
}

var _ app.Tx = (*storeTx)(nil)

func (t *storeTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *storeTx) GetQuestion(_ context.Context, id domain.QuestionID) (domain.Question, error) {
	return t.s.getQuestion(id)
}

func (t *storeTx) FirstQuestion(_ context.Context, set string) (domain.Question, bool, error) {
	q, ok := t.s.firstAfter(set, nil)
	return q, ok, nil
}

func (t *storeTx) NextQuestion(_ context.Context, set string, after domain.Question) (domain.Question, bool, error) {
	q, ok := t.s.firstAfter(set, &after)
	return q, ok, nil
}

func (t *storeTx) CountQuestions(_ context.Context, set string) (int, error) {
	return len(t.s.ordered(set)), nil
}

func (t *storeTx) LockGameState(_ context.Context) (domain.GameState, error) {
	return t.s.state, nil
}

func (t *storeTx) ShareGameState(_ context.Context) (domain.GameState, error) {
	return t.s.state, nil
}

func (t *storeTx) SaveGameState(_ context.Context, state domain.GameState) error {
	prev := t.s.state
	t.s.state = state
	t.undo = append(t.undo, func() { t.s.state = prev })
	return nil
}

func (t *storeTx) IsAdmin(_ context.Context, adminID string) (bool, error) {
	_, ok := t.s.admins[adminID]
	return ok, nil
}

func (t *storeTx) InsertAdminAction(_ context.Context, action domain.AdminAction) error {
	n := len(t.s.actions)
	t.s.actions = append(t.s.actions, action)
	t.undo = append(t.undo, func() { t.s.actions = t.s.actions[:n] })
	return nil
}

func (t *storeTx) InsertAnswer(_ context.Context, record domain.AnswerRecord) error {
	key := answerKey{userID: record.UserID, questionID: record.QuestionID}
	if _, exists := t.s.answers[key]; exists {
		return domain.ErrDuplicateSubmission
	}
	t.s.answers[key] = record
	t.undo = append(t.undo, func() { delete(t.s.answers, key) })
	return nil
}

func (t *storeTx) CountCorrectAnswers(_ context.Context, questionID domain.QuestionID) (int, error) {
	n := 0
	for key, a := range t.s.answers {
		if key.questionID == questionID && a.IsCorrect {
			n++
		}
	}
	return n, nil
}

func (t *storeTx) AddScore(_ context.Context, userID string, delta int) (int, error) {
	p, ok := t.s.participants[userID]
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	p.QuizScore += delta
	t.undo = append(t.undo, func() { p.QuizScore -= delta })
	return p.QuizScore, nil
}

func (t *storeTx) ClearPresence(_ context.Context) error {
	for _, p := range t.s.participants {
		if !p.IsInQuizPage {
			continue
		}
		p := p
		p.IsInQuizPage = false
		t.undo = append(t.undo, func() { p.IsInQuizPage = true })
	}
	return nil
}

func (t *storeTx) ResetScores(ctx context.Context) error {
	prevAnswers, prevAdjustments := t.s.answers, t.s.adjustments
	t.s.answers = make(map[answerKey]domain.AnswerRecord)
	t.s.adjustments = nil
	t.undo = append(t.undo, func() {
		t.s.answers = prevAnswers
		t.s.adjustments = prevAdjustments
	})
	for _, p := range t.s.participants {
		p, score := p, p.QuizScore
		p.QuizScore = 0
		t.undo = append(t.undo, func() { p.QuizScore = score })
	}
	return t.ClearPresence(ctx)
}
