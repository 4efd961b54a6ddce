package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	answerUserFK     = "answer_records_user_id_fkey"
	answerQuestionFK = "answer_records_question_id_fkey"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store implements app.Store on Postgres. Game state changes run under a row
// lock on the singleton game_state row; scores use in-place increments.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ app.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &storeTx{queries: queries{q: tx}})
	})
}

func (s *Store) GetGameState(ctx context.Context) (domain.GameState, error) {
	return scanGameState(s.q.QueryRow(ctx, `SELECT `+gameStateColumns+` FROM game_state WHERE id = 1`))
}

func (s *Store) Heartbeat(ctx context.Context, lineID, displayName string, at time.Time) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO users (line_id, display_name, is_in_quiz_page, last_heartbeat)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (line_id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name = '' THEN users.display_name ELSE EXCLUDED.display_name END,
			is_in_quiz_page = TRUE,
			last_heartbeat = EXCLUDED.last_heartbeat`,
		lineID, displayName, at)
	if err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	return nil
}

func (s *Store) Leave(ctx context.Context, lineID string) error {
	if _, err := s.q.Exec(ctx, `UPDATE users SET is_in_quiz_page = FALSE WHERE line_id = $1`, lineID); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

func (s *Store) CountPresent(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE is_in_quiz_page AND last_heartbeat >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count present: %w", err)
	}
	return n, nil
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.q.Query(ctx, `
		SELECT u.line_id, u.display_name, u.quiz_score + COALESCE(SUM(a.delta), 0) AS score
		FROM users u
		LEFT JOIN score_adjustments a ON a.user_id = u.line_id
		GROUP BY u.line_id
		ORDER BY score DESC, u.display_name, u.line_id
		LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.LineID, &e.DisplayName, &e.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddAdmin grants control rights to lineID.
func (s *Store) AddAdmin(ctx context.Context, lineID string) error {
	_, err := s.q.Exec(ctx, `INSERT INTO admins (line_id) VALUES ($1) ON CONFLICT (line_id) DO NOTHING`, lineID)
	if err != nil {
		return fmt.Errorf("add admin: %w", err)
	}
	return nil
}

// ImportResult reports what an import changed.
type ImportResult struct {
	Inserted int
	// Deactivated lists questions replaced by the import; cached copies are stale.
	Deactivated []domain.QuestionID
}

// ImportQuestions copies questions into set. With replace, the set's existing
// questions are deactivated first so their answer history stays intact.
func (s *Store) ImportQuestions(ctx context.Context, set string, questions []domain.Question, replace bool) (ImportResult, error) {
	var res ImportResult
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if replace {
			deactivated, err := tx.Query(ctx, `UPDATE questions SET is_active = FALSE WHERE category = $1 AND is_active RETURNING id`, set)
			if err != nil {
				return fmt.Errorf("deactivate set: %w", err)
			}
			for deactivated.Next() {
				var id int64
				if err := deactivated.Scan(&id); err != nil {
					deactivated.Close()
					return fmt.Errorf("deactivate set: %w", err)
				}
				res.Deactivated = append(res.Deactivated, domain.QuestionID(id))
			}
			deactivated.Close()
			if err := deactivated.Err(); err != nil {
				return fmt.Errorf("deactivate set: %w", err)
			}
		}
		rows := make([][]interface{}, 0, len(questions))
		for _, q := range questions {
			rows = append(rows, []interface{}{
				q.DisplayOrder, set, q.IsActive, q.Text,
				q.Options[0], q.Options[1], q.Options[2], q.Options[3],
				string(q.CorrectAnswer), q.Points, q.TimeLimit,
				q.PenaltyEnabled, q.PenaltyScore,
				q.TimeoutPenaltyEnabled, q.TimeoutPenaltyScore,
				q.SpeedBonusEnabled, q.MaxBonusPoints,
			})
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"questions"}, []string{
			"display_order", "category", "is_active", "question_text",
			"option_a", "option_b", "option_c", "option_d",
			"correct_answer", "points", "time_limit",
			"penalty_enabled", "penalty_score",
			"timeout_penalty_enabled", "timeout_penalty_score",
			"speed_bonus_enabled", "max_bonus_points",
		}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy questions: %w", err)
		}
		res.Inserted = int(n)
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

type storeTx struct {
	queries
}

var _ app.Tx = (*storeTx)(nil)

func (t *storeTx) LockGameState(ctx context.Context) (domain.GameState, error) {
	return scanGameState(t.q.QueryRow(ctx, `SELECT `+gameStateColumns+` FROM game_state WHERE id = 1 FOR UPDATE`))
}

func (t *storeTx) ShareGameState(ctx context.Context) (domain.GameState, error) {
	return scanGameState(t.q.QueryRow(ctx, `SELECT `+gameStateColumns+` FROM game_state WHERE id = 1 FOR SHARE`))
}

func (t *storeTx) SaveGameState(ctx context.Context, g domain.GameState) error {
	var current *int64
	if g.CurrentQuestionID != nil {
		id := int64(*g.CurrentQuestionID)
		current = &id
	}
	_, err := t.q.Exec(ctx, `
		UPDATE game_state SET
			is_active = $1, is_paused = $2, current_question_id = $3,
			question_start_time = $4, paused_at = $5, ended_at = $6,
			display_phase = $7, active_question_set = $8,
			completed_questions = $9, total_questions = $10,
			question_time_limit = $11, updated_at = $12
		WHERE id = 1`,
		g.IsActive, g.IsPaused, current,
		g.QuestionStartTime, g.PausedAt, g.EndedAt,
		string(g.DisplayPhase), g.ActiveQuestionSet,
		g.CompletedQuestions, g.TotalQuestions,
		g.QuestionTimeLimit, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save game state: %w", err)
	}
	return nil
}

func (t *storeTx) IsAdmin(ctx context.Context, adminID string) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM admins WHERE line_id = $1)`, adminID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return ok, nil
}

func (t *storeTx) InsertAdminAction(ctx context.Context, a domain.AdminAction) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("encode action details: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO admin_actions (id, admin_id, action_type, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.AdminID, a.ActionType, a.TargetType, a.TargetID, details, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert admin action: %w", err)
	}
	return nil
}

func (t *storeTx) InsertAnswer(ctx context.Context, r domain.AnswerRecord) error {
	var selected *string
	if r.SelectedAnswer != nil {
		s := string(*r.SelectedAnswer)
		selected = &s
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO answer_records
			(user_id, question_id, selected_answer, answer_time_ms, is_timeout, is_correct, score_delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.UserID, int64(r.QuestionID), selected, r.AnswerTimeMs, r.IsTimeout, r.IsCorrect, r.ScoreDelta, r.CreatedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return domain.ErrDuplicateSubmission
		case pgErr.Code == foreignKeyViolation && pgErr.ConstraintName == answerUserFK:
			return domain.ErrParticipantNotFound
		case pgErr.Code == foreignKeyViolation && pgErr.ConstraintName == answerQuestionFK:
			return domain.ErrQuestionNotFound
		}
	}
	return fmt.Errorf("insert answer: %w", err)
}

// CountCorrectAnswers serializes ranking per question with a transaction-scoped
// advisory lock so two simultaneous correct answers never share a rank.
func (t *storeTx) CountCorrectAnswers(ctx context.Context, questionID domain.QuestionID) (int, error) {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(questionID)); err != nil {
		return 0, fmt.Errorf("lock question rank: %w", err)
	}
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT count(*) FROM answer_records WHERE question_id = $1 AND is_correct`, int64(questionID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count correct answers: %w", err)
	}
	return n, nil
}

func (t *storeTx) AddScore(ctx context.Context, userID string, delta int) (int, error) {
	var total int
	err := t.q.QueryRow(ctx,
		`UPDATE users SET quiz_score = quiz_score + $2 WHERE line_id = $1 RETURNING quiz_score`,
		userID, delta).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrParticipantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add score: %w", err)
	}
	return total, nil
}

func (t *storeTx) ClearPresence(ctx context.Context) error {
	if _, err := t.q.Exec(ctx, `UPDATE users SET is_in_quiz_page = FALSE WHERE is_in_quiz_page`); err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}

func (t *storeTx) ResetScores(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM answer_records`,
		`DELETE FROM score_adjustments`,
		`UPDATE users SET quiz_score = 0, is_in_quiz_page = FALSE`,
	} {
		if _, err := t.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("reset scores: %w", err)
		}
	}
	return nil
}

// queries holds the read paths shared by Store and storeTx.
type queries struct {
	q querier
}

const questionColumns = `id, display_order, category, is_active, question_text,
	option_a, option_b, option_c, option_d, correct_answer, points, time_limit,
	penalty_enabled, penalty_score, timeout_penalty_enabled, timeout_penalty_score,
	speed_bonus_enabled, max_bonus_points`

const gameStateColumns = `is_active, is_paused, current_question_id, question_start_time,
	paused_at, ended_at, display_phase, active_question_set, completed_questions,
	total_questions, question_time_limit, updated_at`

func (r queries) GetQuestion(ctx context.Context, id domain.QuestionID) (domain.Question, error) {
	q, err := scanQuestion(r.q.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, err
}

func (r queries) FirstQuestion(ctx context.Context, set string) (domain.Question, bool, error) {
	return r.optionalQuestion(scanQuestion(r.q.QueryRow(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE category = $1 AND is_active
		ORDER BY display_order, id
		LIMIT 1`, set)))
}

func (r queries) NextQuestion(ctx context.Context, set string, after domain.Question) (domain.Question, bool, error) {
	return r.optionalQuestion(scanQuestion(r.q.QueryRow(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE category = $1 AND is_active AND (display_order, id) > ($2, $3)
		ORDER BY display_order, id
		LIMIT 1`, set, after.DisplayOrder, int64(after.ID))))
}

func (r queries) CountQuestions(ctx context.Context, set string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT count(*) FROM questions WHERE category = $1 AND is_active`, set).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

func (r queries) optionalQuestion(q domain.Question, err error) (domain.Question, bool, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, false, nil
	}
	if err != nil {
		return domain.Question{}, false, err
	}
	return q, true, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q       domain.Question
		id      int64
		correct string
	)
	err := row.Scan(&id, &q.DisplayOrder, &q.Category, &q.IsActive, &q.Text,
		&q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3], &correct, &q.Points, &q.TimeLimit,
		&q.PenaltyEnabled, &q.PenaltyScore, &q.TimeoutPenaltyEnabled, &q.TimeoutPenaltyScore,
		&q.SpeedBonusEnabled, &q.MaxBonusPoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Question{}, err
		}
		return domain.Question{}, fmt.Errorf("scan question: %w", err)
	}
	q.ID = domain.QuestionID(id)
	q.CorrectAnswer = domain.Choice(strings.TrimSpace(correct))
	return q, nil
}

func scanGameState(row pgx.Row) (domain.GameState, error) {
	var (
		g       domain.GameState
		current *int64
		phase   string
	)
	err := row.Scan(&g.IsActive, &g.IsPaused, &current, &g.QuestionStartTime,
		&g.PausedAt, &g.EndedAt, &phase, &g.ActiveQuestionSet, &g.CompletedQuestions,
		&g.TotalQuestions, &g.QuestionTimeLimit, &g.UpdatedAt)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("scan game state: %w", err)
	}
	if current != nil {
		id := domain.QuestionID(*current)
		g.CurrentQuestionID = &id
	}
	g.DisplayPhase = domain.DisplayPhase(phase)
	return g, nil
}
