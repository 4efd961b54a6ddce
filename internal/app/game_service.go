package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/domain"
)

// CommandResult describes the resolved effect of an applied control command.
type CommandResult struct {
	Action  string           `json:"action"`
	NoOp    bool             `json:"noop"`
	Details map[string]any   `json:"details"`
	State   domain.GameState `json:"-"`
}

// PublicQuestion is what guests may see of the live question.
type PublicQuestion struct {
	ID           domain.QuestionID `json:"id"`
	DisplayOrder int               `json:"display_order"`
	Text         string            `json:"question_text"`
	Options      [4]string         `json:"options"`
	Points       int               `json:"points"`
	TimeLimit    int               `json:"time_limit"`
	// CorrectAnswer is only revealed while rankings are shown.
	CorrectAnswer domain.Choice `json:"correct_answer,omitempty"`
}

// GameStateView is the read model served to clients.
type GameStateView struct {
	domain.GameState
	Phase           domain.Phase    `json:"phase"`
	CurrentQuestion *PublicQuestion `json:"current_question,omitempty"`
	TimeRemainingMs int64           `json:"time_remaining"`
	HasNextQuestion bool            `json:"has_next_question"`
	ServerTime      time.Time       `json:"server_time"`
}

// GameService is the admin-driven game control state machine.
type GameService struct {
	store     Store
	publisher Publisher
	clock     clockwork.Clock
}

func NewGameService(store Store, publisher Publisher, clock clockwork.Clock) *GameService {
	return &GameService{store: store, publisher: publisher, clock: clock}
}

// Execute verifies the admin, applies cmd to the locked game state and writes
// the audit record in the same transaction. No-op commands write nothing.
func (s *GameService) Execute(ctx context.Context, adminID string, cmd domain.Command) (CommandResult, error) {
	if cmd == nil {
		return CommandResult{}, fmt.Errorf("%w: missing command", domain.ErrInvalidCommand)
	}
	var result CommandResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.IsAdmin(ctx, adminID)
		if err != nil {
			return domain.WrapStore("verify admin", err)
		}
		if !ok {
			return domain.ErrUnauthorized
		}

		state, err := tx.LockGameState(ctx)
		if err != nil {
			return domain.WrapStore("lock game state", err)
		}

		now := s.clock.Now()
		result, err = s.apply(ctx, tx, &state, cmd, now)
		if err != nil {
			return err
		}
		result.Action = cmd.Action()
		result.State = state
		if result.NoOp {
			return nil
		}

		state.UpdatedAt = now
		result.State = state
		if err := tx.SaveGameState(ctx, state); err != nil {
			return domain.WrapStore("save game state", err)
		}
		targetType, targetID := auditTarget(state, cmd)
		action := domain.AdminAction{
			ID:         uuid.NewString(),
			AdminID:    adminID,
			ActionType: cmd.Action(),
			TargetType: targetType,
			TargetID:   targetID,
			Details:    result.Details,
			CreatedAt:  now,
		}
		if err := tx.InsertAdminAction(ctx, action); err != nil {
			return domain.WrapStore("insert admin action", err)
		}
		return nil
	})
	if err != nil {
		logCommandError(adminID, cmd, err)
		return CommandResult{}, err
	}

	log.Info().
		Str("action", result.Action).
		Str("admin_id", adminID).
		Bool("noop", result.NoOp).
		Interface("effect", result.Details).
		Msg("game control applied")

	if !result.NoOp {
		s.publishState(ctx)
	}
	return result, nil
}

func (s *GameService) apply(ctx context.Context, tx Tx, state *domain.GameState, cmd domain.Command, now time.Time) (CommandResult, error) {
	phase := state.Phase()
	switch c := cmd.(type) {
	case domain.StartGame:
		if state.IsActive {
			return CommandResult{}, fmt.Errorf("%w: game already active", domain.ErrInvalidTransition)
		}
		total, err := tx.CountQuestions(ctx, state.ActiveQuestionSet)
		if err != nil {
			return CommandResult{}, domain.WrapStore("count questions", err)
		}
		state.IsActive = true
		state.EndedAt = nil
		state.CompletedQuestions = 0
		state.TotalQuestions = total
		clearQuestion(state)
		return applied(map[string]any{"phase": domain.PhaseWaitingForPlayers, "total_questions": total}), nil

	case domain.StartFirstQuestion:
		if phase != domain.PhaseWaitingForPlayers {
			return CommandResult{}, fmt.Errorf("%w: cannot start first question while %s", domain.ErrInvalidTransition, phase)
		}
		q, found, err := tx.FirstQuestion(ctx, state.ActiveQuestionSet)
		if err != nil {
			return CommandResult{}, domain.WrapStore("first question", err)
		}
		if !found {
			return CommandResult{}, domain.ErrNoQuestions
		}
		setCurrent(state, q, now)
		return applied(map[string]any{"question_id": q.ID, "display_order": q.DisplayOrder}), nil

	case domain.PauseGame:
		switch phase {
		case domain.PhasePaused:
			return noop("already paused"), nil
		case domain.PhaseQuestionActive:
			state.IsPaused = true
			state.PausedAt = &now
			return applied(map[string]any{"question_id": *state.CurrentQuestionID}), nil
		}
		return CommandResult{}, fmt.Errorf("%w: no question to pause while %s", domain.ErrInvalidTransition, phase)

	case domain.ResumeGame:
		if phase != domain.PhasePaused {
			return noop("not paused"), nil
		}
		// The answer window restarts from now rather than continuing the frozen countdown.
		state.IsPaused = false
		state.PausedAt = nil
		state.QuestionStartTime = &now
		return applied(map[string]any{"question_id": *state.CurrentQuestionID, "restarted_at": now}), nil

	case domain.NextQuestion:
		switch phase {
		case domain.PhaseEnded:
			return noop("game already ended"), nil
		case domain.PhaseQuestionActive, domain.PhasePaused:
		default:
			return CommandResult{}, fmt.Errorf("%w: no current question while %s", domain.ErrInvalidTransition, phase)
		}
		current, err := tx.GetQuestion(ctx, *state.CurrentQuestionID)
		if err != nil {
			return CommandResult{}, domain.WrapStore("current question", err)
		}
		next, found, err := tx.NextQuestion(ctx, state.ActiveQuestionSet, current)
		if err != nil {
			return CommandResult{}, domain.WrapStore("next question", err)
		}
		if !found {
			if err := s.end(ctx, tx, state, now); err != nil {
				return CommandResult{}, err
			}
			return applied(map[string]any{"ended": true, "reason": "no successor question", "previous_question_id": current.ID}), nil
		}
		setCurrent(state, next, now)
		state.CompletedQuestions++
		return applied(map[string]any{
			"question_id":          next.ID,
			"previous_question_id": current.ID,
			"completed_questions":  state.CompletedQuestions,
		}), nil

	case domain.ShowRankings:
		if !state.IsActive {
			return CommandResult{}, fmt.Errorf("%w: no active game", domain.ErrInvalidTransition)
		}
		if state.DisplayPhase == domain.DisplayRankings {
			return noop("rankings already shown"), nil
		}
		state.DisplayPhase = domain.DisplayRankings
		return applied(map[string]any{"display_phase": domain.DisplayRankings}), nil

	case domain.JumpToQuestion:
		if !state.IsActive {
			return CommandResult{}, fmt.Errorf("%w: no active game", domain.ErrInvalidTransition)
		}
		q, err := tx.GetQuestion(ctx, c.QuestionID)
		if errors.Is(err, domain.ErrQuestionNotFound) {
			return CommandResult{}, fmt.Errorf("%w: id %d", domain.ErrQuestionNotFound, c.QuestionID)
		}
		if err != nil {
			return CommandResult{}, domain.WrapStore("get question", err)
		}
		if !q.IsActive {
			return CommandResult{}, fmt.Errorf("%w: question %d is inactive", domain.ErrQuestionNotFound, c.QuestionID)
		}
		setCurrent(state, q, now)
		return applied(map[string]any{"question_id": q.ID}), nil

	case domain.EndGame:
		if phase == domain.PhaseEnded {
			return noop("game already ended"), nil
		}
		if err := s.end(ctx, tx, state, now); err != nil {
			return CommandResult{}, err
		}
		return applied(map[string]any{"ended": true, "completed_questions": state.CompletedQuestions}), nil

	case domain.ResetGame:
		if err := tx.ResetScores(ctx); err != nil {
			return CommandResult{}, domain.WrapStore("reset scores", err)
		}
		total, err := tx.CountQuestions(ctx, state.ActiveQuestionSet)
		if err != nil {
			return CommandResult{}, domain.WrapStore("count questions", err)
		}
		state.IsActive = true
		state.EndedAt = nil
		state.CompletedQuestions = 0
		state.TotalQuestions = total
		clearQuestion(state)
		return applied(map[string]any{"phase": domain.PhaseWaitingForPlayers, "total_questions": total}), nil

	case domain.UpdateSettings:
		details := map[string]any{}
		if c.QuestionTimeLimit != nil {
			state.QuestionTimeLimit = *c.QuestionTimeLimit
			details["question_time_limit"] = *c.QuestionTimeLimit
		}
		if c.ActiveQuestionSet != nil {
			total, err := tx.CountQuestions(ctx, *c.ActiveQuestionSet)
			if err != nil {
				return CommandResult{}, domain.WrapStore("count questions", err)
			}
			state.ActiveQuestionSet = *c.ActiveQuestionSet
			state.TotalQuestions = total
			details["active_question_set"] = *c.ActiveQuestionSet
			details["total_questions"] = total
		}
		return applied(details), nil
	}
	return CommandResult{}, fmt.Errorf("%w: unsupported command %T", domain.ErrInvalidCommand, cmd)
}

func (s *GameService) end(ctx context.Context, tx Tx, state *domain.GameState, now time.Time) error {
	if err := tx.ClearPresence(ctx); err != nil {
		return domain.WrapStore("clear presence", err)
	}
	state.IsActive = false
	state.EndedAt = &now
	clearQuestion(state)
	return nil
}

// State returns the current game state with its derived fields.
func (s *GameService) State(ctx context.Context) (GameStateView, error) {
	state, err := s.store.GetGameState(ctx)
	if err != nil {
		return GameStateView{}, domain.WrapStore("get game state", err)
	}
	now := s.clock.Now()
	view := GameStateView{GameState: state, Phase: state.Phase(), ServerTime: now}
	if state.CurrentQuestionID == nil {
		return view, nil
	}

	q, err := s.store.GetQuestion(ctx, *state.CurrentQuestionID)
	if err != nil {
		return GameStateView{}, domain.WrapStore("get current question", err)
	}
	view.CurrentQuestion = publicQuestion(q, state.DisplayPhase)
	view.TimeRemainingMs = TimeRemaining(state, q, now).Milliseconds()

	_, view.HasNextQuestion, err = s.store.NextQuestion(ctx, state.ActiveQuestionSet, q)
	if err != nil {
		return GameStateView{}, domain.WrapStore("next question", err)
	}
	return view, nil
}

func (s *GameService) publishState(ctx context.Context) {
	view, err := s.State(ctx)
	if err != nil {
		// Clients still converge through polling GET /game/state.
		log.Error().Err(err).Msg("failed to build game state for propagation")
		return
	}
	s.publisher.Publish(ctx, Event{Type: EventGameState, State: &view, At: view.ServerTime})
}

func setCurrent(state *domain.GameState, q domain.Question, now time.Time) {
	id := q.ID
	state.CurrentQuestionID = &id
	state.QuestionStartTime = &now
	state.IsPaused = false
	state.PausedAt = nil
	state.DisplayPhase = domain.DisplayQuestion
}

func clearQuestion(state *domain.GameState) {
	state.CurrentQuestionID = nil
	state.QuestionStartTime = nil
	state.IsPaused = false
	state.PausedAt = nil
	state.DisplayPhase = domain.DisplayQuestion
}

func publicQuestion(q domain.Question, phase domain.DisplayPhase) *PublicQuestion {
	pq := &PublicQuestion{
		ID:           q.ID,
		DisplayOrder: q.DisplayOrder,
		Text:         q.Text,
		Options:      q.Options,
		Points:       q.Points,
		TimeLimit:    q.TimeLimit,
	}
	if phase == domain.DisplayRankings {
		pq.CorrectAnswer = q.CorrectAnswer
	}
	return pq
}

func auditTarget(state domain.GameState, cmd domain.Command) (string, string) {
	switch c := cmd.(type) {
	case domain.JumpToQuestion:
		return "question", strconv.FormatInt(int64(c.QuestionID), 10)
	case domain.StartFirstQuestion, domain.NextQuestion:
		if state.CurrentQuestionID != nil {
			return "question", strconv.FormatInt(int64(*state.CurrentQuestionID), 10)
		}
	}
	return "game_state", "1"
}

func applied(details map[string]any) CommandResult {
	return CommandResult{Details: details}
}

func noop(reason string) CommandResult {
	return CommandResult{NoOp: true, Details: map[string]any{"reason": reason}}
}

func logCommandError(adminID string, cmd domain.Command, err error) {
	ev := log.Warn()
	if errors.Is(err, domain.ErrStoreFailure) {
		ev = log.Error()
	}
	ev.Err(err).Str("action", cmd.Action()).Str("admin_id", adminID).Msg("game control rejected")
}
