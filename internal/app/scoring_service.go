package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/domain"
)

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	Record     domain.AnswerRecord
	Details    domain.ScoreDetails
	TotalScore int
}

// ScoringService validates submissions against the live game and records scores.
type ScoringService struct {
	store     Store
	questions QuestionRepository
	scorer    Scorer
	publisher Publisher
	clock     clockwork.Clock
}

func NewScoringService(store Store, questions QuestionRepository, scorer Scorer, publisher Publisher, clock clockwork.Clock) *ScoringService {
	return &ScoringService{
		store:     store,
		questions: questions,
		scorer:    scorer,
		publisher: publisher,
		clock:     clock,
	}
}

// SubmitAnswer scores one answer (or timeout) for the live question. Answers to
// a question that is no longer current return domain.ErrStaleSubmission,
// answers during the pre-roll return domain.ErrAnswersNotOpen and a second
// answer for the same question returns domain.ErrDuplicateSubmission; none of
// these changes any score. Answers arriving after the window and AnswerGrace
// are scored as timeouts.
func (s *ScoringService) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (SubmitResult, error) {
	if sub.UserID == "" {
		return SubmitResult{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidCommand)
	}
	if sub.AnswerTimeMs < 0 {
		sub.AnswerTimeMs = 0
	}

	q, err := s.questions.GetQuestion(ctx, sub.QuestionID)
	if errors.Is(err, domain.ErrQuestionNotFound) {
		return SubmitResult{}, domain.ErrStaleSubmission
	}
	if err != nil {
		return SubmitResult{}, domain.WrapStore("load question", err)
	}

	var result SubmitResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.ShareGameState(ctx)
		if err != nil {
			return domain.WrapStore("read game state", err)
		}
		if !state.IsActive || !state.HasCurrent(sub.QuestionID) {
			return domain.ErrStaleSubmission
		}

		now := s.clock.Now()
		if !AnswersOpen(state, q, now) {
			return domain.ErrAnswersNotOpen
		}
		if !sub.IsTimeout && AnswerLate(state, q, now) {
			// The server clock decides; a late answer counts as a timeout.
			log.Debug().Str("user_id", sub.UserID).Int64("question_id", int64(sub.QuestionID)).Msg("late answer scored as timeout")
			sub.IsTimeout = true
		}
		answerTime := time.Duration(sub.AnswerTimeMs) * time.Millisecond
		if observed := AnswerElapsed(state, q, now); observed > answerTime {
			answerTime = observed
		}

		in := ScoreInput{
			Question:   q,
			Selected:   sub.SelectedAnswer,
			IsTimeout:  sub.IsTimeout,
			AnswerTime: answerTime,
			Window:     state.AnswerWindow(),
		}
		if !sub.IsTimeout && sub.SelectedAnswer != nil && *sub.SelectedAnswer == q.CorrectAnswer && len(s.scorer.RankBonuses) > 0 {
			n, err := tx.CountCorrectAnswers(ctx, q.ID)
			if err != nil {
				return domain.WrapStore("count correct answers", err)
			}
			in.CorrectRank = n + 1
		}
		details := s.scorer.Score(in)

		record := domain.AnswerRecord{
			UserID:         sub.UserID,
			QuestionID:     sub.QuestionID,
			SelectedAnswer: sub.SelectedAnswer,
			AnswerTimeMs:   answerTime.Milliseconds(),
			IsTimeout:      sub.IsTimeout,
			IsCorrect:      details.IsCorrect,
			ScoreDelta:     details.FinalScore,
			CreatedAt:      now,
		}
		if err := tx.InsertAnswer(ctx, record); err != nil {
			return domain.WrapStore("insert answer", err)
		}
		total, err := tx.AddScore(ctx, sub.UserID, details.FinalScore)
		if err != nil {
			return domain.WrapStore("add score", err)
		}

		result = SubmitResult{Record: record, Details: details, TotalScore: total}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStoreFailure) {
			log.Error().Err(err).Str("user_id", sub.UserID).Int64("question_id", int64(sub.QuestionID)).Msg("answer submission failed")
		}
		return SubmitResult{}, err
	}

	log.Debug().
		Str("user_id", sub.UserID).
		Int64("question_id", int64(sub.QuestionID)).
		Bool("correct", result.Details.IsCorrect).
		Int("delta", result.Details.FinalScore).
		Msg("answer scored")

	s.publisher.Publish(ctx, Event{Type: EventScoresUpdated, At: result.Record.CreatedAt})
	return result, nil
}

// Leaderboard returns the top participants, ranked 1..n.
func (s *ScoringService) Leaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return domain.Leaderboard{}, domain.WrapStore("leaderboard", err)
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return domain.Leaderboard{Entries: entries, UpdatedAt: s.clock.Now()}, nil
}
