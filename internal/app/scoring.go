package app

import (
	"time"

	"wedding-quiz-service/internal/domain"
)

// Scorer turns one submission into a signed score delta.
//
// Speed bonus decays linearly over the answer window:
//
//	bonus = floor(max_bonus_points * (window - t) / window), 0 once t >= window
//
// RankBonuses optionally grants the n-th correct respondent RankBonuses[n-1]
// on top; speed and rank bonus together never exceed max_bonus_points.
type Scorer struct {
	RankBonuses []int
}

// ScoreInput carries everything the scoring rules need.
type ScoreInput struct {
	Question   domain.Question
	Selected   *domain.Choice
	IsTimeout  bool
	AnswerTime time.Duration
	Window     time.Duration
	// CorrectRank is the 1-based position among correct respondents, 0 if unknown.
	CorrectRank int
}

// Score applies timeout, wrong-answer and correct-answer rules in that order.
func (s Scorer) Score(in ScoreInput) domain.ScoreDetails {
	q := in.Question
	if in.IsTimeout {
		d := domain.ScoreDetails{}
		if q.TimeoutPenaltyEnabled {
			d.FinalScore = -q.TimeoutPenaltyScore
		}
		return d
	}
	if in.Selected == nil || *in.Selected != q.CorrectAnswer {
		d := domain.ScoreDetails{}
		if q.PenaltyEnabled {
			d.FinalScore = -q.PenaltyScore
		}
		return d
	}

	d := domain.ScoreDetails{BaseScore: q.Points, IsCorrect: true}
	if q.SpeedBonusEnabled && in.AnswerTime < in.Window {
		d.SpeedBonus = SpeedBonus(q.MaxBonusPoints, in.AnswerTime, in.Window)
		d.RankBonus = s.rankBonus(in.CorrectRank)
		if room := q.MaxBonusPoints - d.SpeedBonus; d.RankBonus > room {
			d.RankBonus = room
		}
		if d.RankBonus < 0 {
			d.RankBonus = 0
		}
	}
	d.FinalScore = d.BaseScore + d.SpeedBonus + d.RankBonus
	return d
}

func (s Scorer) rankBonus(rank int) int {
	if rank < 1 || rank > len(s.RankBonuses) {
		return 0
	}
	return s.RankBonuses[rank-1]
}

// SpeedBonus is non-increasing in elapsed and 0 once the window is spent.
func SpeedBonus(maxBonus int, elapsed, window time.Duration) int {
	if maxBonus <= 0 || window <= 0 || elapsed >= window {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return int(int64(maxBonus) * int64(window-elapsed) / int64(window))
}
