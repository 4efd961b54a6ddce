package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuestionID identifies a question in the question bank.
type QuestionID int64

// Choice is one of the four answer buttons shown to guests.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
	ChoiceD Choice = "D"
)

// ParseChoice accepts "a".."d" in any case.
func ParseChoice(raw string) (Choice, error) {
	c := Choice(strings.ToUpper(strings.TrimSpace(raw)))
	switch c {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown answer %q", ErrInvalidCommand, raw)
}

// DisplayPhase tells clients whether to render the live question or the rankings.
type DisplayPhase string

const (
	DisplayQuestion DisplayPhase = "question"
	DisplayRankings DisplayPhase = "rankings"
)

// Phase is the derived state machine position of a game.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseWaitingForPlayers Phase = "waiting_for_players"
	PhaseQuestionActive    Phase = "question_active"
	PhasePaused            Phase = "paused"
	PhaseEnded             Phase = "ended"
)

// GameState is the single authoritative record of the running game.
type GameState struct {
	IsActive           bool         `json:"is_active"`
	IsPaused           bool         `json:"is_paused"`
	CurrentQuestionID  *QuestionID  `json:"current_question_id"`
	QuestionStartTime  *time.Time   `json:"question_start_time"`
	PausedAt           *time.Time   `json:"paused_at"`
	EndedAt            *time.Time   `json:"ended_at"`
	DisplayPhase       DisplayPhase `json:"display_phase"`
	ActiveQuestionSet  string       `json:"active_question_set"`
	CompletedQuestions int          `json:"completed_questions"`
	TotalQuestions     int          `json:"total_questions"`
	// QuestionTimeLimit is the answer window in seconds.
	QuestionTimeLimit int       `json:"question_time_limit"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Phase derives the state machine position from the stored flags.
func (g GameState) Phase() Phase {
	switch {
	case !g.IsActive && g.EndedAt != nil:
		return PhaseEnded
	case !g.IsActive:
		return PhaseIdle
	case g.CurrentQuestionID == nil:
		return PhaseWaitingForPlayers
	case g.IsPaused:
		return PhasePaused
	default:
		return PhaseQuestionActive
	}
}

// AnswerWindow is the global answer-submission window.
func (g GameState) AnswerWindow() time.Duration {
	return time.Duration(g.QuestionTimeLimit) * time.Second
}

// HasCurrent reports whether id is the live question.
func (g GameState) HasCurrent(id QuestionID) bool {
	return g.CurrentQuestionID != nil && *g.CurrentQuestionID == id
}

// Question is a question bank entry together with its scoring rules.
type Question struct {
	ID            QuestionID `json:"id"`
	DisplayOrder  int        `json:"display_order"`
	Category      string     `json:"category"`
	IsActive      bool       `json:"is_active"`
	Text          string     `json:"question_text"`
	Options       [4]string  `json:"options"`
	CorrectAnswer Choice     `json:"correct_answer"`
	Points        int        `json:"points"`
	// TimeLimit is the pre-roll in seconds before answers are accepted.
	TimeLimit int `json:"time_limit"`

	PenaltyEnabled        bool `json:"penalty_enabled"`
	PenaltyScore          int  `json:"penalty_score"`
	TimeoutPenaltyEnabled bool `json:"timeout_penalty_enabled"`
	TimeoutPenaltyScore   int  `json:"timeout_penalty_score"`
	SpeedBonusEnabled     bool `json:"speed_bonus_enabled"`
	MaxBonusPoints        int  `json:"max_bonus_points"`
}

// PreRoll is the display-only lead-in before the answer window opens.
func (q Question) PreRoll() time.Duration {
	return time.Duration(q.TimeLimit) * time.Second
}

// Before orders questions by (display_order, id).
func (q Question) Before(other Question) bool {
	if q.DisplayOrder != other.DisplayOrder {
		return q.DisplayOrder < other.DisplayOrder
	}
	return q.ID < other.ID
}

// AnswerRecord is the immutable outcome of one participant's answer to one question.
type AnswerRecord struct {
	UserID         string     `json:"user_id"`
	QuestionID     QuestionID `json:"question_id"`
	SelectedAnswer *Choice    `json:"selected_answer"`
	AnswerTimeMs   int64      `json:"answer_time_ms"`
	IsTimeout      bool       `json:"is_timeout"`
	IsCorrect      bool       `json:"is_correct"`
	ScoreDelta     int        `json:"score_delta"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Participant is a guest identified by their messaging-platform id.
type Participant struct {
	LineID        string    `json:"line_id"`
	DisplayName   string    `json:"display_name"`
	QuizScore     int       `json:"quiz_score"`
	IsInQuizPage  bool      `json:"is_in_quiz_page"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// AdminAction is an append-only audit entry written once per applied command.
type AdminAction struct {
	ID         string         `json:"id"`
	AdminID    string         `json:"admin_id"`
	ActionType string         `json:"action_type"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant's standing.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	LineID      string `json:"line_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// AnswerSubmission models the scoring signal from a guest device.
type AnswerSubmission struct {
	UserID         string
	QuestionID     QuestionID
	SelectedAnswer *Choice
	AnswerTimeMs   int64
	IsTimeout      bool
}

// ScoreDetails breaks a score delta into its components.
type ScoreDetails struct {
	BaseScore  int  `json:"base_score"`
	SpeedBonus int  `json:"speed_bonus"`
	RankBonus  int  `json:"rank_bonus"`
	FinalScore int  `json:"final_score"`
	IsCorrect  bool `json:"is_correct"`
}
