package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action names as accepted on the control endpoint.
const (
	ActionStartGame          = "start_game"
	ActionStartFirstQuestion = "start_first_question"
	ActionPauseGame          = "pause_game"
	ActionResumeGame         = "resume_game"
	ActionNextQuestion       = "next_question"
	ActionShowRankings       = "show_rankings"
	ActionJumpToQuestion     = "jump_to_question"
	ActionEndGame            = "end_game"
	ActionResetGame          = "reset_game"
	ActionUpdateSettings     = "update_settings"
)

// Command is the closed set of admin control commands. Only types in this
// package implement it.
type Command interface {
	Action() string
	command()
}

type StartGame struct{}
type StartFirstQuestion struct{}
type PauseGame struct{}
type ResumeGame struct{}
type NextQuestion struct{}
type ShowRankings struct{}
type EndGame struct{}
type ResetGame struct{}

// JumpToQuestion makes an arbitrary active question current.
type JumpToQuestion struct {
	QuestionID QuestionID
}

// UpdateSettings patches the answer window and/or the active question set.
type UpdateSettings struct {
	QuestionTimeLimit *int    `json:"question_time_limit,omitempty"`
	ActiveQuestionSet *string `json:"active_question_set,omitempty"`
}

func (StartGame) Action() string          { return ActionStartGame }
func (StartFirstQuestion) Action() string { return ActionStartFirstQuestion }
func (PauseGame) Action() string          { return ActionPauseGame }
func (ResumeGame) Action() string         { return ActionResumeGame }
func (NextQuestion) Action() string       { return ActionNextQuestion }
func (ShowRankings) Action() string       { return ActionShowRankings }
func (JumpToQuestion) Action() string     { return ActionJumpToQuestion }
func (EndGame) Action() string            { return ActionEndGame }
func (ResetGame) Action() string          { return ActionResetGame }
func (UpdateSettings) Action() string     { return ActionUpdateSettings }

func (StartGame) command()          {}
func (StartFirstQuestion) command() {}
func (PauseGame) command()          {}
func (ResumeGame) command()         {}
func (NextQuestion) command()       {}
func (ShowRankings) command()       {}
func (JumpToQuestion) command()     {}
func (EndGame) command()            {}
func (ResetGame) command()          {}
func (UpdateSettings) command()     {}

// ParseCommand turns the wire form {action, questionId?, settings?} into a Command.
// Unknown actions and unknown settings fields are rejected.
func ParseCommand(action string, questionID *int64, settings json.RawMessage) (Command, error) {
	switch action {
	case ActionStartGame:
		return StartGame{}, nil
	case ActionStartFirstQuestion:
		return StartFirstQuestion{}, nil
	case ActionPauseGame:
		return PauseGame{}, nil
	case ActionResumeGame:
		return ResumeGame{}, nil
	case ActionNextQuestion:
		return NextQuestion{}, nil
	case ActionShowRankings:
		return ShowRankings{}, nil
	case ActionEndGame:
		return EndGame{}, nil
	case ActionResetGame:
		return ResetGame{}, nil
	case ActionJumpToQuestion:
		if questionID == nil {
			return nil, fmt.Errorf("%w: questionId is required for %s", ErrInvalidCommand, action)
		}
		return JumpToQuestion{QuestionID: QuestionID(*questionID)}, nil
	case ActionUpdateSettings:
		return parseSettings(settings)
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, action)
}

func parseSettings(raw json.RawMessage) (UpdateSettings, error) {
	var s UpdateSettings
	if len(bytes.TrimSpace(raw)) == 0 {
		return s, fmt.Errorf("%w: settings are required for %s", ErrInvalidCommand, ActionUpdateSettings)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("%w: settings: %v", ErrInvalidCommand, err)
	}
	if s.QuestionTimeLimit == nil && s.ActiveQuestionSet == nil {
		return s, fmt.Errorf("%w: settings patch is empty", ErrInvalidCommand)
	}
	if s.QuestionTimeLimit != nil && *s.QuestionTimeLimit <= 0 {
		return s, fmt.Errorf("%w: question_time_limit must be positive", ErrInvalidCommand)
	}
	if s.ActiveQuestionSet != nil && *s.ActiveQuestionSet == "" {
		return s, fmt.Errorf("%w: active_question_set must not be empty", ErrInvalidCommand)
	}
	return s, nil
}
