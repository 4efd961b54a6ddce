package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a control command is issued by a non-admin.
	ErrUnauthorized = errors.New("admin privileges required")
	// ErrInvalidTransition is returned when a command is not valid from the current phase.
	ErrInvalidTransition = errors.New("invalid game state transition")
	// ErrInvalidCommand indicates a malformed or unknown command payload.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrNoQuestions is returned when the active question set has no active questions.
	ErrNoQuestions = errors.New("no questions available")
	// ErrQuestionNotFound indicates an unknown or inactive question id.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a user acts before ever connecting.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrStaleSubmission is returned for answers to a question that is no longer live.
	ErrStaleSubmission = errors.New("question closed")
	// ErrAnswersNotOpen is returned for answers sent during the question's pre-roll.
	ErrAnswersNotOpen = errors.New("answering not open yet")
	// ErrDuplicateSubmission is returned for a second answer to the same question.
	ErrDuplicateSubmission = errors.New("already answered")
	// ErrStoreFailure marks transient backend failures; see StoreError.
	ErrStoreFailure = errors.New("store failure")
)

// StoreError wraps a backend failure so callers can tell it apart from rule violations.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStoreFailure) match any StoreError.
func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

// Retryable reports whether a client may safely repeat the request.
func (e *StoreError) Retryable() bool { return true }

// WrapStore wraps err as a StoreError unless it already carries a domain meaning.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRuleViolation(err) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsRuleViolation reports whether err is one of the non-retryable domain errors.
func IsRuleViolation(err error) bool {
	for _, target := range []error{
		ErrUnauthorized, ErrInvalidTransition, ErrInvalidCommand, ErrNoQuestions,
		ErrQuestionNotFound, ErrParticipantNotFound, ErrStaleSubmission, ErrAnswersNotOpen, ErrDuplicateSubmission,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
