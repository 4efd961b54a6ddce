package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/domain"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNoQuestions):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var se *domain.StoreError
	if errors.As(err, &se) {
		resp.Retryable = se.Retryable()
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidCommand, err)
	}
	return nil
}
