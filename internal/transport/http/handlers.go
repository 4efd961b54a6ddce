package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
)

// API serves the REST surface of the game.
type API struct {
	game            *app.GameService
	scoring         *app.ScoringService
	presence        *app.PresenceService
	leaderboardSize int
}

func NewAPI(game *app.GameService, scoring *app.ScoringService, presence *app.PresenceService, leaderboardSize int) *API {
	return &API{game: game, scoring: scoring, presence: presence, leaderboardSize: leaderboardSize}
}

// Register mounts every endpoint on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /game/control", a.control)
	mux.HandleFunc("GET /game/state", a.state)
	mux.HandleFunc("POST /quiz/scoring", a.submit)
	mux.HandleFunc("POST /quiz/heartbeat", a.heartbeat)
	mux.HandleFunc("DELETE /quiz/heartbeat", a.leave)
	mux.HandleFunc("GET /quiz/presence", a.presenceCount)
	mux.HandleFunc("GET /quiz/leaderboard", a.leaderboard)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

type controlRequest struct {
	Action     string          `json:"action"`
	QuestionID *int64          `json:"questionId"`
	AdminID    string          `json:"adminId"`
	Settings   json.RawMessage `json:"settings"`
}

type controlResponse struct {
	Success bool           `json:"success"`
	Action  string         `json:"action"`
	NoOp    bool           `json:"noop"`
	Details map[string]any `json:"details"`
}

func (a *API) control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cmd, err := domain.ParseCommand(req.Action, req.QuestionID, req.Settings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.game.Execute(r.Context(), req.AdminID, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Success: true, Action: res.Action, NoOp: res.NoOp, Details: res.Details})
}

func (a *API) state(w http.ResponseWriter, r *http.Request) {
	view, err := a.game.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type scoringRequest struct {
	UserLineID     string  `json:"user_line_id"`
	QuestionID     int64   `json:"question_id"`
	SelectedAnswer *string `json:"selected_answer"`
	AnswerTime     int64   `json:"answer_time"`
	IsTimeout      bool    `json:"is_timeout"`
}

type scoringResponse struct {
	Success      bool                 `json:"success"`
	Status       string               `json:"status,omitempty"`
	Message      string               `json:"message"`
	ScoreDetails *domain.ScoreDetails `json:"score_details,omitempty"`
	TotalScore   *int                 `json:"total_score,omitempty"`
}

func (req scoringRequest) submission() (domain.AnswerSubmission, error) {
	sub := domain.AnswerSubmission{
		UserID:       req.UserLineID,
		QuestionID:   domain.QuestionID(req.QuestionID),
		AnswerTimeMs: req.AnswerTime,
		IsTimeout:    req.IsTimeout,
	}
	if req.SelectedAnswer != nil && *req.SelectedAnswer != "" {
		c, err := domain.ParseChoice(*req.SelectedAnswer)
		if err != nil {
			return sub, err
		}
		sub.SelectedAnswer = &c
	}
	return sub, nil
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	var req scoringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := req.submission()
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.scoring.SubmitAnswer(r.Context(), sub)
	if status, ok := submissionStatus(err); ok {
		// Expected races; the guest UI proceeds as if accepted.
		writeJSON(w, http.StatusOK, scoringResponse{Status: status, Message: err.Error()})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	message := "incorrect"
	if res.Details.IsCorrect {
		message = "correct"
	}
	writeJSON(w, http.StatusOK, scoringResponse{
		Success:      true,
		Status:       "scored",
		Message:      message,
		ScoreDetails: &res.Details,
		TotalScore:   &res.TotalScore,
	})
}

func submissionStatus(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrStaleSubmission):
		return "question_closed", true
	case errors.Is(err, domain.ErrAnswersNotOpen):
		return "not_open", true
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "already_answered", true
	}
	return "", false
}

type heartbeatRequest struct {
	LineID      string `json:"lineId"`
	DisplayName string `json:"displayName"`
}

func (a *API) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.presence.Heartbeat(r.Context(), req.LineID, req.DisplayName); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) leave(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.presence.Leave(r.Context(), req.LineID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) presenceCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.presence.ActiveCount(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"in_quiz_page":        n,
		"stale_after_seconds": int(a.presence.StaleAfter().Seconds()),
	})
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := a.leaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidCommand))
			return
		}
		limit = n
	}
	board, err := a.scoring.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if board.Entries == nil {
		board.Entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, board)
}
