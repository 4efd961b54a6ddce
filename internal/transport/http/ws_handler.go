package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/domain"
)

const writeWait = 10 * time.Second

// WSHandler pushes game state changes to guest and admin screens and accepts
// heartbeats and answers over the same socket.
type WSHandler struct {
	hub      *app.Hub
	scoring  *app.ScoringService
	presence *app.PresenceService
	upgrader websocket.Upgrader

	mu sync.Mutex
	// open counts sockets per lineId; a guest leaves when the last one closes.
	open map[string]int
}

func NewWSHandler(hub *app.Hub, scoring *app.ScoringService, presence *app.PresenceService, checkOrigin func(*http.Request) bool) *WSHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSHandler{
		hub:      hub,
		scoring:  scoring,
		presence: presence,
		open:     make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request. lineId is optional: screens without one
// (the projector view) only receive events.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	lineID := r.URL.Query().Get("lineId")
	displayName := r.URL.Query().Get("name")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := log.With().Str("conn_id", connID).Str("line_id", lineID).Logger()

	// The request context ends with the handler; presence updates on the way
	// out must still reach the store.
	ctx := context.WithoutCancel(r.Context())

	if lineID != "" {
		h.attach(lineID)
		if err := h.presence.Heartbeat(ctx, lineID, displayName); err != nil {
			logger.Warn().Err(err).Msg("ws presence heartbeat failed")
		}
		defer func() {
			if !h.detach(lineID) {
				return
			}
			if err := h.presence.Leave(ctx, lineID); err != nil {
				logger.Warn().Err(err).Msg("ws presence leave failed")
			}
		}()
	}

	updates, cancel := h.hub.Subscribe()
	defer cancel()
	logger.Debug().Int("subscribers", h.hub.Subscribers()).Msg("ws subscribed")

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer; gorilla connections allow one concurrent writer.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- eventMessage(ev):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if lineID == "" {
			reply(outboundMessage{Type: "error", Payload: errorPayload{Message: "lineId required to send messages"}})
			continue
		}
		switch inbound.Type {
		case "heartbeat":
			if err := h.presence.Heartbeat(ctx, lineID, displayName); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		case "answer":
			reply(h.answer(ctx, lineID, inbound.Payload))
		default:
			reply(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	logger.Debug().Msg("ws disconnected")
}

func (h *WSHandler) attach(lineID string) {
	h.mu.Lock()
	h.open[lineID]++
	h.mu.Unlock()
}

// detach reports whether the closed socket was the guest's last one.
func (h *WSHandler) detach(lineID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open[lineID]--
	if h.open[lineID] > 0 {
		return false
	}
	delete(h.open, lineID)
	return true
}

func (h *WSHandler) answer(ctx context.Context, lineID string, raw json.RawMessage) outboundMessage {
	var req scoringRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
	}
	req.UserLineID = lineID
	sub, err := req.submission()
	if err != nil {
		return outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}

	res, err := h.scoring.SubmitAnswer(ctx, sub)
	if status, ok := submissionStatus(err); ok {
		return outboundMessage{Type: "answer_result", Payload: scoringResponse{Status: status, Message: err.Error()}}
	}
	if err != nil {
		var se *domain.StoreError
		payload := errorResponse{Error: err.Error(), Retryable: errors.As(err, &se)}
		return outboundMessage{Type: "error", Payload: payload}
	}
	return outboundMessage{Type: "answer_result", Payload: scoringResponse{
		Success:      true,
		Status:       "scored",
		ScoreDetails: &res.Details,
		TotalScore:   &res.TotalScore,
	}}
}

func eventMessage(ev app.Event) outboundMessage {
	if ev.Type == app.EventGameState && ev.State != nil {
		return outboundMessage{Type: ev.Type, Payload: ev.State}
	}
	return outboundMessage{Type: ev.Type}
}
