package http

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// EventSource hands out per-quiz event subscriptions.
type EventSource interface {
	Subscribe(quizID string) (<-chan domain.Event, func())
}

type WSHandler struct {
	service  *app.QuizService
	events   EventSource
	tokens   *TokenIssuer
	upgrader websocket.Upgrader
}

// NewWSHandler accepts connections from origins; an empty list accepts any origin.
func NewWSHandler(service *app.QuizService, events EventSource, tokens *TokenIssuer, origins []string) *WSHandler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &WSHandler{
		service: service,
		events:  events,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

type inboundMessage struct {
	Type string `json:"type"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and streams the session events of one quiz.
// An authenticated caller (token query parameter or bearer header) joins as
// its user; an anonymous caller joins only when name is given.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	quizID := query.Get("quizId")
	displayName := query.Get("name")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	// Identity comes from the token only.
	if query.Has("userId") {
		writeError(w, domain.ErrUnauthenticated)
		return
	}
	actor, authenticated, err := h.tokens.streamActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := h.service.GetStatus(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.events.Subscribe(quizID)
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	if authenticated || displayName != "" {
		participant, err := h.service.Join(r.Context(), quizID, actor.UserID, displayName)
		if err != nil {
			send <- errorMessage(err)
			close(send)
			<-writerDone
			return
		}
		send <- outboundMessage{Type: "joined", Payload: participant}
	}
	send <- outboundMessage{Type: "status", Payload: status}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var reply outboundMessage
		switch inbound.Type {
		case "ping":
			reply = outboundMessage{Type: "pong"}
		case "status":
			current, err := h.service.GetStatus(r.Context(), quizID)
			if err != nil {
				reply = errorMessage(err)
			} else {
				reply = outboundMessage{Type: "status", Payload: current}
			}
		default:
			reply = outboundMessage{Type: "error", Payload: errorPayload{
				Kind:    string(domain.KindValidation),
				Message: "unsupported message type",
			}}
		}
		select {
		case send <- reply:
		case <-writerDone:
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{
		Kind:    string(domain.KindOf(err)),
		Message: err.Error(),
	}}
}
