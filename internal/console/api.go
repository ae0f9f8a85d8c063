// ABOUTME: HTTP handlers for conversations, operator actions and the agent directory
// ABOUTME: Send requests honour an Idempotency-Key header so retries never double-send

package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/dedupe"
	"github.com/2389/coven-console/internal/store"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// IdempotencyHeader names the request header carrying the client's retry key.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the idempotency cache.
const ReplayedHeader = "Idempotent-Replayed"

// CreateConversationRequest is the JSON body for POST /api/conversations.
type CreateConversationRequest struct {
	CustomerName  string        `json:"customer_name"`
	CustomerEmail string        `json:"customer_email,omitempty"`
	Channel       store.Channel `json:"channel,omitempty"`
	FirstMessage  string        `json:"first_message,omitempty"`
}

// SendMessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// EscalateRequest is the optional JSON body for POST /api/conversations/{id}/escalate.
type EscalateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers and a coordinator is configured.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.List(r.Context(), store.ConversationFilter{}); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	agents := s.directory.ListAgents()
	if len(agents) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(agents))
}

// handleListAgents handles GET /api/agents. Agents working on any conversation
// are flagged active.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.directory.ListAgents(s.service.ActiveAgents()...))
}

// handleListConversations handles GET /api/conversations with optional
// ?channel= and ?q= filters.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	filter := store.ConversationFilter{
		Channel: store.Channel(r.URL.Query().Get("channel")),
		Query:   strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown channel %q", filter.Channel))
		return
	}

	convs, err := s.service.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, "list conversations", err)
		return
	}

	response := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		response = append(response, conversationView(c, s.service.State(c.ID), false))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleStats handles GET /api/conversations/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, "conversation stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatsView(*st))
}

// handleCreateConversation handles POST /api/conversations.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.service.Create(r.Context(), conversation.NewConversation{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Channel:       req.Channel,
		FirstMessage:  req.FirstMessage,
	})
	if err != nil {
		s.writeServiceError(w, "create conversation", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conversationView(conv, conversation.LifecycleState{}, false))
}

// handleGetConversation handles GET /api/conversations/{id}. With
// ?format=html agent replies also carry rendered HTML.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get conversation", err)
		return
	}
	html := r.URL.Query().Get("format") == "html"
	s.writeJSON(w, http.StatusOK, conversationView(conv, s.service.State(id), html))
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
//
// The request blocks for the whole send lifecycle and answers 200 with the
// outcome, success or failure alike. A send rejected because another one is
// in flight answers 409. With an Idempotency-Key header, a retry of a
// finished send replays the stored response and a retry of a running one
// answers 409.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" {
		key = id + ":" + key
		stored, state := s.idempotency.Claim(key)
		switch state {
		case dedupe.StateDone:
			w.Header().Set(ReplayedHeader, "true")
			s.writeJSON(w, http.StatusOK, stored)
			return
		case dedupe.StatePending:
			s.sendJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		}
	}

	result, err := s.service.Send(r.Context(), id, req.Text)
	if err != nil {
		if key != "" {
			s.idempotency.Forget(key)
		}
		s.writeServiceError(w, "send message", err)
		return
	}

	if result.Outcome == conversation.OutcomeRejected {
		if key != "" {
			s.idempotency.Forget(key)
		}
		s.sendJSONError(w, http.StatusConflict, conversation.ErrConversationBusy.Error())
		return
	}

	response := sendResponse(result)
	if key != "" {
		s.idempotency.Complete(key, response)
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleEscalate handles POST /api/conversations/{id}/escalate.
func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			s.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := s.service.Escalate(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeServiceError(w, "escalate", err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationView(conv, conversation.LifecycleState{}, false))
}

// handleResolve handles POST /api/conversations/{id}/resolve.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	conv, err := s.service.MarkResolved(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "resolve", err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationView(conv, conversation.LifecycleState{}, false))
}

// handleMarkRead handles POST /api/conversations/{id}/read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conv, err := s.service.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "mark read", err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationView(conv, conversation.LifecycleState{}, false))
}

// handleActivity handles GET /api/conversations/{id}/activity.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, "get activity", err)
		return
	}
	snap, err := s.service.Activity(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get activity", err)
		return
	}

	response := ActivityResponse{
		Events:    make([]ActivityView, 0, len(snap.Events)),
		StateView: stateView(snap.LifecycleState),
	}
	for _, e := range snap.Events {
		response.Events = append(response.Events, activityView(e))
	}
	s.writeJSON(w, http.StatusOK, response)
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON decodes a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeServiceError maps engine errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrInvalidConversation):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrConversationBusy):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
