// ABOUTME: Server-Sent Events stream of live conversation updates
// ABOUTME: Emits the current state first, then every message, activity and state change

package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-console/internal/conversation"
)

// keepaliveInterval spaces SSE comments that keep idle proxies from closing the stream
const keepaliveInterval = 15 * time.Second

// handleStream handles GET /api/conversations/{id}/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, err := s.service.Subscribe(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "stream", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, string(conversation.UpdateState), stateView(s.service.State(id)))
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			event, data := updateEvent(u)
			s.writeSSEEvent(w, event, data)
			flusher.Flush()
		}
	}
}

// updateEvent converts a broadcaster update into an SSE event name and payload.
func updateEvent(u *conversation.Update) (string, any) {
	switch u.Kind {
	case conversation.UpdateMessage:
		if u.Message != nil {
			return string(u.Kind), messageView(u.Message, false)
		}
	case conversation.UpdateActivity:
		if u.Activity != nil {
			return string(u.Kind), activityView(u.Activity)
		}
	case conversation.UpdateConversation:
		if u.Conversation != nil {
			return string(u.Kind), conversationView(u.Conversation, conversation.LifecycleState{}, false)
		}
	case conversation.UpdateState:
		if u.State != nil {
			return string(u.Kind), stateView(*u.State)
		}
	}
	return "error", map[string]string{"error": fmt.Sprintf("malformed %s update", u.Kind)}
}

// formatSSEEvent formats an SSE event with the standard
// "event: <type>\ndata: <data>\n\n" framing.
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}
