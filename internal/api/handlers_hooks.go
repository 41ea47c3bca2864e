package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

type chatMessageRequest struct {
	SessionID string      `json:"session_id"`
	Parts     []loop.Part `json:"parts"`
}

type chatMessageResponse struct {
	// Action is "start", "stop" or "none".
	Action string      `json:"action"`
	Parts  []loop.Part `json:"parts"`
	Reply  string      `json:"reply,omitempty"`
}

// chatMessage handles POST /v1/hooks/chat-message. The plugin replaces the
// message parts with the returned ones before the transcript is written.
func (s *Server) chatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	text := loop.Message{Role: loop.RoleUser, Parts: req.Parts}.Text()
	in, err := s.ctrl.Intercept(r.Context(), req.SessionID, text)
	if err != nil {
		s.logger.Error("intercept failed", zap.String("session", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := chatMessageResponse{Action: in.Kind.String(), Parts: req.Parts, Reply: in.Reply}
	if in.Text != text {
		resp.Parts = replaceText(req.Parts, in.Text)
	}
	writeJSON(w, http.StatusOK, resp)
}

type transformMessage struct {
	Role  string      `json:"role"`
	Parts []loop.Part `json:"parts"`
}

type transformRequest struct {
	SessionID string             `json:"session_id"`
	Messages  []transformMessage `json:"messages"`
}

type transformResponse struct {
	Messages []transformMessage `json:"messages"`
	Changed  int                `json:"changed"`
}

// messagesTransform handles POST /v1/hooks/messages-transform. User messages
// carrying a start directive are rewritten; nothing else changes and no state
// is touched.
func (s *Server) messagesTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	resp := transformResponse{Messages: make([]transformMessage, len(req.Messages))}
	for i, m := range req.Messages {
		resp.Messages[i] = m
		if m.Role != loop.RoleUser {
			continue
		}
		text := loop.Message{Role: m.Role, Parts: m.Parts}.Text()
		if rewritten, ok := s.ctrl.Transform(r.Context(), req.SessionID, text); ok {
			resp.Messages[i].Parts = replaceText(m.Parts, rewritten)
			resp.Changed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventRequest struct {
	// Type is "idle" or "error"; the opencode names "session.idle" and
	// "session.error" are accepted too.
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cause     string `json:"cause,omitempty"`
}

// ingestEvent handles POST /v1/events. Evaluation may fetch history and send
// a prompt, so it runs after the response.
func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var ev loop.Event
	switch strings.TrimPrefix(req.Type, "session.") {
	case "idle":
		ev = loop.TurnIdle{SessionID: req.SessionID}
	case "error":
		ev = loop.SessionError{SessionID: req.SessionID, Cause: req.Cause}
	default:
		writeError(w, http.StatusBadRequest, "unknown event type: "+req.Type)
		return
	}

	s.Ingest(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// replaceText puts text into the first text part and drops the other text
// parts. Non-text parts keep their position.
func replaceText(parts []loop.Part, text string) []loop.Part {
	out := make([]loop.Part, 0, len(parts)+1)
	placed := false
	for _, p := range parts {
		if p.Type != "text" {
			out = append(out, p)
			continue
		}
		if !placed {
			out = append(out, loop.Part{Type: "text", Text: text})
			placed = true
		}
	}
	if !placed {
		out = append(out, loop.Part{Type: "text", Text: text})
	}
	return out
}
