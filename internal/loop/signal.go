package loop

import (
	"context"
	"strings"
)

// AbortCause is the session error name the host reports when the user
// cancels an in-flight assistant turn.
const AbortCause = "MessageAbortedError"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part is one segment of a chat message. Only "text" parts carry Text.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one turn of a session's history.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Texts returns the text segments of the message in order.
func (m Message) Texts() []string {
	var out []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

// Text joins the text segments with newlines.
func (m Message) Text() string {
	return strings.Join(m.Texts(), "\n")
}

// Transport is the chat host as seen by the controller.
type Transport interface {
	// Messages returns the session's history, oldest first.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Send submits text as a new user message without waiting for the reply.
	Send(ctx context.Context, sessionID, text string) error
}

// Event is a signal from the chat host. The set is closed: MessageReceived,
// TurnIdle and SessionError.
type Event interface {
	Session() string
	event()
}

// MessageReceived is an incoming user message.
type MessageReceived struct {
	SessionID string
	Parts     []Part
}

// TurnIdle fires once the assistant has finished its turn.
type TurnIdle struct {
	SessionID string
}

// SessionError reports a session-level failure. Cause is the error name.
type SessionError struct {
	SessionID string
	Cause     string
}

func (e MessageReceived) Session() string { return e.SessionID }
func (e TurnIdle) Session() string        { return e.SessionID }
func (e SessionError) Session() string    { return e.SessionID }

func (MessageReceived) event() {}
func (TurnIdle) event()        {}
func (SessionError) event()    {}

// Text joins the text parts of the message.
func (e MessageReceived) Text() string {
	return Message{Role: RoleUser, Parts: e.Parts}.Text()
}

// lastAssistantText returns the joined text of the newest assistant turn, or
// "" when there is none.
func lastAssistantText(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return history[i].Text()
		}
	}
	return ""
}
