// Package opencode provides the opencode server HTTP adapter: message history,
// asynchronous prompts, TUI toasts, and the server-sent event stream.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// Client talks to one opencode server. It implements loop.Transport.
type Client struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:4096".
	BaseURL string
	// Directory scopes requests to a project when the server hosts several.
	Directory string
	// HTTP is used for request/response calls. Subscribe uses a copy without
	// a timeout.
	HTTP   *http.Client
	Logger *zap.Logger
}

// New creates a Client with a 30s request timeout.
func New(baseURL, directory string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Directory: directory,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

var _ loop.Transport = (*Client)(nil)

type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type wireMessage struct {
	Info struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"info"`
	Parts []wirePart `json:"parts"`
}

type promptRequest struct {
	Parts []wirePart `json:"parts"`
}

type toastRequest struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Variant string `json:"variant"`
}

// Messages fetches the session history, oldest first.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]loop.Message, error) {
	var wire []wireMessage
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]loop.Message, 0, len(wire))
	for _, m := range wire {
		msg := loop.Message{Role: m.Info.Role}
		for _, p := range m.Parts {
			msg.Parts = append(msg.Parts, loop.Part{Type: p.Type, Text: p.Text})
		}
		out = append(out, msg)
	}
	return out, nil
}

// Send posts text as a new user message. The server queues the prompt and
// returns before the assistant replies.
func (c *Client) Send(ctx context.Context, sessionID, text string) error {
	body := promptRequest{Parts: []wirePart{{Type: "text", Text: text}}}
	return c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/prompt_async", body, nil)
}

// Toast shows a transient notification in the opencode TUI. variant is one of
// "info", "success", "warning" or "error".
func (c *Client) Toast(ctx context.Context, title, message, variant string) error {
	return c.do(ctx, http.MethodPost, "/tui/show-toast", toastRequest{Title: title, Message: message, Variant: variant}, nil)
}

// ToastHook returns a loop.Hook that shows outcome events as toasts. Posts run
// in their own goroutine and failures are dropped.
func (c *Client) ToastHook(title string) loop.Hook {
	return func(entry loop.LogEntry) {
		variant, ok := toastVariant(entry.Kind)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Toast(ctx, title, entry.Message, variant); err != nil {
				c.logger().Debug("toast failed", zap.Error(err))
			}
		}()
	}
}

func toastVariant(kind loop.LogKind) (string, bool) {
	switch kind {
	case loop.LogStart, loop.LogContinue, loop.LogInfo:
		return "info", true
	case loop.LogComplete:
		return "success", true
	case loop.LogExhausted, loop.LogStopped, loop.LogAborted:
		return "warning", true
	case loop.LogError:
		return "error", true
	}
	return "", false
}

func (c *Client) endpoint(path string) string {
	u := c.BaseURL + path
	if c.Directory != "" {
		u += "?directory=" + url.QueryEscape(c.Directory)
	}
	return u
}

// do performs one JSON request. in may be nil; out may be nil to discard the
// response body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("opencode: marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("opencode: %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("opencode: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opencode: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opencode: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
