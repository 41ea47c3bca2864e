package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// wireEvent is one server-sent event payload from GET /event.
type wireEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type sessionProps struct {
	SessionID string `json:"sessionID"`
	Status    *struct {
		Type string `json:"type"`
	} `json:"status"`
	Error *struct {
		Name string `json:"name"`
	} `json:"error"`
}

// ParseEvents reads a server-sent event stream from r and sends the events
// the controller cares about on the returned channel. The channel is closed
// when r reaches EOF or an error.
func ParseEvents(r io.Reader) <-chan loop.Event {
	ch := make(chan loop.Event, 64)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		// Allow up to 1MB lines (message.updated events carry whole parts)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var data strings.Builder
		flush := func() {
			if data.Len() == 0 {
				return
			}
			if ev, ok := parseEvent([]byte(data.String())); ok {
				ch <- ev
			}
			data.Reset()
		}
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
			// event:, id:, retry: and comment lines carry nothing we need.
		}
		flush()
	}()
	return ch
}

// parseEvent maps one payload to a loop.Event. Unknown types and events
// without a session are dropped.
func parseEvent(payload []byte) (loop.Event, bool) {
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, false
	}
	var props sessionProps
	if len(ev.Properties) > 0 {
		if err := json.Unmarshal(ev.Properties, &props); err != nil {
			return nil, false
		}
	}
	if props.SessionID == "" {
		return nil, false
	}

	switch ev.Type {
	case "session.idle":
		return loop.TurnIdle{SessionID: props.SessionID}, true
	case "session.status":
		if props.Status != nil && props.Status.Type == "idle" {
			return loop.TurnIdle{SessionID: props.SessionID}, true
		}
	case "session.error":
		cause := ""
		if props.Error != nil {
			cause = props.Error.Name
		}
		return loop.SessionError{SessionID: props.SessionID, Cause: cause}, true
	}
	return nil, false
}

// Subscribe opens GET /event and streams parsed events until ctx is cancelled
// or the server closes the stream. The returned channel is closed then.
func (c *Client) Subscribe(ctx context.Context) (<-chan loop.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/event"), nil)
	if err != nil {
		return nil, fmt.Errorf("opencode: subscribe: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only the context bounds it.
	stream := &http.Client{Transport: c.httpClient().Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opencode: subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("opencode: subscribe: status %d", resp.StatusCode)
	}

	parsed := ParseEvents(resp.Body)
	out := make(chan loop.Event, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			select {
			case <-ctx.Done():
				// Closing the body unblocks the parser goroutine.
				resp.Body.Close()
				for range parsed {
				}
				return
			case ev, ok := <-parsed:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
				}
			}
		}
	}()
	return out, nil
}
