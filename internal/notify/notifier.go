// Package notify sends fire-and-forget HTTP notifications for loop outcomes.
// The primary use case is ntfy.sh, but any HTTP webhook works.
package notify

import (
	"net/http"
	"strings"
	"time"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// Options selects which loop events produce a notification.
type Options struct {
	OnStart     bool
	OnComplete  bool
	OnExhausted bool
	OnStop      bool // manual stop and user abort
	OnError     bool
}

// Notifier posts plain-text HTTP notifications for selected loop events.
type Notifier struct {
	url    string
	title  string
	opts   Options
	client *http.Client
}

// New creates a Notifier. projectName is used as the X-Title header; if empty,
// "ocontinue" is used instead.
func New(notifURL, projectName string, opts Options) *Notifier {
	title := "ocontinue"
	if projectName != "" {
		title = projectName
	}
	return &Notifier{
		url:    notifURL,
		title:  title,
		opts:   opts,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Wants reports whether entry's kind is enabled.
func (n *Notifier) Wants(kind loop.LogKind) bool {
	switch kind {
	case loop.LogStart:
		return n.opts.OnStart
	case loop.LogComplete:
		return n.opts.OnComplete
	case loop.LogExhausted:
		return n.opts.OnExhausted
	case loop.LogStopped, loop.LogAborted:
		return n.opts.OnStop
	case loop.LogError:
		return n.opts.OnError
	}
	return false
}

// Hook is a loop.Hook. It fires an asynchronous POST for events that match
// the configured options.
func (n *Notifier) Hook(entry loop.LogEntry) {
	if n.Wants(entry.Kind) {
		go n.post(entry.Message, priority(entry.Kind))
	}
}

// priority maps outcomes to ntfy priorities; unknown receivers ignore the
// header.
func priority(kind loop.LogKind) string {
	switch kind {
	case loop.LogExhausted, loop.LogError:
		return "high"
	default:
		return "default"
	}
}

// post sends a plain-text POST to the configured URL. Errors are silently
// discarded so notification failures never reach the controller.
func (n *Notifier) post(message, prio string) {
	req, err := http.NewRequest(http.MethodPost, n.url, strings.NewReader(message))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Title", n.title)
	req.Header.Set("X-Priority", prio)
	resp, err := n.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
