// Package api is the HTTP hook server the opencode plugin calls. It forwards
// user messages, payload rewrites and session events to the loop controller
// and exposes the active loops for inspection.
package api

import (
	"context"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// Server owns the router and the background event handlers it spawns.
type Server struct {
	ctrl   *loop.Controller
	apiKey string
	logger *zap.Logger

	// base outlives individual requests; events are evaluated against it so a
	// plugin that disconnects early does not cancel the continuation.
	base context.Context
	wg   sync.WaitGroup

	// queues holds pending events per session. A key is present while that
	// session's drain goroutine runs.
	qmu    sync.Mutex
	queues map[string][]loop.Event
}

// New creates a Server. base bounds background event handling; cancel it to
// stop in-flight evaluations, then call Wait.
func New(base context.Context, ctrl *loop.Controller, apiKey string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ctrl:   ctrl,
		apiKey: apiKey,
		logger: logger,
		base:   base,
		queues: make(map[string][]loop.Event),
	}
}

// Wait blocks until every accepted event has been handled.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Router creates the chi router with all routes and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.apiKey))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/hooks/chat-message", s.chatMessage)
			r.Post("/hooks/messages-transform", s.messagesTransform)
			r.Post("/events", s.ingestEvent)

			r.Route("/loops", func(r chi.Router) {
				r.Get("/", s.listLoops)
				r.Get("/{session}", s.getLoop)
				r.Delete("/{session}", s.stopLoop)
			})
		})
	})

	return r
}

// Ingest hands an event to the controller in the background. It is shared by
// the events endpoint and the opencode stream subscriber. Events of one
// session are handled one at a time in arrival order; sessions run
// independently.
func (s *Server) Ingest(ev loop.Event) {
	id := ev.Session()
	s.qmu.Lock()
	defer s.qmu.Unlock()
	pending, running := s.queues[id]
	s.queues[id] = append(pending, ev)
	if running {
		return
	}
	s.wg.Add(1)
	go s.drain(id)
}

// drain handles the session's queued events until the queue is empty.
func (s *Server) drain(id string) {
	defer s.wg.Done()
	for {
		s.qmu.Lock()
		q := s.queues[id]
		if len(q) == 0 {
			delete(s.queues, id)
			s.qmu.Unlock()
			return
		}
		ev := q[0]
		s.queues[id] = q[1:]
		s.qmu.Unlock()

		if err := s.ctrl.Handle(s.base, ev); err != nil {
			s.logger.Warn("event handling failed",
				zap.String("session", id),
				zap.String("event", eventName(ev)),
				zap.Error(err))
		}
	}
}

func eventName(ev loop.Event) string {
	switch ev.(type) {
	case loop.MessageReceived:
		return "message"
	case loop.TurnIdle:
		return "idle"
	case loop.SessionError:
		return "error"
	default:
		return "unknown"
	}
}
