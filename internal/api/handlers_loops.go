package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

type loopsResponse struct {
	Loops []state.Loop `json:"loops"`
}

type stopResponse struct {
	Stopped bool   `json:"stopped"`
	Reply   string `json:"reply"`
}

// listLoops handles GET /v1/loops.
func (s *Server) listLoops(w http.ResponseWriter, r *http.Request) {
	loops, err := s.ctrl.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if loops == nil {
		loops = []state.Loop{}
	}
	writeJSON(w, http.StatusOK, loopsResponse{Loops: loops})
}

// getLoop handles GET /v1/loops/{session}.
func (s *Server) getLoop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	l, found, err := s.ctrl.Store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no active loop for session "+sessionID)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// stopLoop handles DELETE /v1/loops/{session}, the same as a stop directive.
func (s *Server) stopLoop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	reply, stopped, err := s.ctrl.Stop(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("stop failed", zap.String("session", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !stopped {
		status = http.StatusNotFound
	}
	writeJSON(w, status, stopResponse{Stopped: stopped, Reply: reply})
}

type healthResponse struct {
	Status string `json:"status"`
	Loops  int    `json:"loops"`
	Error  string `json:"error,omitempty"`
}

// health handles GET /health. A failing state store reports degraded.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	loops, err := s.ctrl.Store.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Loops: len(loops)})
}
