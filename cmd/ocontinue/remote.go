package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/config"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// A memory backend lives inside the serve process, so status and stop go
// through its hook server instead of opening the store themselves.

func listLoops(ctx context.Context, cfg *config.Config) ([]state.Loop, error) {
	if cfg.State.Backend == state.BackendMemory {
		var resp struct {
			Loops []state.Loop `json:"loops"`
		}
		if err := remoteCall(ctx, cfg, http.MethodGet, "/v1/loops", &resp); err != nil {
			return nil, err
		}
		return resp.Loops, nil
	}

	store, err := state.Open(cfg.State.Backend, cfg.Resolve(cfg.State.Path), logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(ctx)
}

func stopLoop(ctx context.Context, cfg *config.Config, sessionID string) (string, error) {
	if cfg.State.Backend == state.BackendMemory {
		var resp struct {
			Reply string `json:"reply"`
		}
		if err := remoteCall(ctx, cfg, http.MethodDelete, "/v1/loops/"+url.PathEscape(sessionID), &resp); err != nil {
			return "", err
		}
		return resp.Reply, nil
	}

	a, err := newApp(cfg, logger, appOptions{record: true})
	if err != nil {
		return "", err
	}
	defer a.Close()
	reply, _, err := a.ctrl.Stop(ctx, sessionID)
	return reply, err
}

// remoteCall performs one request against the local hook server. A 404 body
// still decodes into out; DELETE of an unknown session answers with the
// "no active loop" reply.
func remoteCall(ctx context.Context, cfg *config.Config, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, serverURL(cfg.Server.Addr)+path, nil)
	if err != nil {
		return fmt.Errorf("hook server: %w", err)
	}
	if cfg.Server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("hook server (is 'ocontinue serve' running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hook server: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hook server: decode: %w", err)
	}
	return nil
}

// serverURL turns a listen address into a base URL. An empty host means the
// server listens on every interface; loopback reaches it.
func serverURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
