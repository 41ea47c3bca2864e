package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/api"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/config"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/directive"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/journal"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// testConfig returns defaults with every path under a temp dir and no
// opencode server.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(dir, "state.json")
	cfg.Journal.Dir = filepath.Join(dir, "logs")
	cfg.OpenCode.URL = ""
	cfg.OpenCode.SubscribeEvents = false
	return &cfg
}

func startDirective(max int) directive.Directive {
	return directive.Directive{Kind: directive.Start, MaxIterations: max, Promise: "DONE", Prompt: "fix the build"}
}

func TestNewApp_RecordsAndPrints(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	a, err := newApp(cfg, zap.NewNop(), appOptions{record: true, out: &out})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.client != nil || a.ctrl.Transport != nil {
		t.Error("no opencode url should leave the transport unset")
	}
	if a.journal == nil {
		t.Fatal("record should open a journal")
	}

	ctx := context.Background()
	if _, err := a.ctrl.Start(ctx, "ses_1", startDirective(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reply, stopped, err := a.ctrl.Stop(ctx, "ses_1")
	if err != nil || !stopped {
		t.Fatalf("Stop = %q, %v, %v", reply, stopped, err)
	}
	if reply != "Loop stopped at iteration 1 of 3." {
		t.Errorf("reply = %q", reply)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	runs, err := journal.History(cfg.Journal.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].SessionID != "ses_1" || runs[0].Outcome != loop.LogStopped {
		t.Errorf("run = %+v", runs[0])
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines, want 2:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "start") || !strings.Contains(lines[1], "stopped") {
		t.Errorf("unexpected lines:\n%s", out.String())
	}
}

func TestNewApp_NoRecord(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenCode.URL = "http://127.0.0.1:1"

	a, err := newApp(cfg, zap.NewNop(), appOptions{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.journal != nil {
		t.Error("journal should stay closed without record")
	}
	if a.client == nil || a.ctrl.Transport == nil {
		t.Error("opencode url should wire the client as transport")
	}
	if len(a.ctrl.Hooks) != 0 {
		t.Errorf("hooks = %d, want 0", len(a.ctrl.Hooks))
	}
}

func TestNewApp_BadBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Backend = "etcd"
	if _, err := newApp(cfg, zap.NewNop(), appOptions{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestFormatLogLine(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 5, 9, 0, time.Local)

	got := formatLogLine(loop.LogEntry{Timestamp: ts, Kind: loop.LogContinue, SessionID: "ses_1", Message: "iteration 2"})
	if !strings.HasPrefix(got, "[14:05:09] continue") {
		t.Errorf("line = %q", got)
	}
	if !strings.Contains(got, "ses_1") || !strings.HasSuffix(got, "iteration 2") {
		t.Errorf("line = %q", got)
	}

	got = formatLogLine(loop.LogEntry{Timestamp: ts, Kind: loop.LogInfo, Message: "hello"})
	if !strings.Contains(got, " - ") {
		t.Errorf("missing session placeholder: %q", got)
	}
}

func TestPrintHook_Concurrent(t *testing.T) {
	var out bytes.Buffer
	hook := printHook(&out)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hook(loop.LogEntry{Kind: loop.LogInfo, SessionID: "ses_1", Message: "tick"})
		}()
	}
	wg.Wait()

	if n := strings.Count(out.String(), "\n"); n != 20 {
		t.Errorf("lines = %d, want 20", n)
	}
}

// fakeSource replays a fixed set of events, then either closes the stream or
// holds it open until ctx ends.
type fakeSource struct {
	events []loop.Event
	hold   bool
	err    error
}

func (f fakeSource) Subscribe(ctx context.Context) (<-chan loop.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan loop.Event)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func TestFollow(t *testing.T) {
	defer goleak.VerifyNone(t)

	events := []loop.Event{loop.TurnIdle{SessionID: "ses_1"}, loop.SessionError{SessionID: "ses_1", Cause: "MessageAbortedError"}}

	t.Run("stream closes", func(t *testing.T) {
		var got []loop.Event
		err := follow(context.Background(), fakeSource{events: events}, func(ev loop.Event) { got = append(got, ev) }, zap.NewNop())
		if err == nil {
			t.Error("expected error when the stream closes")
		}
		if len(got) != 2 {
			t.Errorf("ingested %d events, want 2", len(got))
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var got []loop.Event
		ingest := func(ev loop.Event) {
			got = append(got, ev)
			if len(got) == len(events) {
				cancel()
			}
		}
		if err := follow(ctx, fakeSource{events: events, hold: true}, ingest, zap.NewNop()); err != nil {
			t.Errorf("follow = %v, want nil after cancel", err)
		}
	})

	t.Run("subscribe fails", func(t *testing.T) {
		want := errors.New("connection refused")
		err := follow(context.Background(), fakeSource{err: want}, func(loop.Event) {}, zap.NewNop())
		if !errors.Is(err, want) {
			t.Errorf("follow = %v, want %v", err, want)
		}
	})
}

// remoteSetup runs a hook server over a memory store and points a memory
// backend config at it.
func remoteSetup(t *testing.T, apiKey string) (*config.Config, *loop.Controller) {
	t.Helper()
	ctrl := &loop.Controller{
		Store:  state.NewMemoryStore(),
		Parser: directive.Parser{},
	}
	srv := api.New(context.Background(), ctrl, apiKey, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	cfg := config.Defaults()
	cfg.State.Backend = state.BackendMemory
	cfg.Server.Addr = ts.URL
	cfg.Server.APIKey = apiKey
	return &cfg, ctrl
}

func TestRemote_ListAndStop(t *testing.T) {
	cfg, ctrl := remoteSetup(t, "secret")
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, "ses_1", startDirective(4)); err != nil {
		t.Fatal(err)
	}

	loops, err := listLoops(ctx, cfg)
	if err != nil {
		t.Fatalf("listLoops: %v", err)
	}
	if len(loops) != 1 || loops[0].SessionID != "ses_1" || loops[0].MaxIterations != 4 {
		t.Fatalf("loops = %+v", loops)
	}

	reply, err := stopLoop(ctx, cfg, "ses_1")
	if err != nil {
		t.Fatalf("stopLoop: %v", err)
	}
	if reply != "Loop stopped at iteration 1 of 4." {
		t.Errorf("reply = %q", reply)
	}

	reply, err = stopLoop(ctx, cfg, "ses_1")
	if err != nil {
		t.Fatalf("second stopLoop: %v", err)
	}
	if reply != loop.NoActiveLoop {
		t.Errorf("reply = %q, want %q", reply, loop.NoActiveLoop)
	}

	loops, err = listLoops(ctx, cfg)
	if err != nil || len(loops) != 0 {
		t.Errorf("after stop: loops = %+v, err = %v", loops, err)
	}
}

func TestRemote_WrongKey(t *testing.T) {
	cfg, _ := remoteSetup(t, "secret")
	cfg.Server.APIKey = "guess"

	_, err := listLoops(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("listLoops = %v, want 401 error", err)
	}
}

func TestRemote_ServerDown(t *testing.T) {
	cfg := config.Defaults()
	cfg.State.Backend = state.BackendMemory
	cfg.Server.Addr = "127.0.0.1:1"

	_, err := stopLoop(context.Background(), &cfg, "ses_1")
	if err == nil || !strings.Contains(err.Error(), "ocontinue serve") {
		t.Errorf("stopLoop = %v, want hint about serve", err)
	}
}

func TestStopLoop_FileBackend(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(cfg, zap.NewNop(), appOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ctrl.Start(ctx, "ses_9", startDirective(2)); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	reply, err := stopLoop(ctx, cfg, "ses_9")
	if err != nil {
		t.Fatalf("stopLoop: %v", err)
	}
	if reply != "Loop stopped at iteration 1 of 2." {
		t.Errorf("reply = %q", reply)
	}

	loops, err := listLoops(ctx, cfg)
	if err != nil || len(loops) != 0 {
		t.Errorf("loops = %+v, err = %v", loops, err)
	}

	runs, err := journal.History(cfg.Journal.Dir)
	if err != nil || len(runs) != 1 || runs[0].Outcome != loop.LogStopped {
		t.Errorf("runs = %+v, err = %v", runs, err)
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:4097", "http://127.0.0.1:4097"},
		{":4097", "http://127.0.0.1:4097"},
		{"localhost:8080", "http://localhost:8080"},
		{"http://10.0.0.2:4097/", "http://10.0.0.2:4097"},
		{"https://hooks.example.com", "https://hooks.example.com"},
	}
	for _, tt := range tests {
		if got := serverURL(tt.addr); got != tt.want {
			t.Errorf("serverURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

// countingSource hands out a fresh closing stream on every Subscribe.
type countingSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *countingSource) Subscribe(ctx context.Context) (<-chan loop.Event, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.fail {
		return nil, errors.New("connection refused")
	}
	return fakeSource{events: []loop.Event{loop.TurnIdle{SessionID: "ses_1"}}}.Subscribe(ctx)
}

func (c *countingSource) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestFollowSupervised(t *testing.T) {
	newTestApp := func(retries int) *app {
		cfg := config.Defaults()
		cfg.OpenCode.ReconnectRetries = retries
		cfg.OpenCode.ReconnectBackoffSeconds = 0
		return &app{cfg: &cfg, ctrl: &loop.Controller{}}
	}

	t.Run("reconnects after the stream closes", func(t *testing.T) {
		src := &countingSource{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ingested := 0
		ingest := func(loop.Event) {
			ingested++
			if ingested == 3 {
				cancel()
			}
		}
		if err := followSupervised(ctx, newTestApp(1), src, ingest, zap.NewNop()); err != nil {
			t.Errorf("followSupervised = %v, want nil after shutdown", err)
		}
		if src.count() < 3 {
			t.Errorf("subscriptions = %d, want at least 3", src.count())
		}
	})

	t.Run("gives up when reconnects keep failing", func(t *testing.T) {
		src := &countingSource{fail: true}
		var out bytes.Buffer
		a := newTestApp(2)
		a.ctrl.Hooks = []loop.Hook{printHook(&out)}

		err := followSupervised(context.Background(), a, src, func(loop.Event) {}, zap.NewNop())
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("followSupervised = %v", err)
		}
		if src.count() != 3 {
			t.Errorf("subscriptions = %d, want 3", src.count())
		}
		if !strings.Contains(out.String(), "giving up") {
			t.Errorf("missing give-up entry:\n%s", out.String())
		}
	})
}
