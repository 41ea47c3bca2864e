package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/api"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/config"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/journal"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/notify"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/opencode"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/supervisor"
)

// app holds the components built from one config.
type app struct {
	cfg     *config.Config
	store   state.Store
	journal *journal.JSONL   // nil unless the command records entries
	client  *opencode.Client // nil when opencode.url is empty
	ctrl    *loop.Controller
}

// appOptions selects which sinks a command wires up.
type appOptions struct {
	record bool      // open a journal file
	notify bool      // webhook notifications and opencode toasts
	out    io.Writer // echo entries as text lines; nil to disable
}

func newApp(cfg *config.Config, log *zap.Logger, opts appOptions) (*app, error) {
	store, err := state.Open(cfg.State.Backend, cfg.Resolve(cfg.State.Path), log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}

	if cfg.OpenCode.URL != "" {
		a.client = opencode.New(cfg.OpenCode.URL, cfg.OpenCode.Directory)
		a.client.Logger = log
	}

	var hooks []loop.Hook
	if opts.record {
		dir := cfg.Resolve(cfg.Journal.Dir)
		j, jErr := journal.NewJSONL(dir)
		if jErr != nil {
			_ = store.Close()
			return nil, jErr
		}
		if retErr := journal.EnforceRetention(dir, cfg.Journal.Retention); retErr != nil {
			log.Warn("journal retention failed", zap.Error(retErr))
		}
		a.journal = j
		hooks = append(hooks, j.Hook(log))
	}
	if opts.out != nil {
		hooks = append(hooks, printHook(opts.out))
	}
	if opts.notify {
		if cfg.Notifications.URL != "" {
			n := notify.New(cfg.Notifications.URL, cfg.Project.Name, notify.Options{
				OnStart:     cfg.Notifications.OnStart,
				OnComplete:  cfg.Notifications.OnComplete,
				OnExhausted: cfg.Notifications.OnExhausted,
				OnStop:      cfg.Notifications.OnStop,
				OnError:     cfg.Notifications.OnError,
			})
			hooks = append(hooks, n.Hook)
		}
		if cfg.OpenCode.Toast && a.client != nil {
			hooks = append(hooks, a.client.ToastHook(cfg.Project.Name))
		}
	}

	a.ctrl = &loop.Controller{
		Store:  store,
		Parser: cfg.Parser(),
		Hooks:  hooks,
		Logger: log,
	}
	if a.client != nil {
		a.ctrl.Transport = a.client
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// printHook writes each entry as one plain text line.
func printHook(w io.Writer) loop.Hook {
	var mu sync.Mutex
	return func(entry loop.LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, formatLogLine(entry))
	}
}

func formatLogLine(e loop.LogEntry) string {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	session := e.SessionID
	if session == "" {
		session = "-"
	}
	return fmt.Sprintf("[%s] %-10s %-20s %s", ts.Local().Format("15:04:05"), e.Kind, session, e.Message)
}

// eventSource is the opencode event stream as seen by serve.
type eventSource interface {
	Subscribe(ctx context.Context) (<-chan loop.Event, error)
}

// follow forwards stream events to ingest until ctx ends. A stream that
// closes on its own is an error: without it no turn would ever be evaluated.
func follow(ctx context.Context, src eventSource, ingest func(loop.Event), log *zap.Logger) error {
	events, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	log.Info("following opencode events")
	for ev := range events {
		ingest(ev)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("opencode event stream closed")
}

// followSupervised runs follow under a supervisor so that an opencode restart
// only costs a reconnect. Shutdown is not an error.
func followSupervised(ctx context.Context, a *app, src eventSource, ingest func(loop.Event), log *zap.Logger) error {
	oc := a.cfg.OpenCode
	sup := supervisor.New(supervisor.Config{
		Name:         "opencode event stream",
		MaxRetries:   oc.ReconnectRetries,
		Backoff:      time.Duration(oc.ReconnectBackoffSeconds) * time.Second,
		QuietTimeout: time.Duration(oc.QuietTimeoutSeconds) * time.Second,
	}, a.ctrl.Emit, log)

	err := sup.Supervise(ctx, func(runCtx context.Context) error {
		return follow(runCtx, src, func(ev loop.Event) {
			sup.NotifyOutput()
			ingest(ev)
		}, log)
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// serve runs the hook server, and the event follower when enabled, until ctx
// is cancelled or either fails.
func serve(ctx context.Context, a *app, log *zap.Logger) error {
	srv := api.New(ctx, a.ctrl, a.cfg.Server.APIKey, log)
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("hook server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if a.cfg.OpenCode.SubscribeEvents && a.client != nil {
		g.Go(func() error {
			return followSupervised(gctx, a, a.client, srv.Ingest, log)
		})
	}

	err := g.Wait()
	srv.Wait()
	return err
}
