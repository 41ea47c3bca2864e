// Package supervisor keeps a long-running function alive: it restarts the
// function after failures with a fixed backoff and cancels it when it goes
// quiet for too long.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// RunFunc is the function a Supervisor keeps running. It should block until
// ctx ends or it fails.
type RunFunc func(ctx context.Context) error

// Config controls restart behaviour.
type Config struct {
	// Name labels emitted entries, e.g. "event stream".
	Name string
	// MaxRetries is the number of consecutive failed attempts tolerated
	// before Supervise gives up.
	MaxRetries int
	Backoff    time.Duration
	// QuietTimeout cancels an attempt that reported no output for this long.
	// Zero disables it.
	QuietTimeout time.Duration
}

// Supervisor restarts a RunFunc until it succeeds, ctx ends, or it fails
// MaxRetries+1 times in a row. An attempt that reported output before failing
// resets the failure count.
type Supervisor struct {
	cfg    Config
	emit   loop.Hook
	logger *zap.Logger

	// mu protects lastOutputAt and sawOutput
	mu           sync.Mutex
	lastOutputAt time.Time
	sawOutput    bool
}

// New creates a Supervisor. emit receives progress entries and may be nil.
func New(cfg Config, emit loop.Hook, logger *zap.Logger) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, emit: emit, logger: logger, lastOutputAt: time.Now()}
}

// Supervise runs fn until it returns nil or ctx ends, restarting it after
// failures. It returns ctx.Err() when cancelled.
func (s *Supervisor) Supervise(ctx context.Context, run RunFunc) error {
	var consecutive int
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.resetAttempt()
		err := s.runWithQuietDetection(ctx, run)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.attemptHadOutput() {
			consecutive = 0
		}
		consecutive++
		s.logger.Warn("supervised run failed",
			zap.String("name", s.cfg.Name),
			zap.Int("attempt", attempt),
			zap.Int("consecutive", consecutive),
			zap.Error(err))

		if consecutive > s.cfg.MaxRetries {
			s.report(loop.LogError, fmt.Sprintf("%s failed %d times in a row, giving up: %v", s.cfg.Name, consecutive, err))
			return fmt.Errorf("supervisor: %s: max retries exceeded after %d failures: %w", s.cfg.Name, consecutive, err)
		}

		s.report(loop.LogInfo, fmt.Sprintf("%s failed (%v); retrying in %s (%d/%d)",
			s.cfg.Name, err, s.cfg.Backoff, consecutive, s.cfg.MaxRetries))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Backoff):
		}
	}
}

// runWithQuietDetection runs fn and cancels it once no output has been
// reported for QuietTimeout.
func (s *Supervisor) runWithQuietDetection(ctx context.Context, run RunFunc) error {
	if s.cfg.QuietTimeout <= 0 {
		return run(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	quiet := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(s.cfg.QuietTimeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				elapsed := time.Since(s.lastOutputAt)
				s.mu.Unlock()
				if elapsed >= s.cfg.QuietTimeout {
					close(quiet)
					cancel()
					return
				}
			}
		}
	}()

	err := run(runCtx)
	cancel()
	<-watchDone

	select {
	case <-quiet:
		return fmt.Errorf("no output for %s", s.cfg.QuietTimeout)
	default:
	}
	return err
}

// NotifyOutput marks the current attempt as alive.
func (s *Supervisor) NotifyOutput() {
	s.mu.Lock()
	s.lastOutputAt = time.Now()
	s.sawOutput = true
	s.mu.Unlock()
}

func (s *Supervisor) resetAttempt() {
	s.mu.Lock()
	s.lastOutputAt = time.Now()
	s.sawOutput = false
	s.mu.Unlock()
}

func (s *Supervisor) attemptHadOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sawOutput
}

func (s *Supervisor) report(kind loop.LogKind, msg string) {
	if s.emit == nil {
		return
	}
	s.emit(loop.LogEntry{Kind: kind, Timestamp: time.Now(), Message: msg})
}
