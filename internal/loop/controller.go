// Package loop implements the continuation controller: it starts a loop when a
// user message carries a start directive, and after every assistant turn
// decides whether the loop completed, ran out of iterations, or needs the
// prompt sent again.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/directive"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// NoActiveLoop is the reply to a stop directive in a session without a loop.
const NoActiveLoop = "No active loop in this session."

// Outcome is the result of evaluating one finished assistant turn.
type Outcome string

const (
	OutcomeNone      Outcome = "none"      // no loop, or the loop changed underneath us
	OutcomeCompleted Outcome = "completed" // promise found
	OutcomeExhausted Outcome = "exhausted" // budget spent
	OutcomeContinued Outcome = "continued" // prompt re-sent
)

// Interception is what the host should do with an incoming user message.
type Interception struct {
	Kind directive.Kind
	// Text replaces the message content in the transcript. Equal to the
	// input when Kind is None.
	Text string
	// Reply is an informational message for the user (stop acknowledgement).
	Reply string
	// Loop is the state created by a start directive.
	Loop state.Loop
}

// Controller drives continuation loops for any number of sessions. Handlers
// for different sessions are independent; state changes for one session go
// through Store.Update so overlapping handlers cannot lose an update.
type Controller struct {
	Store     state.Store
	Transport Transport
	Parser    directive.Parser
	Hooks     []Hook
	Logger    *zap.Logger

	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// Handle dispatches one host event.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case MessageReceived:
		_, err := c.Intercept(ctx, e.SessionID, e.Text())
		return err
	case TurnIdle:
		_, err := c.Evaluate(ctx, e.SessionID)
		return err
	case SessionError:
		if e.Cause != AbortCause {
			return nil
		}
		_, err := c.Abort(ctx, e.SessionID)
		return err
	default:
		return fmt.Errorf("loop: unhandled event %T", ev)
	}
}

// Intercept inspects a user message. A start directive (re)starts the
// session's loop and returns the rewritten prompt; a stop directive ends it
// and returns the acknowledgement as both Text and Reply.
func (c *Controller) Intercept(ctx context.Context, sessionID, text string) (Interception, error) {
	d := c.Parser.Parse(text)
	switch d.Kind {
	case directive.Start:
		l, err := c.Start(ctx, sessionID, d)
		if err != nil {
			return Interception{Kind: d.Kind, Text: text}, err
		}
		return Interception{
			Kind: d.Kind,
			Text: directive.Compose(l.Prompt, l.CompletionPromise),
			Loop: l,
		}, nil
	case directive.Stop:
		reply, _, err := c.Stop(ctx, sessionID)
		if err != nil {
			return Interception{Kind: d.Kind, Text: text}, err
		}
		return Interception{Kind: d.Kind, Text: reply, Reply: reply}, nil
	default:
		return Interception{Kind: directive.None, Text: text}, nil
	}
}

// Transform rewrites a directive-bearing message on its way to the model.
// The marker comes from persisted state when the loop is already recorded,
// otherwise from the directive itself. It never changes state.
func (c *Controller) Transform(ctx context.Context, sessionID, text string) (string, bool) {
	if !directive.HasStart(text) {
		return text, false
	}
	promise := ""
	if l, found, err := c.Store.Get(ctx, sessionID); err != nil {
		c.logger().Warn("transform: state lookup failed", zap.String("session", sessionID), zap.Error(err))
	} else if found {
		promise = l.CompletionPromise
	}
	return c.Parser.Rewrite(text, promise)
}

// Start records a new loop for the session, replacing any existing one.
func (c *Controller) Start(ctx context.Context, sessionID string, d directive.Directive) (state.Loop, error) {
	if d.Kind != directive.Start {
		return state.Loop{}, errors.New("loop: start requires a start directive")
	}
	l := state.Loop{
		SessionID:         sessionID,
		RunID:             c.runID(),
		Active:            true,
		Iteration:         1,
		MaxIterations:     d.MaxIterations,
		CompletionPromise: d.Promise,
		StartedAt:         c.now(),
		Prompt:            d.Prompt,
	}
	if err := c.Store.Put(ctx, sessionID, l); err != nil {
		return state.Loop{}, fmt.Errorf("loop: start %s: %w", sessionID, err)
	}
	c.Emit(entryFor(LogStart, l, fmt.Sprintf("Loop started: up to %d iterations, promise %s",
		l.MaxIterations, directive.Marker(l.CompletionPromise))))
	return l, nil
}

// Stop ends the session's loop. Without a loop it returns NoActiveLoop and
// stopped is false; that is not an error.
func (c *Controller) Stop(ctx context.Context, sessionID string) (reply string, stopped bool, err error) {
	var ended state.Loop
	found, err := c.Store.Update(ctx, sessionID, func(cur *state.Loop) state.Mutation {
		ended = *cur
		return state.Remove
	})
	if err != nil {
		return "", false, fmt.Errorf("loop: stop %s: %w", sessionID, err)
	}
	if !found {
		c.Emit(LogEntry{Kind: LogInfo, SessionID: sessionID, Message: NoActiveLoop})
		return NoActiveLoop, false, nil
	}
	reply = fmt.Sprintf("Loop stopped at iteration %d of %d.", ended.Iteration, ended.MaxIterations)
	c.Emit(entryFor(LogStopped, ended, reply))
	return reply, true, nil
}

// Abort ends the session's loop after the user cancelled a turn.
func (c *Controller) Abort(ctx context.Context, sessionID string) (bool, error) {
	var ended state.Loop
	found, err := c.Store.Update(ctx, sessionID, func(cur *state.Loop) state.Mutation {
		ended = *cur
		return state.Remove
	})
	if err != nil {
		return false, fmt.Errorf("loop: abort %s: %w", sessionID, err)
	}
	if !found {
		return false, nil
	}
	c.Emit(entryFor(LogAborted, ended, fmt.Sprintf("Loop aborted at iteration %d of %d.", ended.Iteration, ended.MaxIterations)))
	return true, nil
}

// Evaluate runs after the assistant finishes a turn. Completion is checked
// before the budget, so a final turn that fulfils the promise counts as
// success. A missing entry at any step is a silent no-op.
func (c *Controller) Evaluate(ctx context.Context, sessionID string) (Outcome, error) {
	seen, found, err := c.Store.Get(ctx, sessionID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("loop: evaluate %s: %w", sessionID, err)
	}
	if !found {
		return OutcomeNone, nil
	}
	if c.Transport == nil {
		return OutcomeNone, errors.New("loop: evaluate: no transport configured")
	}

	history, err := c.Transport.Messages(ctx, sessionID)
	if err != nil {
		c.Emit(entryFor(LogError, seen, fmt.Sprintf("Fetching messages failed: %v", err)))
		return OutcomeNone, fmt.Errorf("loop: fetch messages %s: %w", sessionID, err)
	}
	fulfilled := directive.Fulfilled(lastAssistantText(history), seen.CompletionPromise)

	outcome := OutcomeNone
	var after state.Loop
	_, err = c.Store.Update(ctx, sessionID, func(cur *state.Loop) state.Mutation {
		// Restarted, or another handler already advanced this iteration.
		if cur.RunID != seen.RunID || cur.Iteration != seen.Iteration {
			return state.Keep
		}
		after = *cur
		switch {
		case fulfilled:
			outcome = OutcomeCompleted
			return state.Remove
		case cur.Iteration >= cur.MaxIterations:
			outcome = OutcomeExhausted
			return state.Remove
		default:
			cur.Iteration++
			after = *cur
			outcome = OutcomeContinued
			return state.Save
		}
	})
	if err != nil {
		return OutcomeNone, fmt.Errorf("loop: evaluate %s: %w", sessionID, err)
	}

	marker := directive.Marker(after.CompletionPromise)
	switch outcome {
	case OutcomeCompleted:
		c.Emit(entryFor(LogComplete, after, fmt.Sprintf("Loop complete after %d iteration(s): found %s", after.Iteration, marker)))
	case OutcomeExhausted:
		c.Emit(entryFor(LogExhausted, after, fmt.Sprintf("Loop stopped: reached max iterations (%d) without %s", after.MaxIterations, marker)))
	case OutcomeContinued:
		c.Emit(entryFor(LogContinue, after, fmt.Sprintf("Iteration %d/%d: %s not found, re-sending prompt", after.Iteration, after.MaxIterations, marker)))
		if sendErr := c.Transport.Send(ctx, sessionID, directive.Compose(after.Prompt, after.CompletionPromise)); sendErr != nil {
			c.Emit(entryFor(LogError, after, fmt.Sprintf("Re-sending prompt failed: %v", sendErr)))
			return outcome, fmt.Errorf("loop: send %s: %w", sessionID, sendErr)
		}
	}
	return outcome, nil
}

// Emit stamps entry, logs it, and hands it to every hook.
func (c *Controller) Emit(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now()
	}
	c.logEntry(entry)
	for _, h := range c.Hooks {
		c.callHook(h, entry)
	}
}

// callHook isolates the controller from a misbehaving sink.
func (c *Controller) callHook(h Hook, entry LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error("hook panicked", zap.Any("panic", r), zap.String("kind", string(entry.Kind)))
		}
	}()
	h(entry)
}

func (c *Controller) logEntry(entry LogEntry) {
	fields := []zap.Field{
		zap.String("kind", string(entry.Kind)),
		zap.String("session", entry.SessionID),
	}
	if entry.RunID != "" {
		fields = append(fields,
			zap.String("run", entry.RunID),
			zap.Int("iteration", entry.Iteration),
			zap.Int("max_iterations", entry.MaxIter),
		)
	}
	if entry.Kind == LogError {
		c.logger().Warn(entry.Message, fields...)
		return
	}
	c.logger().Info(entry.Message, fields...)
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) runID() string {
	if c.NewRunID != nil {
		return c.NewRunID()
	}
	return uuid.NewString()
}

func entryFor(kind LogKind, l state.Loop, msg string) LogEntry {
	return LogEntry{
		Kind:      kind,
		Message:   msg,
		SessionID: l.SessionID,
		RunID:     l.RunID,
		Iteration: l.Iteration,
		MaxIter:   l.MaxIterations,
		Promise:   l.CompletionPromise,
	}
}
