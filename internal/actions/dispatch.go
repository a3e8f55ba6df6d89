package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/deskrelay/internal/backoff"
	"github.com/haasonsaas/deskrelay/internal/display"
	"github.com/haasonsaas/deskrelay/internal/observability"
	"github.com/haasonsaas/deskrelay/internal/sandbox"
)

// DefaultWaitDuration is how long a wait action pauses.
const DefaultWaitDuration = 2 * time.Second

// ErrUnrecognizedAction is the error carried by an OutcomeUnrecognized result.
var ErrUnrecognizedAction = errors.New("unrecognized action")

// Outcome classifies a dispatch.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeExecutionFailed Outcome = "execution_failed"
	OutcomeUnrecognized    Outcome = "unrecognized"
	OutcomeDispatchFailed  Outcome = "dispatch_failed"
)

// Result reports how one dispatch went. Err is nil only for OutcomeSuccess.
type Result struct {
	Kind    Kind
	Outcome Outcome
	Err     error
}

// OK reports whether the action ran without error.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Surface is the subset of display.Surface the dispatcher drives.
type Surface interface {
	MoveAndClick(ctx context.Context, x, y int, button display.Button) error
	MoveTo(ctx context.Context, x, y int) error
	ClickButton(ctx context.Context, button display.Button) error
	SendKey(ctx context.Context, key string) error
	TypeText(ctx context.Context, text string) error
}

// Dispatcher translates actions into surface calls. Dispatch never returns
// an error or panics; every failure is folded into the Result.
type Dispatcher struct {
	surface Surface
	wait    time.Duration
	sleep   func(context.Context, time.Duration) error
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWaitDuration sets the pause used for wait actions.
func WithWaitDuration(wait time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if wait >= 0 {
			d.wait = wait
		}
	}
}

// WithSleep replaces the context-aware sleep used for wait actions.
func WithSleep(sleep func(context.Context, time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *observability.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records action outcomes.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer traces each dispatch.
func WithTracer(t *observability.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher creates a dispatcher for surface.
func NewDispatcher(surface Surface, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		surface: surface,
		wait:    DefaultWaitDuration,
		sleep:   backoff.Sleep,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch performs action against the surface.
func (d *Dispatcher) Dispatch(ctx context.Context, action Action) (result Result) {
	if action == nil {
		action = Unrecognized{Reason: "nil action"}
	}
	kind := action.Kind()
	ctx, span := d.tracer.TraceDispatch(ctx, string(kind))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = Result{Kind: kind, Outcome: OutcomeDispatchFailed, Err: fmt.Errorf("panic dispatching %s: %v", kind, r)}
		}
		d.report(ctx, action, result)
		observability.RecordError(span, result.Err)
		d.metrics.ActionDispatched(string(kind), string(result.Outcome))
	}()

	if u, ok := action.(Unrecognized); ok {
		return Result{Kind: kind, Outcome: OutcomeUnrecognized, Err: fmt.Errorf("%w: %s", ErrUnrecognizedAction, u)}
	}

	err := d.perform(ctx, action)
	return classify(kind, err)
}

func (d *Dispatcher) perform(ctx context.Context, action Action) error {
	switch a := action.(type) {
	case Click:
		x, y := a.Point()
		return d.surface.MoveAndClick(ctx, x, y, ButtonFor(a.Button))
	case Scroll:
		x, y := a.Point()
		errs := []error{d.surface.MoveTo(ctx, x, y)}
		button, ticks := ScrollTicks(a.ScrollY)
		for i := 0; i < ticks && ctx.Err() == nil; i++ {
			errs = append(errs, d.surface.ClickButton(ctx, button))
		}
		return joinSequence(ctx, errs)
	case Keypress:
		var errs []error
		for _, key := range a.Keys {
			if ctx.Err() != nil {
				break
			}
			errs = append(errs, d.surface.SendKey(ctx, NormalizeKey(key)))
		}
		return joinSequence(ctx, errs)
	case TypeText:
		return d.surface.TypeText(ctx, a.Text)
	case Wait:
		return d.sleep(ctx, d.wait)
	case Screenshot:
		return nil
	default:
		return fmt.Errorf("no handler for action kind %q", action.Kind())
	}
}

// joinSequence folds the errors of a multi-command action. A failed command
// does not stop the commands after it; only cancellation does.
func joinSequence(ctx context.Context, errs []error) error {
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func classify(kind Kind, err error) Result {
	if err == nil {
		return Result{Kind: kind, Outcome: OutcomeSuccess}
	}
	var failed *sandbox.ExecutionFailedError
	if errors.As(err, &failed) {
		return Result{Kind: kind, Outcome: OutcomeExecutionFailed, Err: err}
	}
	return Result{Kind: kind, Outcome: OutcomeDispatchFailed, Err: err}
}

func (d *Dispatcher) report(ctx context.Context, action Action, result Result) {
	switch result.Outcome {
	case OutcomeSuccess:
		d.logger.Debug(ctx, "action dispatched", "kind", string(result.Kind), "action", fmt.Sprintf("%+v", action))
	case OutcomeUnrecognized:
		u, _ := action.(Unrecognized)
		d.logger.Warn(ctx, "unrecognized action", "type", u.Type, "reason", u.Reason, "raw", string(u.Raw))
	case OutcomeExecutionFailed:
		var failed *sandbox.ExecutionFailedError
		errors.As(result.Err, &failed)
		d.logger.Error(ctx, "action execution failed",
			"kind", string(result.Kind),
			"command", failed.Command.String(),
			"error", result.Err)
	default:
		d.logger.Error(ctx, "action dispatch failed",
			"kind", string(result.Kind),
			"action", fmt.Sprintf("%+v", action),
			"error", result.Err)
	}
}
