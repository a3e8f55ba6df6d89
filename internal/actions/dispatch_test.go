package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/deskrelay/internal/display"
	"github.com/haasonsaas/deskrelay/internal/observability"
	"github.com/haasonsaas/deskrelay/internal/sandbox"
)

type fakeSurface struct {
	calls  []string
	failAt int
	err    error
	panic  bool
}

func (f *fakeSurface) record(call string) error {
	if f.panic {
		panic("surface exploded")
	}
	f.calls = append(f.calls, call)
	if f.err != nil && len(f.calls) == f.failAt {
		return f.err
	}
	return nil
}

func (f *fakeSurface) MoveAndClick(_ context.Context, x, y int, b display.Button) error {
	return f.record(fmt.Sprintf("moveclick %d %d %d", x, y, b))
}

func (f *fakeSurface) MoveTo(_ context.Context, x, y int) error {
	return f.record(fmt.Sprintf("move %d %d", x, y))
}

func (f *fakeSurface) ClickButton(_ context.Context, b display.Button) error {
	return f.record(fmt.Sprintf("click %d", b))
}

func (f *fakeSurface) SendKey(_ context.Context, key string) error {
	return f.record("key " + key)
}

func (f *fakeSurface) TypeText(_ context.Context, text string) error {
	return f.record("type " + text)
}

func TestDispatchSuccess(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   []string
	}{
		{name: "right click truncates", action: Click{X: 10.9, Y: 5, Button: "right"}, want: []string{"moveclick 10 5 3"}},
		{name: "middle click", action: Click{X: 0.2, Y: 767.99, Button: "middle"}, want: []string{"moveclick 0 767 2"}},
		{name: "unknown button is left", action: Click{X: 3, Y: 4, Button: "back"}, want: []string{"moveclick 3 4 1"}},
		{name: "scroll down", action: Scroll{X: 50, Y: 60, ScrollY: 3}, want: []string{"move 50 60", "click 5", "click 5", "click 5"}},
		{name: "scroll up", action: Scroll{X: 50, Y: 60, ScrollY: -2}, want: []string{"move 50 60", "click 4", "click 4"}},
		{name: "scroll zero only moves", action: Scroll{X: 7, Y: 8, ScrollX: 4}, want: []string{"move 7 8"}},
		{name: "keys in order", action: Keypress{Keys: []string{"Enter", "a"}}, want: []string{"key Return", "key a"}},
		{name: "type text", action: TypeText{Text: "hello world"}, want: []string{"type hello world"}},
		{name: "screenshot is a no-op", action: Screenshot{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			surface := &fakeSurface{}
			result := NewDispatcher(surface).Dispatch(context.Background(), tt.action)
			if !result.OK() || result.Err != nil {
				t.Fatalf("Dispatch() = %+v, want success", result)
			}
			if result.Kind != tt.action.Kind() {
				t.Errorf("Kind = %q, want %q", result.Kind, tt.action.Kind())
			}
			if strings.Join(surface.calls, "|") != strings.Join(tt.want, "|") {
				t.Errorf("calls = %v, want %v", surface.calls, tt.want)
			}
		})
	}
}

func TestDispatchWaitSleeps(t *testing.T) {
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	surface := &fakeSurface{}
	result := NewDispatcher(surface, WithSleep(sleep)).Dispatch(context.Background(), Wait{})
	if !result.OK() {
		t.Fatalf("Dispatch() = %+v", result)
	}
	if len(slept) != 1 || slept[0] != DefaultWaitDuration {
		t.Errorf("slept = %v, want [%s]", slept, DefaultWaitDuration)
	}
	if len(surface.calls) != 0 {
		t.Errorf("wait touched the surface: %v", surface.calls)
	}

	slept = nil
	NewDispatcher(surface, WithSleep(sleep), WithWaitDuration(10*time.Millisecond)).Dispatch(context.Background(), Wait{})
	if len(slept) != 1 || slept[0] != 10*time.Millisecond {
		t.Errorf("slept = %v, want [10ms]", slept)
	}
}

func TestDispatchWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := NewDispatcher(&fakeSurface{}).Dispatch(ctx, Wait{})
	if result.Outcome != OutcomeDispatchFailed || !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Dispatch() = %+v, want dispatch_failed with context.Canceled", result)
	}
}

func TestDispatchExecutionFailed(t *testing.T) {
	failure := &sandbox.ExecutionFailedError{
		Command: sandbox.NewCommand("xdotool", "key", "--", "Return"),
		Stderr:  "Can't open display",
		Cause:   errors.New("exit status 1"),
	}
	surface := &fakeSurface{err: failure, failAt: 1}

	var logs bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: &logs})
	result := NewDispatcher(surface, WithLogger(logger)).Dispatch(context.Background(), Keypress{Keys: []string{"enter", "a", "b"}})

	if result.Outcome != OutcomeExecutionFailed {
		t.Fatalf("Outcome = %q, want execution_failed", result.Outcome)
	}
	if !errors.Is(result.Err, failure) {
		t.Errorf("Err = %v, want the execution failure", result.Err)
	}
	want := []string{"key Return", "key a", "key b"}
	if strings.Join(surface.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want every key sent in order %v", surface.calls, want)
	}
	if !strings.Contains(logs.String(), "action execution failed") || !strings.Contains(logs.String(), "xdotool key -- Return") {
		t.Errorf("log output missing failure record: %s", logs.String())
	}
}

func TestDispatchScrollContinuesAfterFailure(t *testing.T) {
	tests := []struct {
		name   string
		failAt int
		cause  error
	}{
		{name: "move fails", failAt: 1, cause: errors.New("exit status 1")},
		{name: "tick fails", failAt: 3, cause: sandbox.ErrTimeout},
	}
	want := []string{"move 1 1", "click 5", "click 5", "click 5"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure := &sandbox.ExecutionFailedError{Command: sandbox.NewCommand("xdotool", "click", "5"), Cause: tt.cause}
			surface := &fakeSurface{err: failure, failAt: tt.failAt}
			result := NewDispatcher(surface).Dispatch(context.Background(), Scroll{X: 1, Y: 1, ScrollY: 3})
			if result.Outcome != OutcomeExecutionFailed || !errors.Is(result.Err, tt.cause) {
				t.Errorf("Dispatch() = %+v", result)
			}
			if strings.Join(surface.calls, "|") != strings.Join(want, "|") {
				t.Errorf("calls = %v, want %v", surface.calls, want)
			}
		})
	}
}

func TestDispatchSequenceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	surface := &cancellingSurface{cancel: cancel}
	result := NewDispatcher(surface).Dispatch(ctx, Keypress{Keys: []string{"a", "b", "c"}})
	if result.Outcome != OutcomeDispatchFailed || !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Dispatch() = %+v, want dispatch_failed with context.Canceled", result)
	}
	if len(surface.calls) != 1 {
		t.Errorf("calls = %v, want only the first key", surface.calls)
	}
}

type cancellingSurface struct {
	fakeSurface
	cancel context.CancelFunc
}

func (c *cancellingSurface) SendKey(ctx context.Context, key string) error {
	c.cancel()
	return c.record("key " + key)
}

func TestDispatchUnrecognized(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text", Output: &logs})
	surface := &fakeSurface{}

	action := Parse([]byte(`{"type":"drag","path":[{"x":1,"y":2}]}`))
	result := NewDispatcher(surface, WithLogger(logger)).Dispatch(context.Background(), action)

	if result.Outcome != OutcomeUnrecognized || !errors.Is(result.Err, ErrUnrecognizedAction) {
		t.Fatalf("Dispatch() = %+v, want unrecognized", result)
	}
	if len(surface.calls) != 0 {
		t.Errorf("unrecognized action touched the surface: %v", surface.calls)
	}
	if !strings.Contains(logs.String(), "unrecognized action") || !strings.Contains(logs.String(), "drag") {
		t.Errorf("log output = %s", logs.String())
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	result := NewDispatcher(&fakeSurface{panic: true}).Dispatch(context.Background(), TypeText{Text: "x"})
	if result.Outcome != OutcomeDispatchFailed {
		t.Fatalf("Outcome = %q, want dispatch_failed", result.Outcome)
	}
	if !strings.Contains(result.Err.Error(), "surface exploded") {
		t.Errorf("Err = %v", result.Err)
	}
}

func TestDispatchNilAction(t *testing.T) {
	result := NewDispatcher(&fakeSurface{}).Dispatch(context.Background(), nil)
	if result.Outcome != OutcomeUnrecognized {
		t.Errorf("Outcome = %q, want unrecognized", result.Outcome)
	}
}

func TestDispatchOtherErrors(t *testing.T) {
	surface := &fakeSurface{err: errors.New("pointer grabbed"), failAt: 1}
	result := NewDispatcher(surface).Dispatch(context.Background(), Click{X: 1, Y: 1})
	if result.Outcome != OutcomeDispatchFailed {
		t.Errorf("Outcome = %q, want dispatch_failed", result.Outcome)
	}
}

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	d := NewDispatcher(&fakeSurface{}, WithMetrics(metrics), WithTracer(observability.NopTracer()))

	d.Dispatch(context.Background(), Click{X: 1, Y: 1})
	d.Dispatch(context.Background(), Click{X: 2, Y: 2})
	d.Dispatch(context.Background(), Unrecognized{Type: "drag"})

	if got := testutil.ToFloat64(metrics.ActionCounter.WithLabelValues("click", "success")); got != 2 {
		t.Errorf("click success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ActionCounter.WithLabelValues("unrecognized", "unrecognized")); got != 1 {
		t.Errorf("unrecognized = %v, want 1", got)
	}
}
