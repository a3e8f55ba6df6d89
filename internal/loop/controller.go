// Package loop drives a computer-use session: it executes the agent's
// requested action, captures the screen and submits it back until the agent
// stops asking for actions.
//
// State machine:
//
//	AwaitingAction --(turn has a computer call)--> dispatch, settle, capture, submit --> AwaitingAction
//	AwaitingAction --(no computer call)--> Terminal
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/deskrelay/internal/actions"
	"github.com/haasonsaas/deskrelay/internal/backoff"
	"github.com/haasonsaas/deskrelay/internal/display"
	"github.com/haasonsaas/deskrelay/internal/observability"
	"github.com/haasonsaas/deskrelay/internal/responses"
)

// ErrMaxIterations is returned when the iteration limit ends a session.
var ErrMaxIterations = errors.New("max iterations reached")

// State is the controller's position in a session.
type State int

const (
	StateAwaitingAction State = iota
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateAwaitingAction:
		return "awaiting_action"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Agent produces the next turn from the result of a computer call.
type Agent interface {
	Continue(ctx context.Context, req responses.ContinueRequest) (*responses.Turn, error)
}

// Dispatcher executes one action.
type Dispatcher interface {
	Dispatch(ctx context.Context, action actions.Action) actions.Result
}

// Screenshotter captures the screen as PNG bytes.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Config tunes a Controller.
type Config struct {
	// SettleDelay is the pause between an action and the screenshot.
	SettleDelay time.Duration
	// MaxIterations stops the session after this many actions. Zero means no limit.
	MaxIterations int
	// AcknowledgeSafetyChecks echoes pending safety checks back to the agent.
	AcknowledgeSafetyChecks bool
	// BlankWidth and BlankHeight size the placeholder sent when capture fails.
	BlankWidth  int
	BlankHeight int
}

// DefaultConfig returns a one second settle delay, no iteration limit and a
// 1024x768 placeholder.
func DefaultConfig() Config {
	return Config{
		SettleDelay: time.Second,
		BlankWidth:  1024,
		BlankHeight: 768,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = 0
	}
	if cfg.BlankWidth <= 0 || cfg.BlankHeight <= 0 {
		defaults := DefaultConfig()
		cfg.BlankWidth, cfg.BlankHeight = defaults.BlankWidth, defaults.BlankHeight
	}
	return cfg
}

// Option configures a Controller.
type Option func(*Controller)

// WithOutput sets where final model output is written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) {
		if w != nil {
			c.out = w
		}
	}
}

// WithSleep replaces the context-aware sleep used for the settle delay.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithSessionID sets the session identifier used in logs.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.sessionID = id
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics counts iterations.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer traces each iteration.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// Controller runs the action loop for one session. It is not safe for
// concurrent use; a session is strictly sequential.
type Controller struct {
	agent      Agent
	dispatcher Dispatcher
	screen     Screenshotter
	config     Config
	out        io.Writer
	sleep      func(context.Context, time.Duration) error
	sessionID  string
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewController creates a controller.
func NewController(agent Agent, dispatcher Dispatcher, screen Screenshotter, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		agent:      agent,
		dispatcher: dispatcher,
		screen:     screen,
		config:     sanitizeConfig(cfg),
		out:        os.Stdout,
		sleep:      backoff.Sleep,
		sessionID:  uuid.NewString(),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the identifier attached to this session's logs.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Iteration describes one pass through the loop.
type Iteration struct {
	State  State
	CallID string
	Action actions.Action
	Result actions.Result
	// Next is the turn to process next, or the final turn when State is Terminal.
	Next *responses.Turn
}

// Summary describes a finished session.
type Summary struct {
	SessionID  string
	Iterations int
	Outcomes   map[actions.Outcome]int
	Final      *responses.Turn
}

// Run processes turns starting from first until the agent stops requesting
// actions. Action failures never end the session; agent and context errors do.
func (c *Controller) Run(ctx context.Context, first *responses.Turn) (*Summary, error) {
	if first == nil {
		return nil, errors.New("initial turn is required")
	}
	ctx = observability.AddSessionID(ctx, c.sessionID)
	summary := &Summary{
		SessionID: c.sessionID,
		Outcomes:  make(map[actions.Outcome]int),
		Final:     first,
	}

	turn := first
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if c.config.MaxIterations > 0 && summary.Iterations >= c.config.MaxIterations {
			if _, ok := turn.FirstComputerCall(); ok {
				c.logger.Warn(ctx, "stopping session at iteration limit", "max_iterations", c.config.MaxIterations)
				return summary, ErrMaxIterations
			}
		}

		it, err := c.Step(observability.AddIteration(ctx, summary.Iterations+1), turn)
		if it.State == StateTerminal {
			summary.Final = it.Next
			c.logger.Info(ctx, "session finished", "iterations", summary.Iterations)
			return summary, nil
		}
		summary.Iterations++
		summary.Outcomes[it.Result.Outcome]++
		if err != nil {
			return summary, err
		}
		turn = it.Next
		summary.Final = turn
	}
}

// Step runs one transition from turn. A turn without a computer call is
// terminal: its output is written for the operator and nothing else runs.
// Otherwise exactly one action is dispatched, one screenshot captured and
// one result submitted under the action's call id.
func (c *Controller) Step(ctx context.Context, turn *responses.Turn) (Iteration, error) {
	call, ok := turn.FirstComputerCall()
	if !ok {
		c.reportFinal(turn)
		return Iteration{State: StateTerminal, Next: turn}, nil
	}

	ctx = observability.AddCallID(ctx, call.CallID)
	iteration, _ := ctx.Value(observability.IterationKey).(int)
	ctx, span := c.tracer.TraceIteration(ctx, iteration, call.CallID)
	defer span.End()

	action := actions.Parse(call.Action)
	it := Iteration{State: StateAwaitingAction, CallID: call.CallID, Action: action}
	it.Result = c.dispatcher.Dispatch(ctx, action)

	if err := c.sleep(ctx, c.config.SettleDelay); err != nil {
		observability.RecordError(span, err)
		return it, err
	}

	screenshot, err := c.screen.Screenshot(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return it, ctxErr
		}
		c.logger.Error(ctx, "screenshot failed, submitting blank image", "error", err)
		screenshot = display.BlankPNG(c.config.BlankWidth, c.config.BlankHeight)
	}

	req := responses.ContinueRequest{
		PreviousResponseID: turn.ID,
		CallID:             call.CallID,
		Screenshot:         screenshot,
	}
	if len(call.PendingSafetyChecks) > 0 {
		if c.config.AcknowledgeSafetyChecks {
			req.AcknowledgedSafetyChecks = call.PendingSafetyChecks
			for _, check := range call.PendingSafetyChecks {
				c.logger.Warn(ctx, "acknowledging safety check", "check_id", check.ID, "code", check.Code, "message", check.Message)
			}
		} else {
			c.logger.Warn(ctx, "pending safety checks not acknowledged", "count", len(call.PendingSafetyChecks))
		}
	}

	next, err := c.agent.Continue(ctx, req)
	c.metrics.IterationCompleted()
	if err != nil {
		observability.RecordError(span, err)
		return it, fmt.Errorf("submit result for %s: %w", call.CallID, err)
	}
	it.Next = next
	return it, nil
}

func (c *Controller) reportFinal(turn *responses.Turn) {
	fmt.Fprintln(c.out, "No computer call found. Model output:")
	if turn == nil {
		return
	}
	for _, item := range turn.Output {
		fmt.Fprintln(c.out, item.Text())
	}
}
