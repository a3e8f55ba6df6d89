// Package display exposes the narrow set of desktop primitives the action
// dispatcher needs (screenshot, pointer, keyboard) on top of a sandbox
// executor, using xdotool for input and ImageMagick for capture.
package display

import (
	"context"
	"fmt"
	"strconv"

	"github.com/haasonsaas/deskrelay/internal/observability"
	"github.com/haasonsaas/deskrelay/internal/sandbox"
)

// Button is an X11 pointer button index.
type Button int

const (
	ButtonLeft       Button = 1
	ButtonMiddle     Button = 2
	ButtonRight      Button = 3
	ButtonScrollUp   Button = 4
	ButtonScrollDown Button = 5
)

// DefaultScreenshotCommand captures the root window as PNG on stdout.
const DefaultScreenshotCommand = "import -window root png:-"

// Surface issues input and capture commands against one desktop.
type Surface struct {
	executor   sandbox.Executor
	handle     sandbox.Handle
	xdotool    string
	screenshot sandbox.Command
	geometry   *Geometry
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Surface.
type Option func(*Surface)

// WithScreenshotCommand replaces the capture command. It must write PNG bytes to stdout.
func WithScreenshotCommand(cmd sandbox.Command) Option {
	return func(s *Surface) { s.screenshot = cmd }
}

// WithXdotool overrides the xdotool program name.
func WithXdotool(program string) Option {
	return func(s *Surface) { s.xdotool = program }
}

// WithGeometry enables scaling between the agent's logical display and the
// physical screen.
func WithGeometry(g *Geometry) Option {
	return func(s *Surface) { s.geometry = g }
}

// WithLogger sets the logger for command output.
func WithLogger(l *observability.Logger) Option {
	return func(s *Surface) { s.logger = l }
}

// WithMetrics records screenshot sizes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Surface) { s.metrics = m }
}

// New creates a Surface bound to handle.
func New(executor sandbox.Executor, handle sandbox.Handle, opts ...Option) *Surface {
	s := &Surface{
		executor:   executor,
		handle:     handle,
		xdotool:    "xdotool",
		screenshot: sandbox.NewCommand("import", "-window", "root", "png:-"),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the desktop this surface drives.
func (s *Surface) Handle() sandbox.Handle {
	return s.handle
}

// Screenshot captures the screen and returns PNG bytes. Output is passed
// through undecoded; when a Geometry is set the image is scaled to the
// logical display size.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}
	if s.geometry != nil {
		img, err = s.geometry.Fit(img)
		if err != nil {
			return nil, fmt.Errorf("scale screenshot: %w", err)
		}
	}
	s.metrics.ScreenshotCaptured(len(img))
	return img, nil
}

// MoveAndClick moves the pointer to (x, y) and clicks button in one command.
func (s *Surface) MoveAndClick(ctx context.Context, x, y int, button Button) error {
	x, y, err := s.toPhysical(ctx, x, y)
	if err != nil {
		return err
	}
	return s.xdo(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y), "click", strconv.Itoa(int(button)))
}

// MoveTo moves the pointer to (x, y).
func (s *Surface) MoveTo(ctx context.Context, x, y int) error {
	x, y, err := s.toPhysical(ctx, x, y)
	if err != nil {
		return err
	}
	return s.xdo(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y))
}

// ClickButton clicks button at the current pointer position.
func (s *Surface) ClickButton(ctx context.Context, button Button) error {
	return s.xdo(ctx, "click", strconv.Itoa(int(button)))
}

// SendKey presses and releases one key symbol (e.g. "Return", "ctrl+c").
func (s *Surface) SendKey(ctx context.Context, key string) error {
	return s.xdo(ctx, "key", "--", key)
}

// TypeText types text as keystrokes. The text is passed as a single
// argument and never reaches a shell.
func (s *Surface) TypeText(ctx context.Context, text string) error {
	return s.xdo(ctx, "type", "--", text)
}

func (s *Surface) xdo(ctx context.Context, args ...string) error {
	cmd := sandbox.NewCommand(s.xdotool, args...)
	out, err := sandbox.RunText(ctx, s.executor, s.handle, cmd)
	if err != nil {
		return err
	}
	if out != "" {
		s.logger.Debug(ctx, "xdotool output", "command", cmd.String(), "output", out)
	}
	return nil
}

func (s *Surface) capture(ctx context.Context) ([]byte, error) {
	img, err := s.executor.Run(ctx, s.handle, s.screenshot)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, &sandbox.ExecutionFailedError{Command: s.screenshot, Cause: ErrEmptyScreenshot}
	}
	return img, nil
}

// toPhysical maps agent coordinates onto the screen. Without a prior capture
// the screen is measured first so the opening action of a session is scaled
// like every later one.
func (s *Surface) toPhysical(ctx context.Context, x, y int) (int, int, error) {
	if s.geometry == nil {
		return x, y, nil
	}
	if _, _, ok := s.geometry.Physical(); !ok {
		img, err := s.capture(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("measure screen: %w", err)
		}
		if err := s.geometry.Observe(img); err != nil {
			return 0, 0, fmt.Errorf("measure screen: %w", err)
		}
		s.logger.Debug(ctx, "measured screen before first pointer action")
	}
	px, py := s.geometry.ToPhysical(x, y)
	return px, py, nil
}
