package display

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"golang.org/x/image/draw"
)

// ErrEmptyScreenshot is the cause reported when capture writes nothing.
var ErrEmptyScreenshot = errors.New("screenshot command produced no output")

// Geometry maps between the logical display size declared to the agent and
// the physical size of the captured screen. The physical size is learned
// from each screenshot; a Surface measures the screen before its first
// pointer command if nothing has been captured yet.
type Geometry struct {
	mu       sync.Mutex
	logical  image.Point
	physical image.Point
}

// NewGeometry returns a Geometry for a logical display of width x height.
func NewGeometry(width, height int) *Geometry {
	return &Geometry{logical: image.Pt(width, height)}
}

// Physical returns the last observed screen size and whether one was seen.
func (g *Geometry) Physical() (int, int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.physical.X, g.physical.Y, g.physical != image.Point{}
}

// Observe records the physical size of a PNG screenshot.
func (g *Geometry) Observe(data []byte) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode screenshot header: %w", err)
	}
	g.mu.Lock()
	g.physical = image.Pt(cfg.Width, cfg.Height)
	g.mu.Unlock()
	return nil
}

// Fit records the physical size of a PNG screenshot and, when it differs
// from the logical size, returns the image rescaled to the logical size.
func (g *Geometry) Fit(data []byte) ([]byte, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot header: %w", err)
	}

	g.mu.Lock()
	g.physical = image.Pt(cfg.Width, cfg.Height)
	logical := g.logical
	g.mu.Unlock()

	if logical.X <= 0 || logical.Y <= 0 || (cfg.Width == logical.X && cfg.Height == logical.Y) {
		return data, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, logical.X, logical.Y))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ToPhysical converts logical coordinates to screen coordinates.
func (g *Geometry) ToPhysical(x, y int) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.physical == (image.Point{}) || g.logical.X <= 0 || g.logical.Y <= 0 || g.physical == g.logical {
		return x, y
	}
	return x * g.physical.X / g.logical.X, y * g.physical.Y / g.logical.Y
}

// BlankPNG returns an opaque black PNG of the given size.
func BlankPNG(width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	// Encoding an in-memory Gray image cannot fail.
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
