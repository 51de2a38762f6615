// Package content draws what the saver windows show once content display
// is enabled. The manager only ever paints black; everything else comes
// from a Renderer.
package content

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/tuxx/fancysaver/internal/clock"
)

// Renderer paints saver content onto a canvas that is already black.
type Renderer interface {
	Draw(canvas draw.Image)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(canvas draw.Image)

// Draw calls f(canvas).
func (f RendererFunc) Draw(canvas draw.Image) { f(canvas) }

var (
	parseOnce sync.Once
	parsed    *opentype.Font
	parseErr  error
)

func regularFont() (*opentype.Font, error) {
	parseOnce.Do(func() {
		parsed, parseErr = opentype.Parse(goregular.TTF)
		if parseErr != nil {
			parseErr = errors.Wrap(parseErr, "parse embedded font")
		}
	})
	return parsed, parseErr
}

// ClockFace shows the time of day with the date underneath, centered on
// the canvas.
type ClockFace struct {
	clock clock.Clock
	ttf   *opentype.Font

	mu    sync.Mutex
	faces map[float64]font.Face
}

// NewClockFace returns a ClockFace reading the time from c.
func NewClockFace(c clock.Clock) (*ClockFace, error) {
	ttf, err := regularFont()
	if err != nil {
		return nil, err
	}
	return &ClockFace{
		clock: c,
		ttf:   ttf,
		faces: make(map[float64]font.Face),
	}, nil
}

func (c *ClockFace) face(size float64) (font.Face, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if face, ok := c.faces[size]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(c.ttf, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "font face size %.0f", size)
	}
	c.faces[size] = face
	return face, nil
}

// Draw renders the clock. Text is sized relative to the canvas height so
// every monitor gets a proportional clock.
func (c *ClockFace) Draw(canvas draw.Image) {
	bounds := canvas.Bounds()
	height := bounds.Dy()
	if height <= 0 || bounds.Dx() <= 0 {
		return
	}

	now := c.clock.Now()
	timeSize := float64(height / 6)
	dateSize := float64(height / 24)
	if dateSize < 8 {
		dateSize = 8
	}
	if timeSize < dateSize {
		timeSize = dateSize
	}

	big, err := c.face(timeSize)
	if err != nil {
		return
	}
	small, err := c.face(dateSize)
	if err != nil {
		return
	}

	centerY := bounds.Min.Y + height/2
	drawCentered(canvas, big, now.Format("15:04"), centerY, color.White)
	drawCentered(canvas, small, now.Format("Monday, January 2"), centerY+int(dateSize*2), color.Gray{Y: 0xaa})
}

// Close frees the cached font faces.
func (c *ClockFace) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for size, face := range c.faces {
		face.Close()
		delete(c.faces, size)
	}
	return nil
}

func drawCentered(canvas draw.Image, face font.Face, text string, baseline int, col color.Color) {
	bounds := canvas.Bounds()
	x := bounds.Min.X + (bounds.Dx()-font.MeasureString(face, text).Round())/2

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}
