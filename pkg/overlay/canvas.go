package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/icevision/overlay/pkg/geometry"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Canvas is the drawing surface that sits on top of the video.
// All coordinates are in CSS pixels. The canvas takes care of the device pixel ratio.
type Canvas interface {
	// Resize the canvas to match a new surface. This discards the contents.
	Resize(s geometry.Surface)
	// Clear erases everything to transparent
	Clear()
	StrokeRect(r geometry.Rect, lineWidth float64, c color.Color)
	FillRect(r geometry.Rect, c color.Color)
	// FillText draws text with its top-left corner at (x,y)
	FillText(text string, x, y float64, c color.Color)
	// MeasureText returns the advance width of text, in CSS pixels
	MeasureText(text string) float64
}

// DefaultFontSize is the label font size, in CSS pixels
const DefaultFontSize = 14

// DefaultFace returns Go Regular at 'size' CSS pixels
func DefaultFace(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

// LoadFace loads a TrueType font from disk
func LoadFace(filename string, size float64) (font.Face, error) {
	face, err := gg.LoadFontFace(filename, size)
	if err != nil {
		return nil, fmt.Errorf("Failed to load font %v: %w", filename, err)
	}
	return face, nil
}

// GGCanvas is a raster Canvas backed by fogleman/gg.
// The backing image is Surface.BackingWidth x Surface.BackingHeight pixels, and
// every drawing command is scaled by the pixel ratio, so lines and text stay
// crisp on high density displays.
type GGCanvas struct {
	face    font.Face
	ascent  float64
	surface geometry.Surface
	dc      *gg.Context
}

// NewGGCanvas creates an empty (1x1) canvas. Call Resize before drawing.
func NewGGCanvas(face font.Face) *GGCanvas {
	c := &GGCanvas{
		face:   face,
		ascent: float64(face.Metrics().Ascent) / 64,
	}
	c.Resize(geometry.Surface{PixelRatio: 1})
	return c
}

func (c *GGCanvas) Resize(s geometry.Surface) {
	c.surface = s
	// gg can't create a 0x0 image, so an empty surface is backed by a single pixel
	w, h := max(1, s.BackingWidth), max(1, s.BackingHeight)
	c.dc = gg.NewContext(w, h)
	c.dc.SetFontFace(c.face)
	c.dc.Scale(s.PixelRatio, s.PixelRatio)
}

func (c *GGCanvas) Surface() geometry.Surface {
	return c.surface
}

func (c *GGCanvas) Clear() {
	c.dc.SetColor(color.Transparent)
	c.dc.Clear()
}

func (c *GGCanvas) StrokeRect(r geometry.Rect, lineWidth float64, col color.Color) {
	// gg transforms the path, but not the line width
	c.dc.SetLineWidth(lineWidth * c.surface.PixelRatio)
	c.dc.SetColor(col)
	c.dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
	c.dc.Stroke()
}

func (c *GGCanvas) FillRect(r geometry.Rect, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
	c.dc.Fill()
}

func (c *GGCanvas) FillText(text string, x, y float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawString(text, x, y+c.ascent)
}

func (c *GGCanvas) MeasureText(text string) float64 {
	w, _ := c.dc.MeasureString(text)
	return w
}

// Image returns the backing image. It is only valid until the next draw call.
func (c *GGCanvas) Image() image.Image {
	return c.dc.Image()
}

func (c *GGCanvas) EncodePNG(w io.Writer) error {
	return c.dc.EncodePNG(w)
}

// PNG returns the current contents of the canvas as a PNG file
func (c *GGCanvas) PNG() ([]byte, error) {
	buf := bytes.Buffer{}
	if err := c.dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
