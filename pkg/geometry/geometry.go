// Package geometry maps detection coordinates (the pixel space of the image
// that the model saw) onto the on-screen overlay surface.
package geometry

import "math"

// Size is a width/height pair, in CSS pixels unless otherwise noted
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty is true if either dimension is zero, negative, or not a number.
// An element that has not been laid out yet (or is hidden) has an empty size.
func (s Size) IsEmpty() bool {
	return !(s.Width > 0 && s.Height > 0) || math.IsInf(s.Width, 0) || math.IsInf(s.Height, 0)
}

// Layout is the rendered box of the video element, after layout
type Layout struct {
	Box        Size    `json:"box"`        // CSS size of the element on screen
	PixelRatio float64 `json:"pixelRatio"` // Device pixels per CSS pixel
}

func (l Layout) Equal(b Layout) bool {
	return l.Box == b.Box && l.normalizedRatio() == b.normalizedRatio()
}

func (l Layout) normalizedRatio() float64 {
	if l.PixelRatio > 0 && !math.IsInf(l.PixelRatio, 0) {
		return l.PixelRatio
	}
	return 1
}

// Surface describes how the overlay canvas must be sized to sit exactly on
// top of the video, with a backing store that matches the display density.
// Drawing commands are issued in CSS pixels, and the canvas scales them by
// PixelRatio.
type Surface struct {
	CSSWidth      float64 `json:"cssWidth"`
	CSSHeight     float64 `json:"cssHeight"`
	BackingWidth  int     `json:"backingWidth"`
	BackingHeight int     `json:"backingHeight"`
	PixelRatio    float64 `json:"pixelRatio"`
}

// NewSurface computes the canvas surface for a layout.
// A zero, negative or non-finite pixel ratio is treated as 1.
func NewSurface(l Layout) Surface {
	dpr := l.normalizedRatio()
	w, h := l.Box.Width, l.Box.Height
	if l.Box.IsEmpty() {
		w, h = 0, 0
	}
	return Surface{
		CSSWidth:      w,
		CSSHeight:     h,
		BackingWidth:  int(math.Round(w * dpr)),
		BackingHeight: int(math.Round(h * dpr)),
		PixelRatio:    dpr,
	}
}

func (s Surface) IsEmpty() bool {
	return s.BackingWidth <= 0 || s.BackingHeight <= 0
}

// Scale maps the intrinsic pixel space of a detection frame to CSS pixels.
// There is no rotation or skew, and X and Y are independent.
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

var IdentityScale = Scale{X: 1, Y: 1}

// ScaleFor computes the scale from an image of imgW x imgH to the rendered box.
// If the box is empty (not laid out yet), or the image has no area, then we
// return the identity scale and false, and the caller must skip drawing.
func ScaleFor(box Size, imgW, imgH int) (Scale, bool) {
	if box.IsEmpty() || imgW <= 0 || imgH <= 0 {
		return IdentityScale, false
	}
	return Scale{
		X: box.Width / float64(imgW),
		Y: box.Height / float64(imgH),
	}, true
}

// Rect maps a box given as [X1,Y1,X2,Y2] into a rectangle in display space
func (s Scale) Rect(xyxy [4]float64) Rect {
	return Rect{
		X:      xyxy[0] * s.X,
		Y:      xyxy[1] * s.Y,
		Width:  (xyxy[2] - xyxy[0]) * s.X,
		Height: (xyxy[3] - xyxy[1]) * s.Y,
	}
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
