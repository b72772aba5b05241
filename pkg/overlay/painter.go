package overlay

import (
	"fmt"
	"image/color"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/geometry"
)

// Style controls how boxes and their labels look
type Style struct {
	LineWidth  float64    `json:"lineWidth"`  // Box outline width, in CSS pixels
	BoxColor   color.RGBA `json:"boxColor"`   // Outline and label chip
	TextColor  color.RGBA `json:"textColor"`  // Label text
	PadX       float64    `json:"padX"`       // Horizontal padding inside the label chip
	PadY       float64    `json:"padY"`       // Vertical padding inside the label chip
	TextHeight float64    `json:"textHeight"` // Height reserved for the label text
}

func DefaultStyle() Style {
	return Style{
		LineWidth:  3,
		BoxColor:   color.RGBA{40, 120, 255, 255},
		TextColor:  color.RGBA{255, 255, 255, 255},
		PadX:       6,
		PadY:       4,
		TextHeight: 16,
	}
}

// Painter draws the boxes of a single detection frame
type Painter struct {
	Style     Style
	log       logs.Log
	lastErrAt time.Time
	nErrors   int64
}

func NewPainter(log logs.Log, style Style) *Painter {
	return &Painter{
		Style: style,
		log:   log,
	}
}

type PaintResult struct {
	Drawn  int // Number of boxes drawn
	Failed int // Number of boxes that could not be drawn
}

// Paint draws every box of 'frame' onto 'c'.
// A bad box is logged and skipped, but never stops the remaining boxes from being drawn.
func (p *Painter) Paint(c Canvas, frame *detections.Frame, scale geometry.Scale) PaintResult {
	res := PaintResult{}
	for i := range frame.Boxes {
		if err := p.paintBox(c, &frame.Boxes[i], scale); err != nil {
			res.Failed++
			p.nErrors++
			if time.Since(p.lastErrAt) > 5*time.Second {
				p.log.Warnf("Failed to draw box %v of frame %v: %v (%v failures so far)", i, frame.I, err, p.nErrors)
				p.lastErrAt = time.Now()
			}
		} else {
			res.Drawn++
		}
	}
	return res
}

// LabelChip returns the rectangle of the label that sits on top of 'box', given the width of the caption text
func (p *Painter) LabelChip(box geometry.Rect, textWidth float64) geometry.Rect {
	h := p.Style.TextHeight + p.Style.PadY*2
	return geometry.Rect{
		X:      box.X,
		Y:      box.Y - h,
		Width:  textWidth + p.Style.PadX*2,
		Height: h,
	}
}

func (p *Painter) paintBox(c Canvas, b *detections.Box, scale geometry.Scale) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	if err := b.Valid(); err != nil {
		return err
	}
	r := scale.Rect(b.XYXY)
	c.StrokeRect(r, p.Style.LineWidth, p.Style.BoxColor)

	caption := b.Caption()
	chip := p.LabelChip(r, c.MeasureText(caption))
	c.FillRect(chip, p.Style.BoxColor)
	c.FillText(caption, r.X+p.Style.PadX, r.Y-(p.Style.TextHeight+p.Style.PadY), p.Style.TextColor)
	return nil
}
