package overlay

import (
	"bytes"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/geometry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type drawOp struct {
	kind string // stroke, fill, text
	rect geometry.Rect
	text string
	x, y float64
}

// recordingCanvas remembers everything drawn since the last Clear
type recordingCanvas struct {
	surface geometry.Surface
	resizes int
	clears  int
	ops     []drawOp
	panicOn string // FillText panics when asked to draw this text
}

func (c *recordingCanvas) Resize(s geometry.Surface) {
	c.surface = s
	c.resizes++
	c.ops = nil
}

func (c *recordingCanvas) Clear() {
	c.clears++
	c.ops = nil
}

func (c *recordingCanvas) StrokeRect(r geometry.Rect, lineWidth float64, col color.Color) {
	c.ops = append(c.ops, drawOp{kind: "stroke", rect: r})
}

func (c *recordingCanvas) FillRect(r geometry.Rect, col color.Color) {
	c.ops = append(c.ops, drawOp{kind: "fill", rect: r})
}

func (c *recordingCanvas) FillText(text string, x, y float64, col color.Color) {
	if text == c.panicOn {
		panic("glyph cache exploded")
	}
	c.ops = append(c.ops, drawOp{kind: "text", text: text, x: x, y: y})
}

func (c *recordingCanvas) MeasureText(text string) float64 {
	return float64(len(text)) * 7
}

func (c *recordingCanvas) texts() []string {
	r := []string{}
	for _, op := range c.ops {
		if op.kind == "text" {
			r = append(r, op.text)
		}
	}
	return r
}

type fakeElement struct {
	lock    sync.Mutex
	time    float64
	layout  geometry.Layout
	visible bool
}

func (e *fakeElement) CurrentTime() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

func (e *fakeElement) Layout() geometry.Layout {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.layout
}

func (e *fakeElement) Visible() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.visible
}

func (e *fakeElement) set(time float64, layout geometry.Layout) {
	e.lock.Lock()
	e.time = time
	e.layout = layout
	e.lock.Unlock()
}

func (e *fakeElement) setVisible(v bool) {
	e.lock.Lock()
	e.visible = v
	e.lock.Unlock()
}

type harness struct {
	loop    *Loop
	refresh *ManualRefresh
	canvas  *recordingCanvas
	element *fakeElement
	infos   chan *FrameInfo
}

func newHarness(t *testing.T, set *detections.Set, metrics *Metrics) *harness {
	index, err := detections.NewIndex(set)
	require.NoError(t, err)
	h := &harness{
		refresh: NewManualRefresh(),
		canvas:  &recordingCanvas{},
		element: &fakeElement{visible: true},
		infos:   make(chan *FrameInfo, 100),
	}
	h.element.set(0, vga)
	h.loop = NewLoop(logs.NewTestingLog(t), index, h.element, h.canvas, h.refresh, LoopOptions{
		Style:   DefaultStyle(),
		Metrics: metrics,
		OnFrame: func(info *FrameInfo) {
			h.infos <- info
		},
	})
	require.NoError(t, h.loop.Start())
	t.Cleanup(h.loop.Stop)
	return h
}

func (h *harness) tick(t *testing.T) *FrameInfo {
	require.Equal(t, 1, h.refresh.Tick())
	select {
	case info := <-h.infos:
		return info
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for tick")
	}
	return nil
}

var vga = geometry.Layout{Box: geometry.Size{Width: 640, Height: 480}, PixelRatio: 1}

func box(label string, x1, y1, x2, y2 float64) detections.Box {
	return detections.Box{XYXY: [4]float64{x1, y1, x2, y2}, Conf: 0.874, Label: label}
}

func sampleSet() *detections.Set {
	return &detections.Set{
		FPS: 30,
		Frames: []detections.Frame{
			{I: 0, ImgW: 640, ImgH: 480, Boxes: []detections.Box{box("start", 0, 0, 10, 10)}},
			{I: 30, ImgW: 640, ImgH: 480, Boxes: []detections.Box{box("one", 10, 40, 110, 140)}},
			{I: 300, ImgW: 640, ImgH: 480, Boxes: []detections.Box{box("ten", 200, 200, 300, 300), box("ten", 400, 100, 500, 200)}},
		},
	}
}

func TestStartWithoutDetections(t *testing.T) {
	log := logs.NewTestingLog(t)
	el := &fakeElement{visible: true}

	loop := NewLoop(log, nil, el, &recordingCanvas{}, NewManualRefresh(), LoopOptions{})
	require.ErrorIs(t, loop.Start(), ErrNoDetections)
	require.False(t, loop.IsRunning())
	loop.Stop()

	empty, err := detections.NewIndex(&detections.Set{FPS: 30})
	require.NoError(t, err)
	refresh := NewManualRefresh()
	loop = NewLoop(log, empty, el, &recordingCanvas{}, refresh, LoopOptions{})
	require.ErrorIs(t, loop.Start(), ErrNoDetections)
	require.Equal(t, 0, refresh.Subscribers())
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	require.NoError(t, h.loop.Start())
	require.Equal(t, 1, h.refresh.Subscribers())
	require.True(t, h.loop.IsRunning())

	h.tick(t)
	h.loop.Stop()
	h.loop.Stop()
	require.False(t, h.loop.IsRunning())
	require.Equal(t, 0, h.refresh.Subscribers())
	require.Equal(t, 0, h.refresh.Tick())

	// Restart
	require.NoError(t, h.loop.Start())
	info := h.tick(t)
	require.EqualValues(t, 2, info.Tick)
}

func TestCloseIsFinal(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.tick(t)
	h.loop.Close()
	require.False(t, h.loop.IsRunning())
	require.Equal(t, 0, h.refresh.Subscribers())
	require.ErrorIs(t, h.loop.Start(), ErrLoopClosed)
	require.Equal(t, 0, h.refresh.Subscribers())
	h.loop.Close()
	h.loop.Stop()
}

// Seeking backwards must not leave any trace of the frame that was drawn before the seek
func TestSeekBackwardsLeavesNoResidue(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)

	h.element.set(10, vga)
	info := h.tick(t)
	require.Equal(t, 300, info.Target)
	require.Equal(t, 300, info.Frame.I)
	require.Equal(t, 2, info.Objects)
	require.Equal(t, []string{"ten 87%", "ten 87%"}, h.canvas.texts())

	h.element.set(1, vga)
	info = h.tick(t)
	require.Equal(t, 30, info.Target)
	require.Equal(t, 30, info.Frame.I)
	require.Equal(t, 1, info.Objects)
	require.Equal(t, []string{"one 87%"}, h.canvas.texts())
	require.Len(t, h.canvas.ops, 3)
	require.Equal(t, 2, h.canvas.clears)
}

func TestPausedRedrawsSameFrame(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.element.set(0.9, vga)
	a := h.tick(t)
	opsA := append([]drawOp{}, h.canvas.ops...)
	b := h.tick(t)
	require.Same(t, a.Frame, b.Frame)
	require.Equal(t, opsA, h.canvas.ops)
	require.Equal(t, 2, h.canvas.clears)
	require.EqualValues(t, 2, b.Tick)
}

func TestLabelChipGeometry(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.element.set(1, vga)
	h.tick(t)

	require.Equal(t, []drawOp{
		{kind: "stroke", rect: geometry.Rect{X: 10, Y: 40, Width: 100, Height: 100}},
		// "one 87%" is 7 characters, which is 49 pixels wide on the recording canvas
		{kind: "fill", rect: geometry.Rect{X: 10, Y: 16, Width: 49 + 12, Height: 24}},
		{kind: "text", text: "one 87%", x: 16, y: 20},
	}, h.canvas.ops)
}

func TestScaledToRenderedBox(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.element.set(1, geometry.Layout{Box: geometry.Size{Width: 320, Height: 240}, PixelRatio: 2})
	info := h.tick(t)
	require.Equal(t, geometry.Scale{X: 0.5, Y: 0.5}, info.Scale)
	require.Equal(t, geometry.Rect{X: 5, Y: 20, Width: 50, Height: 50}, h.canvas.ops[0].rect)
	require.Equal(t, 640, h.canvas.surface.BackingWidth)
	require.Equal(t, 480, h.canvas.surface.BackingHeight)
}

func TestCanvasResizedOnlyOnGeometryChange(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.tick(t)
	h.tick(t)
	require.Equal(t, 1, h.canvas.resizes)
	require.Equal(t, 640, h.canvas.surface.BackingWidth)

	h.element.set(0, geometry.Layout{Box: vga.Box, PixelRatio: 1.5})
	info := h.tick(t)
	require.Equal(t, 2, h.canvas.resizes)
	require.Equal(t, 960, h.canvas.surface.BackingWidth)
	require.Equal(t, 720, h.canvas.surface.BackingHeight)
	require.Equal(t, geometry.TriggerLayout, info.Geometry.Trigger)

	// A resize observed by an event handler is picked up by the next tick
	h.loop.Tracker().Observe(geometry.TriggerResize, vga)
	h.element.set(0, vga)
	h.tick(t)
	require.Equal(t, 3, h.canvas.resizes)
	require.Equal(t, 640, h.canvas.surface.BackingWidth)
}

func TestSkipWithoutLayout(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.element.set(1, geometry.Layout{})
	info := h.tick(t)
	require.Equal(t, SkipNoLayout, info.Skip)
	require.Empty(t, h.canvas.ops)
	require.Equal(t, 1, h.canvas.clears)

	// The loop keeps running, and draws as soon as there is a layout
	h.element.set(1, vga)
	info = h.tick(t)
	require.Equal(t, SkipNone, info.Skip)
	require.Equal(t, 1, info.Objects)
}

func TestSkipWithoutFrameSize(t *testing.T) {
	set := sampleSet()
	set.Frames[1].ImgW = 0
	h := newHarness(t, set, nil)
	h.element.set(1, vga)
	info := h.tick(t)
	require.Equal(t, SkipNoFrameSize, info.Skip)
	require.Empty(t, h.canvas.ops)

	h.element.set(0, vga)
	info = h.tick(t)
	require.Equal(t, SkipNone, info.Skip)
}

func TestSkipWhileHidden(t *testing.T) {
	h := newHarness(t, sampleSet(), nil)
	h.element.setVisible(false)
	info := h.tick(t)
	require.Equal(t, SkipHidden, info.Skip)
	require.Nil(t, info.Frame)
	require.Equal(t, 0, h.canvas.clears)

	h.element.setVisible(true)
	info = h.tick(t)
	require.Equal(t, SkipNone, info.Skip)
}

func TestBadBoxDoesNotStopOthers(t *testing.T) {
	set := &detections.Set{
		FPS: 30,
		Frames: []detections.Frame{
			{I: 0, ImgW: 640, ImgH: 480, Boxes: []detections.Box{
				box("a", 0, 0, 10, 10),
				box("inverted", 50, 50, 10, 10),
				box("boom", 0, 0, 10, 10),
				box("b", 20, 20, 30, 30),
			}},
		},
	}
	h := newHarness(t, set, nil)
	h.canvas.panicOn = "boom 87%"
	info := h.tick(t)
	require.Equal(t, 2, info.Objects)
	require.Equal(t, 2, info.Failed)
	require.Contains(t, h.canvas.texts(), "a 87%")
	require.Contains(t, h.canvas.texts(), "b 87%")
}

func TestMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, sampleSet(), metrics)
	h.element.set(10, vga)
	h.tick(t)
	h.element.set(10, geometry.Layout{})
	h.tick(t)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.Ticks))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ObjectsDrawn))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Skipped.WithLabelValues("no_layout")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.ObjectErrors))
}

func TestTickerRefresh(t *testing.T) {
	require.Equal(t, time.Second/60, NewTickerRefresh(0).Interval)
	require.Equal(t, 100*time.Millisecond, NewTickerRefresh(10).Interval)

	r := NewTickerRefresh(1000)
	ch, stop := r.Subscribe()
	defer stop()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("Ticker never fired")
	}
}

func TestGGCanvas(t *testing.T) {
	face, err := DefaultFace(DefaultFontSize)
	require.NoError(t, err)
	c := NewGGCanvas(face)
	c.Resize(geometry.NewSurface(geometry.Layout{Box: geometry.Size{Width: 320, Height: 240}, PixelRatio: 2}))
	c.Clear()

	p := NewPainter(logs.NewTestingLog(t), DefaultStyle())
	frame := &detections.Frame{I: 0, ImgW: 640, ImgH: 480, Boxes: []detections.Box{box("puck", 20, 80, 220, 280)}}
	res := p.Paint(c, frame, geometry.Scale{X: 0.5, Y: 0.5})
	require.Equal(t, 1, res.Drawn)
	require.Greater(t, c.MeasureText("puck 87%"), 20.0)

	raw, err := c.PNG()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 640, img.Bounds().Dx())
	require.Equal(t, 480, img.Bounds().Dy())

	// Box is at CSS (10,40)-(110,140), so the left edge is at backing x=20
	_, _, _, a := img.At(20, 180).RGBA()
	require.Equal(t, uint32(0xffff), a)
	_, _, _, a = img.At(600, 450).RGBA()
	require.Equal(t, uint32(0), a)

	c.Clear()
	_, _, _, a = c.Image().At(20, 180).RGBA()
	require.Equal(t, uint32(0), a)
}
