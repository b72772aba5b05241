package overlay

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/geometry"
)

var ErrNoDetections = errors.New("No detections to display")
var ErrLoopClosed = errors.New("Overlay loop is closed")

// Element is the media element that the overlay is synchronized to
type Element interface {
	// Playback position, in seconds
	CurrentTime() float64
	// Post-layout box of the element, and the device pixel ratio
	Layout() geometry.Layout
}

// If an Element also implements Visible(), then nothing is drawn while it returns false
type visibleElement interface {
	Visible() bool
}

// SkipReason explains why a tick drew nothing
type SkipReason int

const (
	SkipNone        SkipReason = iota
	SkipHidden                 // Element is not visible
	SkipNoLayout               // Element has not been laid out, or has zero size
	SkipNoFrameSize            // Detection frame has no intrinsic dimensions
)

func (s SkipReason) String() string {
	switch s {
	case SkipNone:
		return "none"
	case SkipHidden:
		return "hidden"
	case SkipNoLayout:
		return "no_layout"
	case SkipNoFrameSize:
		return "no_frame_size"
	}
	return "unknown"
}

// FrameInfo describes the outcome of a single tick
type FrameInfo struct {
	Tick     uint64             // Starts at 1, and increments on every tick
	Time     float64            // Media time that was sampled
	Target   int                // Frame number that corresponds to Time
	Frame    *detections.Frame  // Detection frame that was drawn (nil if hidden). Do not modify.
	Scale    geometry.Scale     // Scale from detection frame to CSS pixels
	Geometry *geometry.Snapshot // Geometry that the tick was drawn with
	Skip     SkipReason         // If not SkipNone, then nothing was drawn
	Objects  int                // Number of boxes drawn
	Failed   int                // Number of boxes that failed to draw
	Elapsed  time.Duration      // Time spent on this tick
}

type LoopOptions struct {
	Style   Style
	Metrics *Metrics          // May be nil
	Tracker *geometry.Tracker // If nil, the loop creates its own tracker
	// OnFrame is called on the loop goroutine after every tick.
	// This is the only place where it is safe to read the canvas.
	// OnFrame must not call Stop.
	OnFrame func(info *FrameInfo)
}

// Loop redraws the detection overlay on every display refresh.
// A loop is bound to a single detection index and a single element.
// When either of those changes, the loop must be stopped, and a new loop created.
type Loop struct {
	log     logs.Log
	index   *detections.Index
	element Element
	canvas  Canvas
	refresh RefreshSource
	tracker *geometry.Tracker
	painter *Painter
	options LoopOptions

	// Start/Stop state
	lock          sync.Mutex
	running       bool
	closed        bool
	mustStop      chan struct{}
	looperStopped chan struct{} // Closed when the looper goroutine exits

	// Only touched by the looper goroutine
	ticks      uint64
	surfaceGen uint64
}

func NewLoop(log logs.Log, index *detections.Index, element Element, canvas Canvas, refresh RefreshSource, options LoopOptions) *Loop {
	tracker := options.Tracker
	if tracker == nil {
		tracker = geometry.NewTracker()
	}
	return &Loop{
		log:        log,
		index:      index,
		element:    element,
		canvas:     canvas,
		refresh:    refresh,
		tracker:    tracker,
		painter:    NewPainter(log, options.Style),
		options:    options,
		surfaceGen: math.MaxUint64,
	}
}

func (l *Loop) Tracker() *geometry.Tracker {
	return l.tracker
}

func (l *Loop) Index() *detections.Index {
	return l.index
}

func (l *Loop) IsRunning() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.running
}

// Start the loop. Calling Start on a running loop does nothing.
// Returns ErrNoDetections if there is nothing to draw, in which case the loop is not started.
// Returns ErrLoopClosed after Close.
func (l *Loop) Start() error {
	if l.index == nil || l.index.Len() == 0 {
		return ErrNoDetections
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	if l.running {
		return nil
	}
	frames, unsubscribe := l.refresh.Subscribe()
	l.running = true
	l.mustStop = make(chan struct{})
	l.looperStopped = make(chan struct{})
	go l.loop(frames, unsubscribe, l.mustStop, l.looperStopped)
	return nil
}

// Stop the loop, and wait for the current tick to finish.
// It is safe to call Stop on a loop that is not running.
func (l *Loop) Stop() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stopLocked()
}

// Close stops the loop for good. Any later Start fails with ErrLoopClosed.
func (l *Loop) Close() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed = true
	l.stopLocked()
}

func (l *Loop) stopLocked() {
	if !l.running {
		return
	}
	close(l.mustStop)
	<-l.looperStopped
	l.running = false
}

func (l *Loop) loop(frames <-chan time.Time, unsubscribe func(), mustStop, looperStopped chan struct{}) {
	defer close(looperStopped)
	defer unsubscribe()

	for {
		select {
		case <-mustStop:
			return
		case _, ok := <-frames:
			if !ok {
				return
			}
			// If a refresh and a stop arrive together, the stop wins
			select {
			case <-mustStop:
				return
			default:
			}
			info := l.tick()
			l.options.Metrics.observe(info)
			if l.options.OnFrame != nil {
				l.options.OnFrame(info)
			}
		}
	}
}

func (l *Loop) tick() *FrameInfo {
	start := time.Now()
	l.ticks++
	info := &FrameInfo{
		Tick:  l.ticks,
		Scale: geometry.IdentityScale,
	}
	defer func() {
		info.Elapsed = time.Since(start)
	}()

	if v, ok := l.element.(visibleElement); ok && !v.Visible() {
		info.Skip = SkipHidden
		info.Geometry = l.tracker.Current()
		return info
	}

	snap := l.tracker.Sync(l.element.Layout())
	info.Geometry = snap
	if snap.Generation != l.surfaceGen {
		l.canvas.Resize(snap.Surface)
		l.surfaceGen = snap.Generation
	}
	l.canvas.Clear()

	info.Time = l.element.CurrentTime()
	info.Frame, info.Target = l.index.Resolve(info.Time)
	if info.Frame == nil {
		// Unreachable while the index is non-empty
		info.Skip = SkipNoFrameSize
		return info
	}

	scale, ok := snap.ScaleFor(info.Frame.ImgW, info.Frame.ImgH)
	if !ok {
		if snap.Layout.Box.IsEmpty() {
			info.Skip = SkipNoLayout
		} else {
			info.Skip = SkipNoFrameSize
		}
		return info
	}
	info.Scale = scale

	res := l.painter.Paint(l.canvas, info.Frame, scale)
	info.Objects = res.Drawn
	info.Failed = res.Failed
	return info
}
