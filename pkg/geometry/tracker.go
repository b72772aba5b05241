package geometry

import (
	"sync"
	"sync/atomic"
)

// Trigger is the reason for recomputing the geometry
type Trigger int

const (
	TriggerNone     Trigger = iota // Initial state, before anything has been observed
	TriggerMetadata                // Video metadata loaded, so intrinsic size and layout box are known
	TriggerResize                  // Viewport or container resized
	TriggerLayout                  // Rendered box changed for any other reason (eg visibility)
)

func (t Trigger) String() string {
	switch t {
	case TriggerNone:
		return "none"
	case TriggerMetadata:
		return "metadata"
	case TriggerResize:
		return "resize"
	case TriggerLayout:
		return "layout"
	}
	return "unknown"
}

// Snapshot is the complete derived geometry for one layout.
// Snapshots are immutable. Every change produces a brand new snapshot, so
// nothing from an earlier video or window size can survive a recompute.
type Snapshot struct {
	Layout     Layout  `json:"layout"`
	Surface    Surface `json:"surface"`
	Trigger    Trigger `json:"trigger"`
	Generation uint64  `json:"generation"` // Incremented on every recompute
}

// ScaleFor returns the scale from a frame of imgW x imgH to this snapshot's rendered box
func (s *Snapshot) ScaleFor(imgW, imgH int) (Scale, bool) {
	return ScaleFor(s.Layout.Box, imgW, imgH)
}

// Tracker holds the current geometry of the overlay.
// Writers (event handlers and the render loop) are serialized, and readers
// get a consistent snapshot without locking.
type Tracker struct {
	writeLock sync.Mutex
	current   atomic.Pointer[Snapshot]
}

func NewTracker() *Tracker {
	t := &Tracker{}
	t.current.Store(&Snapshot{
		Surface: NewSurface(Layout{}),
	})
	return t
}

// Observe recomputes the geometry from scratch.
func (t *Tracker) Observe(trigger Trigger, layout Layout) *Snapshot {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	return t.recomputeNoLock(trigger, layout)
}

// Sync recomputes the geometry only if 'layout' differs from the current layout.
// The render loop calls this on every tick, which means that we don't depend
// on seeing every resize event.
func (t *Tracker) Sync(layout Layout) *Snapshot {
	if cur := t.current.Load(); cur.Layout.Equal(layout) {
		return cur
	}
	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	if cur := t.current.Load(); cur.Layout.Equal(layout) {
		return cur
	}
	return t.recomputeNoLock(TriggerLayout, layout)
}

// Current returns the most recent snapshot
func (t *Tracker) Current() *Snapshot {
	return t.current.Load()
}

func (t *Tracker) recomputeNoLock(trigger Trigger, layout Layout) *Snapshot {
	prev := t.current.Load()
	next := &Snapshot{
		Layout:     layout,
		Surface:    NewSurface(layout),
		Trigger:    trigger,
		Generation: prev.Generation + 1,
	}
	t.current.Store(next)
	return next
}
