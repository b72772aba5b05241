// Package media models the host video element: a seekable playback clock,
// the intrinsic size of the video once its metadata is known, and the box
// that the element occupies on screen.
package media

import (
	"math"
	"sync"
	"time"

	"github.com/icevision/overlay/pkg/geometry"
)

// Event is something that the element announces to its listeners
type Event int

const (
	EventEmptied        Event = iota // Source changed, and nothing is loaded
	EventLoadedMetadata              // Intrinsic dimensions and duration are known
	EventResize                      // Rendered box or pixel ratio changed
	EventSeeked                      // Playback position jumped
	EventPlay                        // Playback started
	EventPause                       // Playback paused
	EventVisibility                  // Element became visible or hidden
)

func (e Event) String() string {
	switch e {
	case EventEmptied:
		return "emptied"
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventResize:
		return "resize"
	case EventSeeked:
		return "seeked"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventVisibility:
		return "visibilitychange"
	}
	return "unknown"
}

type listener struct {
	id int64
	fn func()
}

// Player is a stand-in for a video element.
// It does not decode anything. It only tracks where playback is, and how big
// the element is on screen.
// All methods are safe to call from multiple goroutines.
type Player struct {
	lock           sync.Mutex
	now            func() time.Time
	source         string
	meta           *Metadata
	paused         bool
	rate           float64
	position       float64   // Media time (seconds) at 'anchor'
	anchor         time.Time // Wall time at which 'position' was sampled
	layout         geometry.Layout
	visible        bool
	listeners      map[Event][]listener
	nextListenerID int64
}

func NewPlayer() *Player {
	return NewPlayerWithClock(time.Now)
}

// NewPlayerWithClock creates a player that reads wall time from 'now' (for tests and offline rendering)
func NewPlayerWithClock(now func() time.Time) *Player {
	return &Player{
		now:       now,
		paused:    true,
		rate:      1,
		visible:   true,
		listeners: map[Event][]listener{},
	}
}

// AddListener registers fn to be called whenever 'ev' fires.
// Listeners run on the goroutine that caused the event, after the player's lock is released.
// Returns a function that removes the listener.
func (p *Player) AddListener(ev Event, fn func()) (remove func()) {
	p.lock.Lock()
	p.nextListenerID++
	id := p.nextListenerID
	p.listeners[ev] = append(p.listeners[ev], listener{id: id, fn: fn})
	p.lock.Unlock()

	return func() {
		p.lock.Lock()
		defer p.lock.Unlock()
		list := p.listeners[ev]
		for i := range list {
			if list[i].id == id {
				p.listeners[ev] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// SetSource changes the video. Anything we knew about the previous video is forgotten.
func (p *Player) SetSource(src string) {
	p.lock.Lock()
	p.source = src
	p.meta = nil
	p.paused = true
	p.position = 0
	p.anchor = p.now()
	p.lock.Unlock()
	p.emit(EventEmptied)
}

// Load announces the metadata of the current source.
func (p *Player) Load(meta Metadata) {
	p.lock.Lock()
	m := meta
	p.meta = &m
	p.lock.Unlock()
	p.emit(EventLoadedMetadata)
}

func (p *Player) Source() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.source
}

// Metadata returns nil until Load has been called for the current source
func (p *Player) Metadata() *Metadata {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.meta == nil {
		return nil
	}
	m := *p.meta
	return &m
}

// NaturalSize returns the intrinsic video dimensions, or (0,0) before metadata is loaded
func (p *Player) NaturalSize() (width, height int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.meta == nil {
		return 0, 0
	}
	return p.meta.Width, p.meta.Height
}

func (p *Player) Play() {
	p.lock.Lock()
	if !p.paused {
		p.lock.Unlock()
		return
	}
	p.anchor = p.now()
	p.paused = false
	p.lock.Unlock()
	p.emit(EventPlay)
}

func (p *Player) Pause() {
	p.lock.Lock()
	if p.paused {
		p.lock.Unlock()
		return
	}
	p.position = p.currentTimeNoLock()
	p.anchor = p.now()
	p.paused = true
	p.lock.Unlock()
	p.emit(EventPause)
}

func (p *Player) Paused() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.paused
}

// Seek jumps to 'seconds'. The position is clamped to the duration of the video, if known.
func (p *Player) Seek(seconds float64) {
	p.lock.Lock()
	p.position = p.clampNoLock(seconds)
	p.anchor = p.now()
	p.lock.Unlock()
	p.emit(EventSeeked)
}

// SetRate changes the playback speed (1 = normal). Rates <= 0 are ignored.
func (p *Player) SetRate(rate float64) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.position = p.currentTimeNoLock()
	p.anchor = p.now()
	p.rate = rate
}

func (p *Player) Rate() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.rate
}

// CurrentTime is the playback position in seconds
func (p *Player) CurrentTime() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.currentTimeNoLock()
}

// Ended is true if playback has reached the end of a video with known duration
func (p *Player) Ended() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.meta != nil && p.meta.Duration > 0 && p.currentTimeNoLock() >= p.meta.Duration
}

// SetLayout records the box that the element occupies on screen
func (p *Player) SetLayout(layout geometry.Layout) {
	p.lock.Lock()
	changed := !p.layout.Equal(layout)
	p.layout = layout
	p.lock.Unlock()
	if changed {
		p.emit(EventResize)
	}
}

func (p *Player) Layout() geometry.Layout {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.layout
}

func (p *Player) SetVisible(visible bool) {
	p.lock.Lock()
	changed := p.visible != visible
	p.visible = visible
	p.lock.Unlock()
	if changed {
		p.emit(EventVisibility)
	}
}

func (p *Player) Visible() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.visible
}

func (p *Player) currentTimeNoLock() float64 {
	if p.paused {
		return p.position
	}
	elapsed := p.now().Sub(p.anchor).Seconds() * p.rate
	return p.clampNoLock(p.position + elapsed)
}

func (p *Player) clampNoLock(t float64) float64 {
	if !(t > 0) {
		return 0
	}
	if p.meta != nil && p.meta.Duration > 0 && t > p.meta.Duration {
		return p.meta.Duration
	}
	return t
}

func (p *Player) emit(ev Event) {
	p.lock.Lock()
	list := make([]listener, len(p.listeners[ev]))
	copy(list, p.listeners[ev])
	p.lock.Unlock()
	for _, l := range list {
		l.fn()
	}
}
