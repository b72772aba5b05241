package server

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/geometry"
	"github.com/icevision/overlay/pkg/media"
	"github.com/icevision/overlay/pkg/overlay"
)

// Number of rendered overlay frames that we buffer per websocket client, before dropping frames
const StreamSendBufferSize = 8

// Number of recent ticks that we remember, for diagnosing stutter and skipped frames
const TickHistorySize = 300

var nextSessionID atomic.Int64

// Session binds one video to one detection set.
// Replacing either of them creates a new session.
type Session struct {
	ID     int64
	Source string // Video path, relative to the video root
	Index  *detections.Index
	Player *media.Player
	Loop   *overlay.Loop

	log             logs.Log
	canvas          *overlay.GGCanvas
	removeListeners []func()

	// Written by the loop goroutine, read by HTTP handlers
	frameLock   sync.Mutex
	lastPNG     []byte
	lastInfo    *frameInfoJSON
	lastKey     frameKey
	history     ringbuffer.RingP[frameInfoJSON]
	subscribers map[int64]chan []byte
	nextSubID   int64
	nDropped    int64
	lastDropMsg time.Time
	closed      bool
}

// frameKey identifies the content of a rendered overlay. If it doesn't change, the pixels don't change.
type frameKey struct {
	frame      *detections.Frame
	generation uint64
	skip       overlay.SkipReason
}

// SYNC-OVERLAY-FRAME-JSON
type frameInfoJSON struct {
	Tick       uint64         `json:"tick"`
	Time       float64        `json:"time"`
	Target     int            `json:"target"`
	FrameIndex int            `json:"frameIndex"` // -1 if nothing was resolved
	Scale      geometry.Scale `json:"scale"`
	Skip       string         `json:"skip"`
	Objects    int            `json:"objects"`
	Failed     int            `json:"failed"`
	Generation uint64         `json:"generation"`
}

type sessionParams struct {
	log     logs.Log
	source  string
	meta    *media.Metadata
	index   *detections.Index
	canvas  *overlay.GGCanvas
	refresh overlay.RefreshSource
	style   overlay.Style
	metrics *overlay.Metrics
}

func newSession(p sessionParams) *Session {
	s := &Session{
		ID:          nextSessionID.Add(1),
		Source:      p.source,
		Index:       p.index,
		Player:      media.NewPlayer(),
		log:         p.log,
		canvas:      p.canvas,
		subscribers: map[int64]chan []byte{},
		history:     ringbuffer.NewRingP[frameInfoJSON](TickHistorySize),
	}
	tracker := geometry.NewTracker()
	s.Loop = overlay.NewLoop(p.log, p.index, s.Player, p.canvas, p.refresh, overlay.LoopOptions{
		Style:   p.style,
		Metrics: p.metrics,
		Tracker: tracker,
		OnFrame: s.onFrame,
	})

	// Geometry is recomputed from scratch when the metadata arrives, and whenever the element is resized
	s.removeListeners = append(s.removeListeners,
		s.Player.AddListener(media.EventLoadedMetadata, func() {
			tracker.Observe(geometry.TriggerMetadata, s.Player.Layout())
		}),
		s.Player.AddListener(media.EventResize, func() {
			tracker.Observe(geometry.TriggerResize, s.Player.Layout())
		}),
		s.Player.AddListener(media.EventVisibility, s.onVisibility),
	)

	s.Player.SetSource(p.source)
	if p.meta != nil {
		// Until the viewer tells us otherwise, the element is laid out at the natural size of the video
		s.Player.SetLayout(geometry.Layout{
			Box:        geometry.Size{Width: float64(p.meta.Width), Height: float64(p.meta.Height)},
			PixelRatio: 1,
		})
		s.Player.Load(*p.meta)
		if p.meta.FPSMismatch(p.index.FPS()) {
			s.log.Warnf("Detections were made at %.3f fps, but %v plays at %.3f fps. Boxes will drift.", p.index.FPS(), p.source, p.meta.FPS)
		}
	}
	return s
}

// Start the render loop
func (s *Session) Start() error {
	return s.Loop.Start()
}

// Close stops the render loop, and disconnects all stream clients
func (s *Session) Close() {
	for _, remove := range s.removeListeners {
		remove()
	}
	// A visibility change that is already in flight can't restart a closed loop
	s.Loop.Close()
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) onVisibility() {
	if s.Player.Visible() {
		if err := s.Loop.Start(); err != nil && !errors.Is(err, overlay.ErrLoopClosed) {
			s.log.Warnf("Failed to restart overlay of session %v: %v", s.ID, err)
		}
	} else {
		s.Loop.Stop()
	}
}

// Runs on the loop goroutine
func (s *Session) onFrame(info *overlay.FrameInfo) {
	if info.Skip == overlay.SkipHidden {
		return
	}
	key := frameKey{
		frame:      info.Frame,
		generation: info.Geometry.Generation,
		skip:       info.Skip,
	}
	ij := &frameInfoJSON{
		Tick:       info.Tick,
		Time:       info.Time,
		Target:     info.Target,
		FrameIndex: -1,
		Scale:      info.Scale,
		Skip:       info.Skip.String(),
		Objects:    info.Objects,
		Failed:     info.Failed,
		Generation: info.Geometry.Generation,
	}
	if info.Frame != nil {
		ij.FrameIndex = info.Frame.I
	}

	s.frameLock.Lock()
	changed := s.lastPNG == nil || key != s.lastKey
	s.lastInfo = ij
	s.history.Add(*ij)
	s.frameLock.Unlock()
	if !changed {
		return
	}

	buf := bytes.Buffer{}
	if err := s.canvas.EncodePNG(&buf); err != nil {
		s.log.Errorf("Failed to encode overlay PNG: %v", err)
		return
	}
	png := buf.Bytes()

	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	s.lastPNG = png
	s.lastKey = key
	if s.closed {
		return
	}
	for _, ch := range s.subscribers {
		if len(ch) >= cap(ch) {
			s.nDropped++
			if time.Since(s.lastDropMsg) > 5*time.Second {
				s.log.Infof("Dropped %v overlay frames to slow clients", s.nDropped)
				s.lastDropMsg = time.Now()
			}
			continue
		}
		ch <- png
	}
}

// LastPNG returns the most recently rendered overlay, or nil if nothing has been rendered yet
func (s *Session) LastPNG() []byte {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	return s.lastPNG
}

// Recent ticks, oldest first
func (s *Session) tickHistory() []frameInfoJSON {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	r := make([]frameInfoJSON, 0, s.history.Len())
	for i := 0; i < s.history.Len(); i++ {
		r = append(r, s.history.Peek(i))
	}
	return r
}

func (s *Session) lastFrameInfo() *frameInfoJSON {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	return s.lastInfo
}

// Subscribe to rendered overlay frames. The channel is closed when the session closes.
// The most recent frame, if any, is delivered immediately.
func (s *Session) subscribe() (int64, <-chan []byte) {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	s.nextSubID++
	id := s.nextSubID
	ch := make(chan []byte, StreamSendBufferSize)
	if s.closed {
		close(ch)
		return id, ch
	}
	if s.lastPNG != nil {
		ch <- s.lastPNG
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *Session) unsubscribe(id int64) {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) numSubscribers() int {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	return len(s.subscribers)
}
