package server

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Sent by the viewer over the websocket.
// SYNC-OVERLAY-WEBSOCKET-COMMANDS
type streamCommandJSON struct {
	Command    string  `json:"command"` // play, pause, seek, rate, layout, hide, show
	T          float64 `json:"t"`       // seek
	Rate       float64 `json:"rate"`    // rate
	Width      float64 `json:"width"`   // layout
	Height     float64 `json:"height"`  // layout
	PixelRatio float64 `json:"pixelRatio"`
}

var nextOverlayStreamerID atomic.Int64

// overlayStreamer sends every rendered overlay frame to a viewer as a binary PNG message,
// and applies the viewer's player commands to the session.
type overlayStreamer struct {
	log         logs.Log
	id          int64
	session     *Session
	closed      atomic.Bool
	nSent       int64
	lastLogTime time.Time
}

func runOverlayStreamer(log logs.Log, conn *websocket.Conn, session *Session) {
	id := nextOverlayStreamerID.Add(1)
	s := &overlayStreamer{
		log:     log,
		id:      id,
		session: session,
	}
	s.run(conn)
}

func (s *overlayStreamer) run(conn *websocket.Conn) {
	subID, frames := s.session.subscribe()
	defer s.session.unsubscribe(subID)

	s.log.Infof("Overlay WebSocket %v: Connected to session %v", s.id, s.session.ID)
	readerDone := make(chan bool)
	go s.webSocketReader(conn, readerDone)

	// The session drops frames for us if we're slow, so this loop never holds up the renderer
	for !s.closed.Load() {
		select {
		case png, more := <-frames:
			if !more {
				s.log.Infof("Overlay WebSocket %v: Session %v closed", s.id, s.session.ID)
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(time.Second))
				s.closed.Store(true)
				break
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, png); err != nil {
				s.log.Infof("Overlay WebSocket %v: Write failed: %v", s.id, err)
				s.closed.Store(true)
				break
			}
			s.nSent++
			if time.Since(s.lastLogTime) > 60*time.Second {
				s.log.Infof("Overlay WebSocket %v: Sent %v frames", s.id, s.nSent)
				s.lastLogTime = time.Now()
			}
		case <-readerDone:
			s.closed.Store(true)
		}
	}
	conn.Close()
}

// Read commands from the websocket, until it is closed
func (s *overlayStreamer) webSocketReader(conn *websocket.Conn, done chan bool) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		cmd := streamCommandJSON{}
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Infof("Overlay WebSocket %v: Failed to decode command JSON: %v", s.id, err)
			continue
		}
		if err := s.session.applyCommand(&cmd); err != nil {
			s.log.Infof("Overlay WebSocket %v: Command '%v' failed: %v", s.id, cmd.Command, err)
		}
	}
}

func (sess *Session) applyCommand(cmd *streamCommandJSON) error {
	switch cmd.Command {
	case "play":
		sess.Player.Play()
	case "pause":
		sess.Player.Pause()
	case "seek":
		sess.Player.Seek(cmd.T)
	case "rate":
		if err := checkRate(cmd.Rate); err != nil {
			return err
		}
		sess.Player.SetRate(cmd.Rate)
	case "layout":
		lj := layoutJSON{Width: cmd.Width, Height: cmd.Height, PixelRatio: cmd.PixelRatio}
		layout, err := lj.toLayout()
		if err != nil {
			return err
		}
		sess.Player.SetLayout(layout)
	case "hide":
		sess.Player.SetVisible(false)
	case "show":
		sess.Player.SetVisible(true)
	default:
		return fmt.Errorf("Unknown command")
	}
	return nil
}
