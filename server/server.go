package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/inference"
	"github.com/icevision/overlay/pkg/kibi"
	"github.com/icevision/overlay/pkg/media"
	"github.com/icevision/overlay/pkg/overlay"
	"github.com/icevision/overlay/server/setdb"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/image/font"
)

// Server hosts a single overlay session, and lets a viewer drive it over HTTP
type Server struct {
	Log              logs.Log
	Config           Config
	ShutdownComplete chan bool // Closed when Shutdown has finished

	setDB      *setdb.SetDB
	inference  *inference.Client
	face       font.Face
	refresh    overlay.RefreshSource
	registry   *prometheus.Registry
	metrics    *overlay.Metrics
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader

	shutdownOnce sync.Once
	sessionLock  sync.Mutex
	session      *Session
}

func NewServer(log logs.Log, cfg *Config) (*Server, error) {
	return newServer(log, cfg, overlay.NewTickerRefresh(cfg.RefreshHz))
}

func newServer(log logs.Log, cfg *Config, refresh overlay.RefreshSource) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var face font.Face
	var err error
	if cfg.FontFile != "" {
		face, err = overlay.LoadFace(cfg.FontFile, cfg.FontSize)
	} else {
		face, err = overlay.DefaultFace(cfg.FontSize)
	}
	if err != nil {
		return nil, err
	}

	db, err := setdb.Open(log, cfg.DB)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:              log,
		Config:           *cfg,
		ShutdownComplete: make(chan bool),
		setDB:            db,
		face:             face,
		refresh:          refresh,
		registry:         prometheus.NewRegistry(),
	}
	if cfg.InferenceURL != "" {
		s.inference = inference.NewClient(log, cfg.InferenceURL)
	} else {
		log.Warnf("No inferenceURL configured. Only cached and uploaded detections can be shown.")
	}
	s.metrics = overlay.NewMetrics(s.registry)
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_stream_clients",
			Help: "Number of connected overlay stream clients",
		},
		func() float64 {
			if sess := s.currentSession(); sess != nil {
				return float64(sess.numSubscribers())
			}
			return 0
		},
	))

	if err := s.setupHttpRoutes(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP handler of all our routes
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// addr example: ":8090"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	signalIn := make(chan os.Signal, 1)
	s.signalIn = signalIn
	signal.Notify(signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown closes the session, the HTTP server, and the database. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	s.replaceSession(nil)
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}
	s.setDB.Close()
	s.Log.Infof("Shutdown complete")
	close(s.ShutdownComplete)
}

func (s *Server) currentSession() *Session {
	s.sessionLock.Lock()
	defer s.sessionLock.Unlock()
	return s.session
}

// Replace the current session. The old session is closed before the new one becomes visible.
func (s *Server) replaceSession(next *Session) {
	s.sessionLock.Lock()
	defer s.sessionLock.Unlock()
	if s.session != nil {
		s.Log.Infof("Closing session %v (%v)", s.session.ID, s.session.Source)
		s.session.Close()
	}
	s.session = next
}

// Resolve a video path from a client. The result never escapes the video root.
func (s *Server) resolveSource(source string) string {
	clean := filepath.Clean("/" + strings.ReplaceAll(source, "\\", "/"))
	return filepath.Join(s.Config.VideoRoot, clean)
}

// Start a new session for 'source' and 'index', replacing the current session
func (s *Server) startSession(source string, index *detections.Index) (*Session, error) {
	if index.Len() == 0 {
		return nil, overlay.ErrNoDetections
	}
	meta := s.probe(source)
	if meta == nil {
		meta = media.MetadataFromDetections(index)
	}
	sess := newSession(sessionParams{
		log:     s.Log,
		source:  source,
		meta:    meta,
		index:   index,
		canvas:  overlay.NewGGCanvas(s.face),
		refresh: s.refresh,
		style:   s.Config.Style(),
		metrics: s.metrics,
	})
	s.replaceSession(nil)
	if err := sess.Start(); err != nil {
		sess.Close()
		return nil, err
	}
	s.replaceSession(sess)
	s.Log.Infof("Started session %v: %v, %v detection frames at %v fps", sess.ID, source, index.Len(), index.FPS())
	return sess, nil
}

// Read the metadata of a video. Returns nil if the file doesn't exist, or can't be probed.
func (s *Server) probe(source string) *media.Metadata {
	if source == "" {
		return nil
	}
	fn := s.resolveSource(source)
	if _, err := os.Stat(fn); err != nil {
		return nil
	}
	meta, err := media.Probe(fn)
	if err != nil {
		s.Log.Warnf("Failed to read metadata of %v. Falling back to detection dimensions: %v", fn, err)
		return nil
	}
	return meta
}

// Run the detector on a video, or return the cached result from a previous run.
// Returns true if the result came from the cache.
func (s *Server) predict(ctx context.Context, source string, opts inference.Options) (*detections.Index, bool, error) {
	fn := s.resolveSource(source)
	hash, err := setdb.HashFile(fn)
	if err != nil {
		return nil, false, err
	}
	opts = opts.WithDefaults()
	if row, err := s.setDB.Find(hash, opts); err == nil {
		index, err := row.Index()
		if err == nil {
			return index, true, nil
		}
		s.Log.Warnf("Ignoring corrupt cached detections %v: %v", row.ID, err)
	} else if !errors.Is(err, setdb.ErrNotFound) {
		return nil, false, err
	}

	if s.inference == nil {
		return nil, false, fmt.Errorf("No inference service is configured")
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil {
		s.Log.Infof("No cached detections for %v (%v). Running the detector", source, kibi.Format(st.Size()))
	}
	set, err := s.inference.Predict(ctx, f, filepath.Base(fn), opts)
	if err != nil {
		return nil, false, err
	}
	index, err := detections.NewIndex(set)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.setDB.Save(hash, source, opts, set); err != nil {
		s.Log.Errorf("Failed to cache detections of %v: %v", source, err)
	}
	return index, false, nil
}
