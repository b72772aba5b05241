package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/geometry"
	"github.com/icevision/overlay/pkg/inference"
	"github.com/icevision/overlay/pkg/media"
	"github.com/icevision/overlay/pkg/overlay"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// We create a unique rate limiter for each endpoint, so we don't need httprate.KeyByEndpoint
	ratelimited := func(method, route string, handle func(w http.ResponseWriter, r *http.Request), requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(handle)).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	ratelimited("PUT", "/api/session", s.httpPutSession, 30, time.Minute)
	ratelimited("POST", "/api/session/predict", s.httpPredictSession, 10, time.Minute)
	handle("GET", "/api/session", s.httpGetSession)
	handle("GET", "/api/session/detections", s.httpGetDetections)
	handle("GET", "/api/session/video", s.httpGetVideo)
	handle("GET", "/api/session/ticks", s.httpGetTicks)
	handle("POST", "/api/player/play", s.httpPlay)
	handle("POST", "/api/player/pause", s.httpPause)
	handle("POST", "/api/player/seek", s.httpSeek)
	handle("POST", "/api/player/rate", s.httpRate)
	handle("POST", "/api/player/layout", s.httpLayout)
	handle("POST", "/api/player/visibility", s.httpVisibility)
	handle("GET", "/api/overlay.png", s.httpOverlayPNG)
	handle("GET", "/api/overlay/stream", s.httpOverlayStream)
	router.Handler("GET", "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "static"
	fsys = staticWWW
	if s.Config.HotReloadWWW {
		absRoot, err := filepath.Abs("server/static")
		if err != nil {
			return err
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}
	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/", "/metrics"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}

func (s *Server) sessionOrPanic() *Session {
	sess := s.currentSession()
	if sess == nil {
		www.PanicNotFound()
	}
	return sess
}

// SYNC-SESSION-JSON
type sessionJSON struct {
	ID       int64              `json:"id"`
	Source   string             `json:"source"`
	Cached   bool               `json:"cached"` // Only relevant to predict
	Header   detections.Header  `json:"header"`
	Frames   int                `json:"frames"`
	Metadata *media.Metadata    `json:"metadata"`
	Running  bool               `json:"running"`
	Player   playerJSON         `json:"player"`
	Geometry *geometry.Snapshot `json:"geometry"`
	Last     *frameInfoJSON     `json:"last"` // Most recent tick of the render loop
}

type playerJSON struct {
	Time          float64         `json:"time"`
	Rate          float64         `json:"rate"`
	Paused        bool            `json:"paused"`
	Ended         bool            `json:"ended"`
	Visible       bool            `json:"visible"`
	Layout        geometry.Layout `json:"layout"`
	NaturalWidth  int             `json:"naturalWidth"`
	NaturalHeight int             `json:"naturalHeight"`
}

func makeSessionJSON(sess *Session) *sessionJSON {
	naturalWidth, naturalHeight := sess.Player.NaturalSize()
	return &sessionJSON{
		ID:       sess.ID,
		Source:   sess.Source,
		Header:   sess.Index.Header(),
		Frames:   sess.Index.Len(),
		Metadata: sess.Player.Metadata(),
		Running:  sess.Loop.IsRunning(),
		Player: playerJSON{
			Time:          sess.Player.CurrentTime(),
			Rate:          sess.Player.Rate(),
			Paused:        sess.Player.Paused(),
			Ended:         sess.Player.Ended(),
			Visible:       sess.Player.Visible(),
			Layout:        sess.Player.Layout(),
			NaturalWidth:  naturalWidth,
			NaturalHeight: naturalHeight,
		},
		Geometry: sess.Loop.Tracker().Current(),
		Last:     sess.lastFrameInfo(),
	}
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{
		Time: time.Now().Unix(),
	})
}

// Translate session start errors into HTTP errors
func (s *Server) checkStart(err error) {
	if errors.Is(err, overlay.ErrNoDetections) {
		www.PanicBadRequestf("no detections to display")
	}
	www.Check(err)
}

func (s *Server) httpPutSession(w http.ResponseWriter, r *http.Request) {
	type putJSON struct {
		Source     string          `json:"source"`
		Detections *detections.Set `json:"detections"`
	}
	req := putJSON{}
	www.ReadJSON(w, r, &req, int64(s.Config.MaxUploadSize))
	if req.Detections == nil {
		www.PanicBadRequestf("detections must be specified")
	}
	index, err := detections.NewIndex(req.Detections)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	sess, err := s.startSession(req.Source, index)
	s.checkStart(err)
	www.SendJSON(w, makeSessionJSON(sess))
}

func (s *Server) httpPredictSession(w http.ResponseWriter, r *http.Request) {
	type predictJSON struct {
		Source string `json:"source"`
	}
	req := predictJSON{}
	www.ReadJSON(w, r, &req, 64*1024)
	if req.Source == "" {
		www.PanicBadRequestf("source must be specified")
	}
	opts := s.Config.Inference
	if v := www.QueryValue(r, "conf"); v != "" {
		conf, err := strconv.ParseFloat(v, 64)
		if err != nil || !(conf > 0 && conf <= 1) {
			www.PanicBadRequestf("conf must be between 0 and 1")
		}
		opts.Conf = conf
	}
	if v := www.QueryValue(r, "every_n"); v != "" {
		opts.EveryN = parsePositiveIntOrPanic("every_n", v)
	}
	if v := www.QueryValue(r, "max_frames"); v != "" {
		opts.MaxFrames = parsePositiveIntOrPanic("max_frames", v)
	}

	index, cached, err := s.predict(r.Context(), req.Source, opts)
	if errors.Is(err, os.ErrNotExist) {
		www.PanicBadRequestf("video '%v' not found", req.Source)
	}
	apiErr := &inference.APIError{}
	if errors.As(err, &apiErr) {
		www.Panic(http.StatusBadGateway, apiErr.Error())
	}
	www.Check(err)

	sess, err := s.startSession(req.Source, index)
	s.checkStart(err)
	resp := makeSessionJSON(sess)
	resp.Cached = cached
	www.SendJSON(w, resp)
}

func parsePositiveIntOrPanic(name, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		www.PanicBadRequestf("%v must be a positive integer", name)
	}
	return i
}

func (s *Server) httpGetSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	www.CacheNever(w)
	www.SendJSON(w, makeSessionJSON(sess))
}

func (s *Server) httpGetDetections(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	www.SendJSON(w, sess.Index.Set())
}

func (s *Server) httpGetTicks(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type ticksJSON struct {
		Ticks   []frameInfoJSON `json:"ticks"`   // Oldest first
		Skipped map[string]int  `json:"skipped"` // Number of skipped ticks in 'ticks', by reason
		Objects int             `json:"objects"` // Total objects drawn in 'ticks'
		Failed  int             `json:"failed"`  // Total objects that failed to draw in 'ticks'
	}
	sess := s.sessionOrPanic()
	resp := ticksJSON{
		Ticks:   sess.tickHistory(),
		Skipped: map[string]int{},
	}
	for _, t := range resp.Ticks {
		if t.Skip != overlay.SkipNone.String() {
			resp.Skipped[t.Skip]++
		}
		resp.Objects += t.Objects
		resp.Failed += t.Failed
	}
	www.CacheNever(w)
	www.SendJSON(w, &resp)
}

// Serve the session's video file, with range support, so that the viewer can play it
func (s *Server) httpGetVideo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	if sess.Source == "" {
		www.PanicNotFound()
	}
	fn := s.resolveSource(sess.Source)
	if _, err := os.Stat(fn); err != nil {
		www.PanicNotFound()
	}
	http.ServeFile(w, r, fn)
}

func (s *Server) httpPlay(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sessionOrPanic().Player.Play()
	www.SendOK(w)
}

func (s *Server) httpPause(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sessionOrPanic().Player.Pause()
	www.SendOK(w)
}

func (s *Server) httpSeek(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	t, err := strconv.ParseFloat(www.QueryValue(r, "t"), 64)
	if err != nil {
		www.PanicBadRequestf("t must be a number of seconds")
	}
	sess.Player.Seek(t)
	www.SendOK(w)
}

func checkRate(rate float64) error {
	if !(rate > 0) || rate > 16 {
		return errors.New("rate must be greater than 0 and at most 16")
	}
	return nil
}

func (s *Server) httpRate(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	rate, err := strconv.ParseFloat(www.QueryValue(r, "rate"), 64)
	if err == nil {
		err = checkRate(rate)
	}
	if err != nil {
		www.PanicBadRequestf("rate must be a number greater than 0 and at most 16")
	}
	sess.Player.SetRate(rate)
	www.SendOK(w)
}

// SYNC-LAYOUT-JSON
type layoutJSON struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PixelRatio float64 `json:"pixelRatio"`
}

func (l *layoutJSON) toLayout() (geometry.Layout, error) {
	if l.Width < 0 || l.Height < 0 || l.Width > 16384 || l.Height > 16384 {
		return geometry.Layout{}, errors.New("width and height must be between 0 and 16384")
	}
	if l.PixelRatio < 0 || l.PixelRatio > 8 {
		return geometry.Layout{}, errors.New("pixelRatio must be between 0 and 8")
	}
	return geometry.Layout{
		Box:        geometry.Size{Width: l.Width, Height: l.Height},
		PixelRatio: l.PixelRatio,
	}, nil
}

func (s *Server) httpLayout(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	lj := layoutJSON{}
	www.ReadJSON(w, r, &lj, 4096)
	layout, err := lj.toLayout()
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	sess.Player.SetLayout(layout)
	www.SendJSON(w, sess.Loop.Tracker().Current())
}

func (s *Server) httpVisibility(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	visible, err := strconv.ParseBool(www.QueryValue(r, "visible"))
	if err != nil {
		www.PanicBadRequestf("visible must be true or false")
	}
	sess.Player.SetVisible(visible)
	www.SendOK(w)
}

func (s *Server) httpOverlayPNG(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()
	png := sess.LastPNG()
	if png == nil {
		www.Panic(http.StatusServiceUnavailable, "overlay has not been rendered yet")
	}
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) httpOverlayStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionOrPanic()

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Overlay stream websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	runOverlayStreamer(s.Log, c, sess)
}
