// Package inference talks to the remote object detection service, which
// samples a video and returns a detection set.
package inference

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
)

// Options are the sampling parameters of a prediction
type Options struct {
	Conf      float64 `json:"conf"`      // Minimum confidence of returned boxes
	EveryN    int     `json:"everyN"`    // Run the detector on every N-th frame
	MaxFrames int     `json:"maxFrames"` // Maximum number of frames to return
}

func DefaultOptions() Options {
	return Options{
		Conf:      0.25,
		EveryN:    5,
		MaxFrames: 60,
	}
}

// WithDefaults returns a copy of o, with zero values replaced by defaults
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.Conf <= 0 {
		o.Conf = def.Conf
	}
	if o.EveryN <= 0 {
		o.EveryN = def.EveryN
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = def.MaxFrames
	}
	return o
}

func (o Options) query() url.Values {
	q := url.Values{}
	q.Set("conf", strconv.FormatFloat(o.Conf, 'f', -1, 64))
	q.Set("every_n", strconv.Itoa(o.EveryN))
	q.Set("max_frames", strconv.Itoa(o.MaxFrames))
	return q
}

// APIError is returned when the service responds with a non-2xx status code
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %v", e.StatusCode)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     logs.Log
}

func NewClient(log logs.Log, baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 10 * time.Minute,
		},
		log: log,
	}
}

// PredictFile uploads a video file, and returns the validated detections
func (c *Client) PredictFile(ctx context.Context, filename string, opts Options) (*detections.Index, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set, err := c.Predict(ctx, f, filepath.Base(filename), opts)
	if err != nil {
		return nil, err
	}
	return detections.NewIndex(set)
}

// Predict uploads the video in 'video', and returns the raw detection set
func (c *Client) Predict(ctx context.Context, video io.Reader, filename string, opts Options) (*detections.Set, error) {
	opts = opts.WithDefaults()
	endpoint := c.BaseURL + "/predict_video?" + opts.query().Encode()

	// Stream the multipart body, so that we never hold the whole video in memory
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeVideoPart(mw, video, filename))
	}()

	defer pr.Close()
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	c.log.Infof("Uploading %v to %v (conf %v, every_n %v, max_frames %v)", filename, c.BaseURL, opts.Conf, opts.EveryN, opts.MaxFrames)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	set, err := detections.Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Infof("Received %v frames for %v in %.1f seconds", len(set.Frames), filename, time.Since(start).Seconds())
	return set, nil
}

func writeVideoPart(mw *multipart.Writer, video io.Reader, filename string) error {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "video/mp4"
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%v"`, strings.ReplaceAll(filename, `"`, "")))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, video); err != nil {
		return err
	}
	return mw.Close()
}
