package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/icevision/overlay/pkg/detections"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

var ErrNoVideoStream = errors.New("No video stream found")

// Metadata is what a video element knows once 'loadedmetadata' has fired
type Metadata struct {
	Width    int     `json:"width"`    // Intrinsic width in pixels
	Height   int     `json:"height"`   // Intrinsic height in pixels
	FPS      float64 `json:"fps"`      // Average frame rate, or zero if unknown
	Duration float64 `json:"duration"` // Seconds, or zero if unknown
	Frames   int     `json:"frames"`   // Number of frames, or zero if unknown
}

// FPSMismatch returns true if 'fps' differs from the probed frame rate by more than 1%.
// If either frame rate is unknown, there is no mismatch.
func (m *Metadata) FPSMismatch(fps float64) bool {
	if m.FPS <= 0 || fps <= 0 {
		return false
	}
	return math.Abs(m.FPS-fps)/m.FPS > 0.01
}

// MetadataFromDetections guesses the metadata of a video that can't be probed, from its detections.
// Dimensions come from the first frame. Returns nil if there are no frames.
func MetadataFromDetections(index *detections.Index) *Metadata {
	if index.Len() == 0 {
		return nil
	}
	first := index.At(0)
	hdr := index.Header()
	meta := &Metadata{
		Width:  first.ImgW,
		Height: first.ImgH,
		FPS:    index.FPS(),
		Frames: hdr.TotalFrames,
	}
	if hdr.TotalFrames > 0 {
		meta.Duration = float64(hdr.TotalFrames) / index.FPS()
	} else {
		_, last := index.Span()
		meta.Duration = math.Ceil(float64(last+1) / index.FPS())
	}
	return meta
}

// Subset of the JSON produced by "ffprobe -show_format -show_streams -of json"
type probeJSON struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on a video file, and returns its metadata.
func Probe(filename string) (*Metadata, error) {
	raw, err := ffmpeg.Probe(filename)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %v failed: %w", filename, err)
	}
	meta, err := parseProbe([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return meta, nil
}

func parseProbe(raw []byte) (*Metadata, error) {
	pj := probeJSON{}
	if err := json.Unmarshal(raw, &pj); err != nil {
		return nil, fmt.Errorf("Failed to decode ffprobe output: %w", err)
	}
	for _, s := range pj.Streams {
		if s.CodecType != "video" {
			continue
		}
		meta := &Metadata{
			Width:  s.Width,
			Height: s.Height,
		}
		meta.FPS = parseRational(s.AvgFrameRate)
		if meta.FPS == 0 {
			meta.FPS = parseRational(s.RFrameRate)
		}
		meta.Frames, _ = strconv.Atoi(s.NbFrames)
		meta.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		if meta.Duration == 0 {
			meta.Duration, _ = strconv.ParseFloat(pj.Format.Duration, 64)
		}
		if meta.Frames == 0 && meta.FPS > 0 && meta.Duration > 0 {
			meta.Frames = int(math.Round(meta.Duration * meta.FPS))
		}
		return meta, nil
	}
	return nil, ErrNoVideoStream
}

// Parse an ffmpeg rational such as "30000/1001". Returns zero on failure.
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
