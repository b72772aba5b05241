package detections

import "math"

// TargetFrame converts a playback position into an original frame number.
// This assumes that the detector's fps matches the fps of the video being played.
// If they differ, we still find the nearest sample, but it drifts further from the truth.
func TargetFrame(seconds, fps float64) int {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	t := math.Round(seconds * fps)
	if t >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(t)
}

// Nearest returns the frame whose index is closest to 'target'.
// 'frames' must be ascending by I. When two frames are equally distant, the
// earlier one wins, because it is usually the one already on screen.
// Targets outside of the covered range clamp to the first or last frame.
// Returns nil if frames is empty.
func Nearest(frames []Frame, target int) *Frame {
	if len(frames) == 0 {
		return nil
	}
	best := 0
	bestDelta := absInt(frames[0].I - target)
	for j := 1; j < len(frames); j++ {
		d := absInt(frames[j].I - target)
		if d < bestDelta {
			best = j
			bestDelta = d
		} else if frames[j].I > target {
			// Everything after this is even further away
			break
		}
	}
	return &frames[best]
}

// NearestFrame returns the record closest to the original frame number 'target'.
// The caller must not modify the returned frame.
func (x *Index) NearestFrame(target int) *Frame {
	return Nearest(x.frames, target)
}

// Resolve maps a playback position (in seconds) to the nearest record.
// Returns the record, and the target frame number that was computed from 'seconds'.
// The record is nil if the index is empty.
func (x *Index) Resolve(seconds float64) (*Frame, int) {
	target := TargetFrame(seconds, x.header.FPS)
	return Nearest(x.frames, target), target
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
