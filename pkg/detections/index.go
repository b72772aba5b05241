package detections

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
)

var (
	ErrNilSet       = errors.New("No detection set")
	ErrInvalidFPS   = errors.New("Detection set has an invalid frame rate")
	ErrNotAscending = errors.New("Detection frames are not in strictly ascending order")
	ErrNegativeIdx  = errors.New("Detection frame has a negative index")
)

// Index is a read-only view over a validated detection Set.
// An Index is never modified after creation. When the video or the detections
// change, build a new Index and discard the old one.
type Index struct {
	header Header
	frames []Frame
}

// NewIndex validates 'set' and wraps it in an Index.
// We never re-sort a malformed set, because a set that arrives out of order is
// most likely corrupt or belongs to a different video.
// The frames are copied, so later changes to 'set' do not leak into the Index.
func NewIndex(set *Set) (*Index, error) {
	if set == nil {
		return nil, ErrNilSet
	}
	if set.FPS <= 0 || math.IsNaN(set.FPS) || math.IsInf(set.FPS, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFPS, set.FPS)
	}
	for i := range set.Frames {
		if set.Frames[i].I < 0 {
			return nil, fmt.Errorf("%w: frames[%v].i = %v", ErrNegativeIdx, i, set.Frames[i].I)
		}
		if i > 0 && set.Frames[i].I <= set.Frames[i-1].I {
			return nil, fmt.Errorf("%w: frames[%v].i = %v follows frames[%v].i = %v", ErrNotAscending, i, set.Frames[i].I, i-1, set.Frames[i-1].I)
		}
	}

	frames := make([]Frame, len(set.Frames))
	for i, f := range set.Frames {
		frames[i] = f
		frames[i].Boxes = slices.Clone(f.Boxes)
	}

	return &Index{
		header: Header{
			FPS:            set.FPS,
			TotalFrames:    set.TotalFrames,
			SampledEveryN:  set.SampledEveryN,
			ReturnedFrames: set.ReturnedFrames,
		},
		frames: frames,
	}, nil
}

// Number of detection records
func (x *Index) Len() int {
	return len(x.frames)
}

// At returns the i'th record (by position, not by frame number).
// The caller must not modify the returned frame.
func (x *Index) At(i int) *Frame {
	return &x.frames[i]
}

// First and last frame numbers covered by the index. Both are -1 when the index is empty.
func (x *Index) Span() (first, last int) {
	if len(x.frames) == 0 {
		return -1, -1
	}
	return x.frames[0].I, x.frames[len(x.frames)-1].I
}

func (x *Index) FPS() float64 {
	return x.header.FPS
}

func (x *Index) Header() Header {
	return x.header
}

// Set returns a deep copy of the indexed set, suitable for serialization.
func (x *Index) Set() *Set {
	s := &Set{
		FPS:            x.header.FPS,
		TotalFrames:    x.header.TotalFrames,
		SampledEveryN:  x.header.SampledEveryN,
		ReturnedFrames: x.header.ReturnedFrames,
		Frames:         make([]Frame, len(x.frames)),
	}
	for i, f := range x.frames {
		s.Frames[i] = f
		s.Frames[i].Boxes = slices.Clone(f.Boxes)
	}
	return s
}

// Decode a Set from its JSON wire format
func Decode(r io.Reader) (*Set, error) {
	set := &Set{}
	if err := json.NewDecoder(r).Decode(set); err != nil {
		return nil, fmt.Errorf("Failed to decode detections JSON: %w", err)
	}
	return set, nil
}

// LoadFile reads a JSON detection set from disk, and validates it.
func LoadFile(filename string) (*Index, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	idx, err := NewIndex(set)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return idx, nil
}
