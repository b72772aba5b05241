package geometry

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleFor(t *testing.T) {
	// 1920x1080 frame drawn into a 960x540 box
	s, ok := ScaleFor(Size{960, 540}, 1920, 1080)
	require.True(t, ok)
	require.Equal(t, 0.5, s.X)
	require.Equal(t, 0.5, s.Y)

	r := s.Rect([4]float64{960, 540, 1920, 1080})
	require.Equal(t, Rect{X: 480, Y: 270, Width: 480, Height: 270}, r)

	// Non-uniform scaling
	s, ok = ScaleFor(Size{800, 300}, 640, 480)
	require.True(t, ok)
	require.InDelta(t, 1.25, s.X, 1e-12)
	require.InDelta(t, 0.625, s.Y, 1e-12)

	// Not laid out yet
	s, ok = ScaleFor(Size{0, 540}, 1920, 1080)
	require.False(t, ok)
	require.Equal(t, IdentityScale, s)
	_, ok = ScaleFor(Size{960, 0}, 1920, 1080)
	require.False(t, ok)
	_, ok = ScaleFor(Size{math.NaN(), 10}, 1920, 1080)
	require.False(t, ok)

	// Frame with no area
	s, ok = ScaleFor(Size{960, 540}, 0, 1080)
	require.False(t, ok)
	require.Equal(t, IdentityScale, s)
	_, ok = ScaleFor(Size{960, 540}, 1920, 0)
	require.False(t, ok)
}

func TestScaleWidthIsExact(t *testing.T) {
	boxes := [][4]float64{
		{0, 0, 1, 1},
		{12.5, 7.25, 640, 480},
		{100, 200, 333, 301},
	}
	for _, box := range []Size{{320, 240}, {1000, 563}, {333.3, 187.5}} {
		s, ok := ScaleFor(box, 640, 480)
		require.True(t, ok)
		for _, b := range boxes {
			r := s.Rect(b)
			require.InDelta(t, (b[2]-b[0])*box.Width/640, r.Width, 1e-9)
			require.InDelta(t, (b[3]-b[1])*box.Height/480, r.Height, 1e-9)
		}
	}
}

func TestSurface(t *testing.T) {
	s := NewSurface(Layout{Box: Size{640, 360}, PixelRatio: 2})
	require.Equal(t, Surface{CSSWidth: 640, CSSHeight: 360, BackingWidth: 1280, BackingHeight: 720, PixelRatio: 2}, s)

	// Fractional sizes are rounded
	s = NewSurface(Layout{Box: Size{100.4, 50.5}, PixelRatio: 1.5})
	require.Equal(t, 151, s.BackingWidth)
	require.Equal(t, 76, s.BackingHeight)

	// Missing pixel ratio means 1
	s = NewSurface(Layout{Box: Size{640, 360}})
	require.Equal(t, 1.0, s.PixelRatio)
	require.Equal(t, 640, s.BackingWidth)

	s = NewSurface(Layout{Box: Size{0, 360}, PixelRatio: 2})
	require.True(t, s.IsEmpty())
	require.Equal(t, 0.0, s.CSSHeight)
}

func TestTrackerRecomputes(t *testing.T) {
	tr := NewTracker()
	require.Equal(t, uint64(0), tr.Current().Generation)
	require.True(t, tr.Current().Surface.IsEmpty())

	a := tr.Observe(TriggerMetadata, Layout{Box: Size{960, 540}, PixelRatio: 2})
	require.Equal(t, uint64(1), a.Generation)
	require.Equal(t, TriggerMetadata, a.Trigger)
	require.Equal(t, 1920, a.Surface.BackingWidth)

	// Idempotent: the same inputs produce the same geometry
	b := tr.Observe(TriggerResize, Layout{Box: Size{960, 540}, PixelRatio: 2})
	require.Equal(t, a.Surface, b.Surface)
	sa, _ := a.ScaleFor(1920, 1080)
	sb, _ := b.ScaleFor(1920, 1080)
	require.Equal(t, sa, sb)

	// Sync does nothing when the layout is unchanged
	c := tr.Sync(Layout{Box: Size{960, 540}, PixelRatio: 2})
	require.Same(t, b, c)

	// A new layout produces a completely new snapshot
	d := tr.Sync(Layout{Box: Size{480, 270}, PixelRatio: 1})
	require.Equal(t, b.Generation+1, d.Generation)
	require.Equal(t, TriggerLayout, d.Trigger)
	require.Equal(t, 480, d.Surface.BackingWidth)
	sd, ok := d.ScaleFor(1920, 1080)
	require.True(t, ok)
	require.Equal(t, Scale{0.25, 0.25}, sd)

	// Pixel ratio of 0 and 1 are the same layout
	e := tr.Sync(Layout{Box: Size{480, 270}, PixelRatio: 0})
	require.Same(t, d, e)
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker()
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := tr.Observe(TriggerResize, Layout{Box: Size{float64(100 + i), 100}, PixelRatio: 1})
				// A snapshot is always internally consistent
				assert.Equal(t, int(snap.Layout.Box.Width), snap.Surface.BackingWidth)
				cur := tr.Current()
				assert.Equal(t, int(cur.Layout.Box.Width), cur.Surface.BackingWidth)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, uint64(800), tr.Current().Generation)
}
