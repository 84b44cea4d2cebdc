package overlay

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func assertInside(t *testing.T, r Rect, cw, ch float64) {
	t.Helper()
	assert.GreaterOrEqual(t, r.X, -eps, "x")
	assert.GreaterOrEqual(t, r.Y, -eps, "y")
	assert.LessOrEqual(t, r.X+r.W, cw+eps, "right edge")
	assert.LessOrEqual(t, r.Y+r.H, ch+eps, "bottom edge")
}

func newPlaced(t *testing.T, cw, ch float64) *Layout {
	t.Helper()
	l := New(Options{Width: 0.25, Margin: 0.02})
	l.SetContainer(cw, ch)
	return l
}

func TestInitialPlacementBottomRight(t *testing.T) {
	l := newPlaced(t, 1000, 500)
	r := l.Rect()

	assert.InDelta(t, 250, r.W, 1e-6)
	assert.InDelta(t, 250/(16.0/9.0), r.H, 1e-6)
	assert.InDelta(t, 1000-250-20, r.X, 1e-6)
	assert.InDelta(t, 500-r.H-10, r.Y, 1e-6)
	assertInside(t, r, 1000, 500)
}

func TestDragKeepsPointerOffset(t *testing.T) {
	l := newPlaced(t, 1000, 500)
	start := l.Rect()

	grab := Point{X: start.X + 10, Y: start.Y + 5}
	require.NoError(t, l.BeginDrag(grab))
	require.NoError(t, l.Move(Point{X: 300, Y: 100}))

	r := l.Rect()
	assert.InDelta(t, 290, r.X, 1e-6)
	assert.InDelta(t, 95, r.Y, 1e-6)
	assert.InDelta(t, start.W, r.W, 1e-6, "drag must not change size")
	l.EndGesture()
}

func TestDragClampsToContainer(t *testing.T) {
	l := newPlaced(t, 800, 600)
	r := l.Rect()
	require.NoError(t, l.BeginDrag(Point{X: r.X + 1, Y: r.Y + 1}))

	require.NoError(t, l.Move(Point{X: -500, Y: -500}))
	r = l.Rect()
	assert.InDelta(t, 0, r.X, 1e-6)
	assert.InDelta(t, 0, r.Y, 1e-6)

	require.NoError(t, l.Move(Point{X: 5000, Y: 5000}))
	r = l.Rect()
	assert.InDelta(t, 800, r.X+r.W, 1e-6)
	assert.InDelta(t, 600, r.Y+r.H, 1e-6)
}

func TestBeginDragOutsideOverlay(t *testing.T) {
	l := newPlaced(t, 800, 600)
	assert.ErrorIs(t, l.BeginDrag(Point{X: 1, Y: 1}), ErrOutsideOverlay)
	assert.False(t, l.Dragging())
}

func TestResizeUsesHorizontalMovementOnly(t *testing.T) {
	l := newPlaced(t, 1000, 800)
	before := l.Rect()

	require.NoError(t, l.BeginResize(Point{X: 500, Y: 500}))
	require.NoError(t, l.Move(Point{X: 400, Y: 100}))
	l.EndGesture()

	r := l.Rect()
	assert.InDelta(t, before.W-100, r.W, 1e-6)
	assert.InDelta(t, r.W/l.AspectRatio(), r.H, 1e-6)
}

func TestResizeWidthBounds(t *testing.T) {
	l := newPlaced(t, 1000, 1000)

	require.NoError(t, l.BeginResize(Point{X: 0}))
	require.NoError(t, l.Move(Point{X: -10000}))
	assert.InDelta(t, MinWidthPx, l.Rect().W, 1e-6)

	require.NoError(t, l.Move(Point{X: 10000}))
	assert.InDelta(t, 700, l.Rect().W, 1e-6)
	l.EndGesture()
}

func TestResizePushesPositionBack(t *testing.T) {
	l := newPlaced(t, 1000, 1000)
	r := l.Rect()
	require.NoError(t, l.BeginDrag(Point{X: r.X + 1, Y: r.Y + 1}))
	require.NoError(t, l.Move(Point{X: 5000, Y: 5000}))
	l.EndGesture()

	require.NoError(t, l.BeginResize(Point{X: 0}))
	require.NoError(t, l.Move(Point{X: 300}))
	l.EndGesture()

	assertInside(t, l.Rect(), 1000, 1000)
}

func TestGesturesAreMutuallyExclusive(t *testing.T) {
	l := newPlaced(t, 1000, 800)
	r := l.Rect()
	inside := Point{X: r.X + 2, Y: r.Y + 2}

	require.NoError(t, l.BeginResize(inside))
	assert.ErrorIs(t, l.BeginDrag(inside), ErrGestureInProgress)
	assert.True(t, l.Resizing())
	l.EndGesture()

	require.NoError(t, l.BeginDrag(inside))
	assert.ErrorIs(t, l.BeginResize(inside), ErrGestureInProgress)
	assert.True(t, l.Dragging())
	l.EndGesture()

	assert.ErrorIs(t, l.Move(inside), ErrNoGesture)
}

func TestHiddenOverlayCannotBeDragged(t *testing.T) {
	l := newPlaced(t, 1000, 800)
	assert.False(t, l.Toggle())
	r := l.Rect()
	assert.ErrorIs(t, l.BeginDrag(Point{X: r.X + 1, Y: r.Y + 1}), ErrHidden)
	assert.True(t, l.Toggle())
}

func TestContainerResizeIsIdempotent(t *testing.T) {
	l := newPlaced(t, 1920, 1080)
	r := l.Rect()
	require.NoError(t, l.BeginDrag(Point{X: r.X + 1, Y: r.Y + 1}))
	require.NoError(t, l.Move(Point{X: 1900, Y: 1000}))
	l.EndGesture()

	l.SetContainer(640, 360)
	once := l.Rect()
	l.SetContainer(640, 360)
	twice := l.Rect()

	assert.InDelta(t, once.X, twice.X, 1e-9)
	assert.InDelta(t, once.Y, twice.Y, 1e-9)
	assert.InDelta(t, once.W, twice.W, 1e-9)
	assert.InDelta(t, once.H, twice.H, 1e-9)
	assertInside(t, twice, 640, 360)
}

func TestContainerResizeShrinksWhenTooTall(t *testing.T) {
	l := newPlaced(t, 1000, 1000)
	l.SetAspectRatio(1, 2) // portrait camera

	l.SetContainer(1000, 100)
	r := l.Rect()
	assertInside(t, r, 1000, 100)
	assert.InDelta(t, 0.5, r.W/r.H, 1e-9)
}

func TestSetAspectRatioKeepsWidth(t *testing.T) {
	l := newPlaced(t, 1280, 720)
	w := l.Rect().W
	l.SetAspectRatio(4, 3)
	r := l.Rect()
	assert.InDelta(t, w, r.W, 1e-6)
	assert.InDelta(t, 4.0/3.0, r.W/r.H, 1e-9)

	l.SetAspectRatio(0, 10)
	assert.InDelta(t, 4.0/3.0, l.AspectRatio(), 1e-9, "invalid sizes are ignored")
}

func TestRandomGesturesStayInsideAndKeepAspect(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := newPlaced(t, 1280, 720)
	l.SetAspectRatio(640, 480)
	cw, ch := 1280.0, 720.0

	for i := 0; i < 2000; i++ {
		switch rng.Intn(4) {
		case 0:
			r := l.Rect()
			if l.BeginDrag(Point{X: r.X + r.W/2, Y: r.Y + r.H/2}) == nil {
				for j := 0; j < 5; j++ {
					_ = l.Move(Point{X: rng.Float64()*3000 - 1000, Y: rng.Float64()*3000 - 1000})
				}
				l.EndGesture()
			}
		case 1:
			if l.BeginResize(Point{X: rng.Float64() * cw}) == nil {
				for j := 0; j < 5; j++ {
					_ = l.Move(Point{X: rng.Float64()*3000 - 1000, Y: rng.Float64() * ch})
				}
				l.EndGesture()
			}
		case 2:
			cw = 100 + rng.Float64()*3000
			ch = 100 + rng.Float64()*2000
			l.SetContainer(cw, ch)
		case 3:
			l.SetContainer(cw, ch)
		}

		r := l.Rect()
		assertInside(t, r, cw, ch)
		require.False(t, math.IsNaN(r.W))
		assert.InDelta(t, 640.0/480.0, r.W/r.H, 1e-9)
	}
}

func TestSnapshotRectIn(t *testing.T) {
	s := Snapshot{X: 0.9, Y: 0.9, W: 0.25, Aspect: 16.0 / 9.0, Visible: true}
	r := s.RectIn(1280, 720)

	assert.Equal(t, 320, r.Dx())
	assert.Equal(t, 180, r.Dy())
	assert.Equal(t, 1280, r.Max.X)
	assert.Equal(t, 720, r.Max.Y)
}
