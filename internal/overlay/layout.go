// Package overlay keeps the position and size of the webcam picture-in-picture
// in normalized coordinates and turns pointer gestures into updates.
package overlay

import (
	"errors"
	"math"
	"sync"
)

const (
	// MinWidthPx is the narrowest the overlay can be resized to.
	MinWidthPx = 50
	// MaxWidthFrac is the widest the overlay can be resized to, relative to the container.
	MaxWidthFrac = 0.7

	defaultAspect = 16.0 / 9.0
)

var (
	ErrGestureInProgress = errors.New("another gesture is in progress")
	ErrNoGesture         = errors.New("no gesture in progress")
	ErrOutsideOverlay    = errors.New("pointer is outside the overlay")
	ErrHidden            = errors.New("overlay is hidden")
	ErrNoContainer       = errors.New("container size unknown")
)

// Point is a pointer position in container pixels.
type Point struct {
	X, Y float64
}

// Rect is an overlay rectangle in pixels.
type Rect struct {
	X, Y, W, H float64
}

// Contains reports whether p lies inside r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Options sets the initial placement, as fractions of the container.
type Options struct {
	Width  float64
	Margin float64
}

type gesture int

const (
	gestureNone gesture = iota
	gestureDrag
	gestureResize
)

// Layout is safe for concurrent use: gestures arrive from the UI while the
// compositor reads a Snapshot every frame.
type Layout struct {
	mu sync.RWMutex

	// normalized top-left and width; height is derived from aspect
	x, y, w float64
	aspect  float64
	visible bool
	placed  bool
	margin  float64

	cw, ch float64

	gesture  gesture
	offX     float64
	offY     float64
	startX   float64
	startWpx float64
}

// New returns a visible layout anchored bottom-right once the container is known.
func New(opts Options) *Layout {
	w := opts.Width
	if w <= 0 || w > MaxWidthFrac {
		w = 0.25
	}
	return &Layout{
		w:       w,
		x:       1 - w - opts.Margin,
		aspect:  defaultAspect,
		visible: true,
		margin:  opts.Margin,
	}
}

// SetContainer updates the container size and re-clamps. Applying the same
// size twice yields the same rectangle.
func (l *Layout) SetContainer(width, height float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if width <= 0 || height <= 0 {
		return
	}
	l.cw, l.ch = width, height
	if !l.placed {
		l.y = 1 - l.heightNorm() - l.margin
		l.placed = true
	}
	l.clamp()
}

// SetAspectRatio records the webcam's native resolution. Width is kept and
// height re-derived.
func (l *Layout) SetAspectRatio(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aspect = float64(width) / float64(height)
	l.clamp()
}

// AspectRatio returns width/height of the overlay.
func (l *Layout) AspectRatio() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.aspect
}

// Toggle flips visibility and returns the new value.
func (l *Layout) Toggle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = !l.visible
	return l.visible
}

// SetVisible sets visibility.
func (l *Layout) SetVisible(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = v
}

// Visible reports whether the overlay is shown.
func (l *Layout) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visible
}

// BeginDrag starts moving the overlay. The offset between p and the overlay's
// top-left corner stays fixed for the rest of the gesture.
func (l *Layout) BeginDrag(p Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.canBegin(); err != nil {
		return err
	}
	r := l.rect()
	if !r.Contains(p) {
		return ErrOutsideOverlay
	}
	l.gesture = gestureDrag
	l.offX = p.X - r.X
	l.offY = p.Y - r.Y
	return nil
}

// BeginResize starts resizing from the overlay's resize handle.
func (l *Layout) BeginResize(p Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.canBegin(); err != nil {
		return err
	}
	l.gesture = gestureResize
	l.startX = p.X
	l.startWpx = l.w * l.cw
	return nil
}

// Move applies a pointer move to the gesture in progress.
func (l *Layout) Move(p Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.gesture {
	case gestureDrag:
		l.x = (p.X - l.offX) / l.cw
		l.y = (p.Y - l.offY) / l.ch
	case gestureResize:
		// Only horizontal movement counts.
		wpx := l.startWpx + (p.X - l.startX)
		minW := math.Min(MinWidthPx, MaxWidthFrac*l.cw)
		wpx = math.Max(minW, math.Min(wpx, MaxWidthFrac*l.cw))
		l.w = wpx / l.cw
	default:
		return ErrNoGesture
	}
	l.clamp()
	return nil
}

// EndGesture finishes any drag or resize. It is a no-op when idle.
func (l *Layout) EndGesture() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gesture = gestureNone
}

// Dragging reports whether a drag is in progress.
func (l *Layout) Dragging() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gesture == gestureDrag
}

// Resizing reports whether a resize is in progress.
func (l *Layout) Resizing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gesture == gestureResize
}

// Rect returns the overlay rectangle in container pixels.
func (l *Layout) Rect() Rect {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rect()
}

// Snapshot returns a copy of the normalized state.
func (l *Layout) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		X:       l.x,
		Y:       l.y,
		W:       l.w,
		H:       l.heightNorm(),
		Aspect:  l.aspect,
		Visible: l.visible,
	}
}

func (l *Layout) canBegin() error {
	if l.cw <= 0 || l.ch <= 0 {
		return ErrNoContainer
	}
	if l.gesture != gestureNone {
		return ErrGestureInProgress
	}
	if !l.visible {
		return ErrHidden
	}
	return nil
}

func (l *Layout) rect() Rect {
	wpx := l.w * l.cw
	return Rect{X: l.x * l.cw, Y: l.y * l.ch, W: wpx, H: wpx / l.aspect}
}

func (l *Layout) heightNorm() float64 {
	if l.ch <= 0 {
		return 0
	}
	return l.w * l.cw / l.aspect / l.ch
}

// clamp pushes the rectangle back inside the container and writes the
// result back as normalized values.
func (l *Layout) clamp() {
	if l.cw <= 0 || l.ch <= 0 {
		return
	}
	r := containRect(Rect{X: l.x * l.cw, Y: l.y * l.ch, W: l.w * l.cw}, l.aspect, l.cw, l.ch)
	l.x = r.X / l.cw
	l.y = r.Y / l.ch
	l.w = r.W / l.cw
}

// containRect derives the height from the width and fits r inside cw×ch,
// shrinking it only if it cannot fit at all.
func containRect(r Rect, aspect, cw, ch float64) Rect {
	if r.W > cw {
		r.W = cw
	}
	r.H = r.W / aspect
	if r.H > ch {
		r.H = ch
		r.W = ch * aspect
	}
	r.X = math.Max(0, math.Min(r.X, cw-r.W))
	r.Y = math.Max(0, math.Min(r.Y, ch-r.H))
	return r
}
