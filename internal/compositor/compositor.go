// Package compositor samples the latest screen and webcam frames at a fixed
// rate and draws them into one picture-in-picture frame per tick.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/grabscreen/grabscreen/internal/media"
	"github.com/grabscreen/grabscreen/internal/overlay"
)

// Mode selects what triggers a draw.
type Mode int

const (
	// ClockTick draws on an independent fixed-rate timer.
	ClockTick Mode = iota
	// ScreenTick draws whenever a new screen frame arrives.
	ScreenTick
)

func (m Mode) String() string {
	switch m {
	case ClockTick:
		return "clock"
	case ScreenTick:
		return "screen"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "clock" or "screen".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "clock":
		return ClockTick, nil
	case "screen":
		return ScreenTick, nil
	default:
		return ClockTick, fmt.Errorf("unknown compositor mode %q", s)
	}
}

const (
	DefaultFPS            = 30
	DefaultFallbackWidth  = 1280
	DefaultFallbackHeight = 720
)

// Options configures a Compositor.
type Options struct {
	FPS            int
	FallbackWidth  int
	FallbackHeight int
	Mode           Mode

	// Layout positions the webcam; nil draws the screen only.
	Layout *overlay.Layout

	// NewTicker overrides the ClockTick timer, mainly for tests.
	NewTicker func(time.Duration) Ticker

	// Scaler used for resizing frames; defaults to bilinear.
	Scaler xdraw.Scaler

	// Now stamps ScreenTick frames; defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Stats counts compositor activity.
type Stats struct {
	Frames        uint64
	ScreenDropped uint64
	WebcamDropped uint64
}

// Compositor owns its output buffers for the duration of a recording.
type Compositor struct {
	opts   Options
	logger *slog.Logger

	screen media.Source
	webcam media.Source

	screenSlot slot
	webcamSlot slot
	screenTick chan struct{}

	width, height int
	interval      time.Duration

	out    chan *media.Frame
	pool   sync.Pool
	frames atomic.Uint64
	start  time.Time
	mode   Mode
}

// New sizes the output from the screen's native resolution, falling back to
// the configured size when it is unknown. The size never changes afterwards.
// Either source may be nil.
func New(screen, webcam media.Source, opts Options) *Compositor {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.FallbackWidth <= 0 || opts.FallbackHeight <= 0 {
		opts.FallbackWidth, opts.FallbackHeight = DefaultFallbackWidth, DefaultFallbackHeight
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if opts.Scaler == nil {
		opts.Scaler = xdraw.ApproxBiLinear
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Compositor{
		opts:       opts,
		logger:     opts.Logger.With("component", "compositor"),
		screen:     screen,
		webcam:     webcam,
		screenTick: make(chan struct{}, 1),
		interval:   time.Second / time.Duration(opts.FPS),
		out:        make(chan *media.Frame, 2),
	}

	c.width, c.height = opts.FallbackWidth, opts.FallbackHeight
	if screen != nil {
		if w, h := screen.Size(); w > 0 && h > 0 {
			c.width, c.height = w, h
		}
	}
	if webcam != nil && opts.Layout != nil {
		if w, h := webcam.Size(); w > 0 && h > 0 {
			opts.Layout.SetAspectRatio(w, h)
		}
	}

	c.pool.New = func() any {
		return image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	}
	return c
}

// Size returns the fixed output size.
func (c *Compositor) Size() (int, int) {
	return c.width, c.height
}

// Interval returns the nominal time between output frames.
func (c *Compositor) Interval() time.Duration {
	return c.interval
}

// Output delivers composited frames. It is closed when Run returns. The
// receiver must Release every frame.
func (c *Compositor) Output() <-chan *media.Frame {
	return c.out
}

// Stats returns a snapshot of the counters.
func (c *Compositor) Stats() Stats {
	return Stats{
		Frames:        c.frames.Load(),
		ScreenDropped: c.screenSlot.droppedCount(),
		WebcamDropped: c.webcamSlot.droppedCount(),
	}
}

// Run reads the sources and produces frames until ctx is cancelled. It does
// not close the sources; they belong to the caller.
func (c *Compositor) Run(ctx context.Context) error {
	defer close(c.out)
	defer c.screenSlot.clear()
	defer c.webcamSlot.clear()

	mode := c.opts.Mode
	if mode == ScreenTick && !media.HasVideo(c.screen) {
		c.logger.Warn("No screen video to tick on, using clock")
		mode = ClockTick
	}
	c.mode = mode
	c.start = c.opts.Now()
	c.logger.Info("Compositor started",
		"width", c.width, "height", c.height, "fps", c.opts.FPS, "mode", mode.String())

	g, gctx := errgroup.WithContext(ctx)
	if media.HasVideo(c.screen) {
		g.Go(func() error {
			c.feed(gctx, c.screen.Video(), &c.screenSlot, func(int, int) {
				select {
				case c.screenTick <- struct{}{}:
				default:
				}
			})
			return nil
		})
	}
	if media.HasVideo(c.webcam) {
		g.Go(func() error {
			first := true
			c.feed(gctx, c.webcam.Video(), &c.webcamSlot, func(w, h int) {
				if first && c.opts.Layout != nil {
					c.opts.Layout.SetAspectRatio(w, h)
					first = false
				}
			})
			return nil
		})
	}
	g.Go(func() error {
		if mode == ScreenTick {
			return c.screenLoop(gctx)
		}
		return c.clockLoop(gctx)
	})

	err := g.Wait()
	st := c.Stats()
	c.logger.Info("Compositor stopped",
		"frames", st.Frames, "screen_dropped", st.ScreenDropped, "webcam_dropped", st.WebcamDropped)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// feed stores every incoming frame in s, then calls stored with its size.
func (c *Compositor) feed(ctx context.Context, in <-chan *media.Frame, s *slot, stored func(w, h int)) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			w, h := f.Width(), f.Height()
			s.put(f)
			stored(w, h)
		}
	}
}

func (c *Compositor) clockLoop(ctx context.Context) error {
	t := c.opts.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if err := c.emit(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Compositor) screenLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.screenTick:
			if err := c.emit(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Compositor) emit(ctx context.Context) error {
	buf := c.pool.Get().(*image.RGBA)
	c.Draw(buf)

	f := media.NewFrame(buf, c.pts(), func() { c.pool.Put(buf) })
	select {
	case c.out <- f:
		c.frames.Add(1)
		return nil
	case <-ctx.Done():
		f.Release()
		return ctx.Err()
	}
}

// pts is tick-indexed in ClockTick mode and wall-clock in ScreenTick mode,
// where frames arrive at the screen's own rate.
func (c *Compositor) pts() time.Duration {
	if c.mode == ScreenTick {
		return c.opts.Now().Sub(c.start)
	}
	return time.Duration(c.frames.Load()) * c.interval
}

// Draw renders the current state into dst, which must have the output size:
// the screen frame (or black) across the whole frame, then the webcam overlay
// when it is visible and a webcam frame exists.
func (c *Compositor) Draw(dst *image.RGBA) {
	bounds := dst.Bounds()

	drewScreen := false
	c.screenSlot.with(func(f *media.Frame) {
		if f == nil {
			return
		}
		drewScreen = true
		src := f.Image
		if src.Bounds().Size() == bounds.Size() {
			xdraw.Draw(dst, bounds, src, src.Bounds().Min, xdraw.Src)
			return
		}
		c.opts.Scaler.Scale(dst, bounds, src, src.Bounds(), xdraw.Src, nil)
	})
	if !drewScreen {
		xdraw.Draw(dst, bounds, image.Black, image.Point{}, xdraw.Src)
	}

	if c.opts.Layout == nil {
		return
	}
	snap := c.opts.Layout.Snapshot()
	if !snap.Visible {
		return
	}
	c.webcamSlot.with(func(f *media.Frame) {
		if f == nil {
			return
		}
		r := snap.RectIn(bounds.Dx(), bounds.Dy()).Add(bounds.Min)
		if r.Empty() {
			return
		}
		c.opts.Scaler.Scale(dst, r, f.Image, f.Image.Bounds(), xdraw.Src, nil)
	})
}

// HasWebcamFrame reports whether any webcam frame has arrived yet.
func (c *Compositor) HasWebcamFrame() bool {
	return c.webcamSlot.has()
}
