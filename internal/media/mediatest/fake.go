// Package mediatest provides hand-driven sources for tests.
package mediatest

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grabscreen/grabscreen/internal/media"
)

// Track is an AudioTrack fed by the test.
type Track struct {
	id string
	ch chan media.AudioChunk
}

// NewTrack returns a track with room for buf chunks.
func NewTrack(id string, buf int) *Track {
	return &Track{id: id, ch: make(chan media.AudioChunk, buf)}
}

func (t *Track) ID() string                       { return t.id }
func (t *Track) Samples() <-chan media.AudioChunk { return t.ch }

// Push sends a chunk, blocking if the buffer is full.
func (t *Track) Push(c media.AudioChunk) { t.ch <- c }

// End closes the track.
func (t *Track) End() { close(t.ch) }

// Source is a media.Source whose frames and lifecycle are driven by the test.
type Source struct {
	kind   media.Kind
	w, h   int
	video  chan *media.Frame
	tracks []media.AudioTrack

	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
	closed   atomic.Bool
	released atomic.Int64
	sent     atomic.Int64
}

// NewSource returns a source with a video track of w×h (no video when w is 0)
// and the given audio tracks.
func NewSource(kind media.Kind, w, h int, tracks ...*Track) *Source {
	s := &Source{kind: kind, w: w, h: h, done: make(chan struct{})}
	if w > 0 {
		s.video = make(chan *media.Frame, 8)
	}
	for _, t := range tracks {
		s.tracks = append(s.tracks, t)
	}
	return s
}

func (s *Source) Kind() media.Kind          { return s.kind }
func (s *Source) Audio() []media.AudioTrack { return s.tracks }
func (s *Source) Size() (int, int)          { return s.w, s.h }
func (s *Source) Done() <-chan struct{}     { return s.done }

func (s *Source) Video() <-chan *media.Frame {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close marks the source closed; safe to call more than once.
func (s *Source) Close() error {
	s.closed.Store(true)
	s.end(nil)
	return nil
}

// Revoke ends the source as if the platform took it away.
func (s *Source) Revoke() {
	s.end(media.ErrSourceEnded)
}

func (s *Source) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool { return s.closed.Load() }

// Released counts frames that were handed back.
func (s *Source) Released() int64 { return s.released.Load() }

// Sent counts frames pushed so far.
func (s *Source) Sent() int64 { return s.sent.Load() }

// PushFrame sends a solid frame of the source's size.
func (s *Source) PushFrame(c color.RGBA, pts time.Duration) *media.Frame {
	f := media.NewFrame(Solid(s.w, s.h, c), pts, func() { s.released.Add(1) })
	s.sent.Add(1)
	s.video <- f
	return f
}

// PushImage sends img as a frame regardless of the source's nominal size.
func (s *Source) PushImage(img *image.RGBA, pts time.Duration) {
	s.sent.Add(1)
	s.video <- media.NewFrame(img, pts, func() { s.released.Add(1) })
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

// ManualTicker is a compositor Ticker advanced by the test.
type ManualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

// NewManualTicker returns an unbuffered ticker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

func (t *ManualTicker) C() <-chan time.Time { return t.ch }
func (t *ManualTicker) Stop()               { t.stopped.Store(true) }

// Tick delivers one tick, blocking until the loop takes it.
func (t *ManualTicker) Tick() { t.ch <- time.Now() }

// Stopped reports whether Stop was called.
func (t *ManualTicker) Stopped() bool { return t.stopped.Load() }
