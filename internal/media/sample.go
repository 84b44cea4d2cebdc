package media

import (
	"image"
	"sync"
	"time"
)

// Audio format shared by every capture backend and the encoder.
const (
	SampleRate = 48000
	Channels   = 2
)

// Frame is a single decoded video frame. Frames that come from a capture
// device hold a buffer that must be handed back with Release; the zero release
// func makes Release a no-op.
type Frame struct {
	Image *image.RGBA
	PTS   time.Duration

	once    sync.Once
	release func()
}

// NewFrame wraps img; release, if non-nil, runs exactly once on Release.
func NewFrame(img *image.RGBA, pts time.Duration, release func()) *Frame {
	return &Frame{Image: img, PTS: pts, release: release}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Release returns the frame buffer to its owner. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// AudioChunk is interleaved signed 16-bit PCM at SampleRate/Channels.
type AudioChunk struct {
	Samples []int16
	PTS     time.Duration
}

// Frames returns the number of sample frames (samples per channel).
func (c AudioChunk) Frames() int {
	return len(c.Samples) / Channels
}

// Duration returns the play time of the chunk.
func (c AudioChunk) Duration() time.Duration {
	return FramesToDuration(c.Frames())
}

// FramesToDuration converts a sample-frame count to time.
func FramesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// DurationToFrames converts time to a sample-frame count, rounding down.
func DurationToFrames(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}
