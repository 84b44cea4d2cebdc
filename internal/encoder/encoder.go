// Package encoder writes composited frames and mixed audio into a WebM
// container (MJPEG video, 16-bit PCM audio).
package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pkg/errors"

	"github.com/grabscreen/grabscreen/internal/media"
)

// ErrEncoder reports that the container writer failed; the recording is lost.
var ErrEncoder = errors.New("encoder failure")

const (
	videoCodec = "V_MJPEG"
	audioCodec = "A_PCM/INT/LIT"

	DefaultJPEGQuality = 80
	MimeType           = "video/webm"
)

// Options configures an Encoder.
type Options struct {
	Width, Height int
	FPS           int
	JPEGQuality   int

	// Audio adds a PCM track.
	Audio bool

	Logger *slog.Logger
}

// trackClock maps input timestamps onto the output timeline so that paused
// spans leave no gap.
type trackClock struct {
	offset  time.Duration
	last    time.Duration
	step    time.Duration
	started bool
	resync  bool
}

func (c *trackClock) next(pts, step time.Duration) time.Duration {
	switch {
	case !c.started:
		c.offset = pts
		c.started = true
	case c.resync:
		c.offset = pts - (c.last + c.step)
	}
	c.resync = false
	out := pts - c.offset
	if out < c.last {
		out = c.last
	}
	c.last, c.step = out, step
	return out
}

// Encoder is safe for one writer goroutine plus concurrent Pause/Resume.
type Encoder struct {
	opts   Options
	logger *slog.Logger

	video webm.BlockWriteCloser
	audio webm.BlockWriteCloser
	buf   bytes.Buffer

	// flushed is closed once the container writer has finished with out.
	flushed chan struct{}
	fatalMu sync.Mutex
	fatal   error

	mu      sync.Mutex
	paused  bool
	closed  bool
	vclock  trackClock
	aclock  trackClock
	frames  uint64
	chunks  uint64
	dropped uint64
}

// writerCloser stops forwarding after the first write error.
type writerCloser struct {
	writer io.Writer
	logger *slog.Logger
	closed bool
	done   chan struct{}
}

func (wc *writerCloser) Write(p []byte) (n int, err error) {
	if wc.closed {
		return 0, io.ErrClosedPipe
	}

	n, err = wc.writer.Write(p)
	if err != nil {
		wc.logger.Warn("Write error detected, marking writer as closed",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
			"data_size", len(p),
			"bytes_written", n)
		wc.closed = true
	}
	return n, err
}

func (wc *writerCloser) Close() error {
	if wc.closed && wc.done == nil {
		return nil
	}
	wc.closed = true
	if wc.done != nil {
		defer close(wc.done)
		wc.done = nil
	}
	if c, ok := wc.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// New writes the container header to out and returns an encoder ready for
// frames.
func New(out io.Writer, opts Options) (*Encoder, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Errorf("invalid video size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Encoder{
		opts:    opts,
		logger:  opts.Logger.With("component", "encoder"),
		flushed: make(chan struct{}),
	}

	tracks := []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         videoCodec,
			TrackType:       1,
			DefaultDuration: uint64(time.Second / time.Duration(opts.FPS)),
			Video: &webm.Video{
				PixelWidth:  uint64(opts.Width),
				PixelHeight: uint64(opts.Height),
			},
		},
	}
	if opts.Audio {
		tracks = append(tracks, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    2,
			CodecID:     audioCodec,
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(media.SampleRate),
				Channels:          media.Channels,
			},
		})
	}

	wc := &writerCloser{writer: out, logger: e.logger, done: e.flushed}
	writers, err := webm.NewSimpleBlockWriter(wc, tracks, mkvcore.WithOnFatalHandler(func(err error) {
		e.logger.Error("WebM writer failed", "error", err)
		e.fatalMu.Lock()
		e.fatal = err
		e.fatalMu.Unlock()
	}))
	if err != nil {
		return nil, errors.Wrap(ErrEncoder, err.Error())
	}
	e.video = writers[0]
	if opts.Audio {
		e.audio = writers[1]
	}

	e.logger.Info("Encoder started",
		"width", opts.Width, "height", opts.Height, "fps", opts.FPS, "audio", opts.Audio)
	return e, nil
}

// Pause drops input until Resume. The output timeline continues from where
// it stopped.
func (e *Encoder) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume accepts input again.
func (e *Encoder) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	e.vclock.resync = true
	e.aclock.resync = true
}

// Paused reports whether input is currently dropped.
func (e *Encoder) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// accept checks writer health and pause state. It returns false for input
// that must be dropped.
func (e *Encoder) accept() (bool, error) {
	if err := e.fatalErr(); err != nil {
		return false, errors.Wrap(ErrEncoder, err.Error())
	}
	if e.closed {
		return false, errors.Wrap(ErrEncoder, "write after close")
	}
	if e.paused {
		e.dropped++
		return false, nil
	}
	return true, nil
}

func (e *Encoder) fatalErr() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatal
}

// WriteVideo encodes f as one keyframe. The frame is not released.
func (e *Encoder) WriteVideo(f *media.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok, err := e.accept(); !ok {
		return err
	}

	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, f.Image, &jpeg.Options{Quality: e.opts.JPEGQuality}); err != nil {
		return errors.Wrap(ErrEncoder, err.Error())
	}
	ts := e.vclock.next(f.PTS, time.Second/time.Duration(e.opts.FPS))
	// The block writer marshals asynchronously, so it gets its own copy.
	frame := append([]byte(nil), e.buf.Bytes()...)
	if _, err := e.video.Write(true, ts.Milliseconds(), frame); err != nil {
		return errors.Wrap(ErrEncoder, err.Error())
	}
	e.frames++
	return nil
}

// WriteAudio appends c as little-endian PCM.
func (e *Encoder) WriteAudio(c media.AudioChunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.audio == nil || len(c.Samples) == 0 {
		return nil
	}
	if ok, err := e.accept(); !ok {
		return err
	}

	data := make([]byte, 2*len(c.Samples))
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	ts := e.aclock.next(c.PTS, c.Duration())
	if _, err := e.audio.Write(true, ts.Milliseconds(), data); err != nil {
		return errors.Wrap(ErrEncoder, err.Error())
	}
	e.chunks++
	return nil
}

// Pump writes everything from video and audio until both are closed or ctx
// ends. Video frames are released after writing. Either channel may be nil.
func (e *Encoder) Pump(ctx context.Context, video <-chan *media.Frame, audio <-chan media.AudioChunk) error {
	for video != nil || audio != nil {
		select {
		case <-ctx.Done():
			drainFrames(video)
			return ctx.Err()
		case f, ok := <-video:
			if !ok {
				video = nil
				continue
			}
			err := e.WriteVideo(f)
			f.Release()
			if err != nil {
				drainFrames(video)
				return err
			}
		case c, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if err := e.WriteAudio(c); err != nil {
				drainFrames(video)
				return err
			}
		}
	}
	return nil
}

// drainFrames releases frames still buffered in a channel.
func drainFrames(ch <-chan *media.Frame) {
	if ch == nil {
		return
	}
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return
			}
			f.Release()
		default:
			return
		}
	}
}

// Stats counts encoder input.
type Stats struct {
	Frames      uint64
	AudioChunks uint64
	Dropped     uint64
}

// Stats returns a snapshot of the counters.
func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Frames: e.frames, AudioChunks: e.chunks, Dropped: e.dropped}
}

// Duration returns the length of the output timeline so far.
func (e *Encoder) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	var d time.Duration
	if e.vclock.started {
		d = e.vclock.last + e.vclock.step
	}
	if e.aclock.started && e.aclock.last+e.aclock.step > d {
		d = e.aclock.last + e.aclock.step
	}
	return d
}

// flushTimeout bounds how long Close waits for buffered blocks to reach out.
const flushTimeout = 5 * time.Second

// Close finalizes the container and waits until all output has been written.
// Safe to call more than once.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for _, w := range []webm.BlockWriteCloser{e.video, e.audio} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	select {
	case <-e.flushed:
	case <-time.After(flushTimeout):
		e.logger.Warn("Timed out waiting for container flush")
	}

	e.logger.Info("Encoder closed", "frames", e.frames, "audio_chunks", e.chunks, "dropped", e.dropped)
	if firstErr != nil {
		return errors.Wrap(ErrEncoder, firstErr.Error())
	}
	if err := e.fatalErr(); err != nil {
		return errors.Wrap(ErrEncoder, err.Error())
	}
	return nil
}
