package capture

import (
	"context"
	"encoding/binary"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/grabscreen/grabscreen/internal/media"
	procgroup "github.com/grabscreen/grabscreen/internal/proc_group"
	"github.com/grabscreen/grabscreen/internal/util"
)

// audioChunkFrames is 10ms at media.SampleRate.
const audioChunkFrames = media.SampleRate / 100

type stream struct {
	name          string
	video         bool
	width, height int
	args          []string
}

type pcmTrack struct {
	id string
	ch chan media.AudioChunk
}

func (t *pcmTrack) ID() string                       { return t.id }
func (t *pcmTrack) Samples() <-chan media.AudioChunk { return t.ch }

// procSource is a media.Source backed by ffmpeg child processes. When any of
// its streams ends the whole source ends.
type procSource struct {
	kind    media.Kind
	path    string
	streams []stream
	logger  *slog.Logger

	video  chan *media.Frame
	width  int
	height int
	tracks []media.AudioTrack

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	ready   atomic.Bool
	closing atomic.Bool

	mu  sync.Mutex
	err error
}

func newProcSource(kind media.Kind, path string, streams []stream, logger *slog.Logger) *procSource {
	s := &procSource{
		kind:    kind,
		path:    path,
		streams: streams,
		logger:  logger.With("source", kind.String()),
		done:    make(chan struct{}),
	}
	for _, st := range streams {
		if st.video && s.video == nil {
			s.video = make(chan *media.Frame, 2)
			s.width, s.height = st.width, st.height
		}
	}
	return s
}

func (s *procSource) Kind() media.Kind          { return s.kind }
func (s *procSource) Audio() []media.AudioTrack { return s.tracks }
func (s *procSource) Size() (int, int)          { return s.width, s.height }
func (s *procSource) Done() <-chan struct{}     { return s.done }

func (s *procSource) Video() <-chan *media.Frame {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *procSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops every process and waits for them to exit.
func (s *procSource) Close() error {
	s.closing.Store(true)
	s.cancel()
	<-s.done
	return nil
}

func (s *procSource) start(ctx context.Context, timeout time.Duration) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var pending atomic.Int32
	pending.Store(int32(len(s.streams)))
	allReady := make(chan struct{})

	var g errgroup.Group
	for _, st := range s.streams {
		var once sync.Once
		markReady := func() {
			once.Do(func() {
				if pending.Add(-1) == 0 {
					s.ready.Store(true)
					close(allReady)
				}
			})
		}

		var track *pcmTrack
		if !st.video {
			track = &pcmTrack{id: st.name, ch: make(chan media.AudioChunk, 16)}
			s.tracks = append(s.tracks, track)
		}

		cmd := exec.CommandContext(s.ctx, s.path, st.args...)
		procgroup.SetProcGrp(cmd)
		cmd.Cancel = func() error { return procgroup.Interrupt(cmd.Process) }
		cmd.WaitDelay = 2 * time.Second
		stderr := util.NewLineWriter(s.logger.With("stream", st.name), slog.LevelDebug, 8)
		cmd.Stderr = stderr

		stdout, err := cmd.StdoutPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err != nil {
			s.closing.Store(true)
			s.cancel()
			_ = g.Wait()
			if errors.Is(err, exec.ErrNotFound) {
				return errors.Wrapf(media.ErrDeviceUnavailable, "ffmpeg not found at %q", s.path)
			}
			return classify(st.name, "", err)
		}
		s.logger.Debug("Capture process started", "stream", st.name, "pid", cmd.Process.Pid, "args", st.args)

		g.Go(func() error {
			var rerr error
			if st.video {
				rerr = s.readVideo(stdout, st, markReady)
			} else {
				rerr = s.readAudio(stdout, track, markReady)
			}
			s.cancel()
			werr := cmd.Wait()
			stderr.Flush()
			if s.closing.Load() {
				return nil
			}
			cause := werr
			if cause == nil {
				cause = rerr
			}
			return classify(st.name, stderr.Tail(), cause)
		})
	}

	go func() {
		s.finish(g.Wait())
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-allReady:
		s.logger.Info("Capture started", "width", s.width, "height", s.height, "audio_tracks", len(s.tracks))
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return errors.Wrap(media.ErrDeviceUnavailable, "capture ended before delivering data")
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case <-timer:
		s.Close()
		return errors.Wrapf(media.ErrDeviceUnavailable, "no data from %s within %s", s.kind, timeout)
	}
}

func (s *procSource) finish(err error) {
	switch {
	case s.closing.Load():
		err = nil
	case s.ready.Load() && err == nil:
		err = media.ErrSourceEnded
	case s.ready.Load():
		err = errors.Wrap(media.ErrSourceEnded, err.Error())
	}
	if err != nil {
		s.logger.Warn("Capture ended", "error", err)
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

func (s *procSource) readVideo(r io.Reader, st stream, ready func()) error {
	defer close(s.video)

	size := st.width * st.height * 4
	var pool sync.Pool
	pool.New = func() any { return make([]byte, size) }
	start := time.Now()

	for {
		buf := pool.Get().([]byte)
		if _, err := io.ReadFull(r, buf); err != nil {
			pool.Put(buf)
			return err
		}
		ready()

		img := &image.RGBA{Pix: buf, Stride: 4 * st.width, Rect: image.Rect(0, 0, st.width, st.height)}
		f := media.NewFrame(img, time.Since(start), func() { pool.Put(buf) })
		if s.ctx.Err() != nil {
			f.Release()
			return nil
		}
		// Nobody reads while armed; keep only the newest frames.
		for {
			select {
			case s.video <- f:
			case old := <-s.video:
				old.Release()
				continue
			}
			break
		}
	}
}

func (s *procSource) readAudio(r io.Reader, t *pcmTrack, ready func()) error {
	defer close(t.ch)

	raw := make([]byte, audioChunkFrames*media.Channels*2)
	frames := 0
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			return err
		}
		ready()

		samples := make([]int16, len(raw)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		c := media.AudioChunk{Samples: samples, PTS: media.FramesToDuration(frames)}
		frames += audioChunkFrames
		if s.ctx.Err() != nil {
			return nil
		}
		for {
			select {
			case t.ch <- c:
			case <-t.ch:
				continue
			}
			break
		}
	}
}
