package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/grabscreen/grabscreen/internal/audiomix"
	"github.com/grabscreen/grabscreen/internal/compositor"
	"github.com/grabscreen/grabscreen/internal/encoder"
	"github.com/grabscreen/grabscreen/internal/media"
)

// pipeline is the running part of a recording: sources feed the compositor
// and mixer, both feed the encoder.
type pipeline struct {
	enc   *encoder.Encoder
	buf   *encoder.ChunkBuffer
	comp  *compositor.Compositor
	mixer *audiomix.Mixer

	stopProducers context.CancelFunc
}

// Record starts encoding. The session must be armed.
func (s *Session) Record(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateArmed {
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrIllegalTransition, "state=%s event=%s", st, EventRecord)
	}
	screen, webcam := s.screen, s.webcam

	p, err := s.newPipeline(screen, webcam)
	if err != nil {
		s.err = err
		t, ferr := s.fireLocked(EventEncoderFailed, err.Error())
		srcs := s.takeSourcesLocked()
		s.mu.Unlock()
		s.releaseSources(srcs...)
		if ferr == nil {
			s.notify(t)
		}
		return err
	}
	s.pipe = p
	t, _ := s.fireLocked(EventRecord, "")
	s.mu.Unlock()
	s.notify(t)

	s.run(context.WithoutCancel(ctx), p, screen, webcam)
	return nil
}

func (s *Session) newPipeline(screen, webcam media.Source) (*pipeline, error) {
	p := &pipeline{buf: &encoder.ChunkBuffer{}}

	var width, height int
	if s.mode == ModeCombined {
		p.comp = compositor.New(screen, webcam, compositor.Options{
			FPS:            s.opts.FPS,
			FallbackWidth:  s.opts.FallbackWidth,
			FallbackHeight: s.opts.FallbackHeight,
			Mode:           s.opts.CompositorMode,
			Layout:         s.layout,
			NewTicker:      s.opts.NewTicker,
			Logger:         s.deps.Logger,
		})
		width, height = p.comp.Size()
		if s.layout != nil {
			s.layout.SetContainer(float64(width), float64(height))
		}
	} else {
		if !media.HasVideo(screen) {
			return nil, errors.New("screen source has no video")
		}
		width, height = screen.Size()
		if width <= 0 || height <= 0 {
			width, height = s.opts.FallbackWidth, s.opts.FallbackHeight
		}
	}

	tracks := audioTracks(screen, webcam)
	if len(tracks) > 0 {
		p.mixer = audiomix.New(audiomix.Options{Logger: s.deps.Logger})
		for _, t := range tracks {
			p.mixer.Add(t)
		}
	}

	enc, err := encoder.New(p.buf, encoder.Options{
		Width:       width,
		Height:      height,
		FPS:         s.opts.FPS,
		JPEGQuality: s.opts.JPEGQuality,
		Audio:       p.mixer != nil,
		Logger:      s.deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	p.enc = enc
	return p, nil
}

func audioTracks(srcs ...media.Source) []media.AudioTrack {
	var tracks []media.AudioTrack
	for _, src := range srcs {
		if src != nil {
			tracks = append(tracks, src.Audio()...)
		}
	}
	return tracks
}

func doneOf(src media.Source) <-chan struct{} {
	if src == nil {
		return nil
	}
	return src.Done()
}

// run starts the pipeline goroutines and a supervisor that finalizes and
// uploads once they have drained.
func (s *Session) run(ctx context.Context, p *pipeline, screen, webcam media.Source) {
	g, gctx := errgroup.WithContext(ctx)
	prodCtx, stopProducers := context.WithCancel(gctx)
	p.stopProducers = stopProducers

	var videoIn <-chan *media.Frame
	var stop <-chan struct{}
	if p.comp != nil {
		g.Go(func() error { return p.comp.Run(prodCtx) })
		videoIn = p.comp.Output()
	} else {
		videoIn = screen.Video()
		stop = prodCtx.Done()
	}

	var audioOut <-chan media.AudioChunk
	if p.mixer != nil {
		g.Go(func() error { return p.mixer.Run(prodCtx) })
		audioOut = p.mixer.Output()
	}

	video := make(chan *media.Frame, 2)
	g.Go(func() error {
		s.relay(stop, gctx.Done(), videoIn, video)
		return nil
	})
	g.Go(func() error {
		return p.enc.Pump(gctx, video, audioOut)
	})
	g.Go(func() error {
		var kind media.Kind
		select {
		case <-prodCtx.Done():
			return nil
		case <-doneOf(screen):
			kind = media.KindScreen
		case <-doneOf(webcam):
			kind = media.KindWebcam
		}
		msg := fmt.Sprintf("Recording stopped: %s source ended", kind)
		if err := s.beginStop(EventSourceEnded, msg); err != nil {
			s.logger.Debug("Source ended after stop", "kind", kind, "error", err)
		}
		return nil
	})

	go func() {
		err := g.Wait()
		stopProducers()
		s.finish(ctx, p, err)
	}()
}

// relay forwards frames to the encoder and hands each to the preview. It
// stops when in closes, stop fires, or abort fires.
func (s *Session) relay(stop, abort <-chan struct{}, in <-chan *media.Frame, out chan<- *media.Frame) {
	defer close(out)
	for {
		select {
		case <-stop:
			return
		case <-abort:
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			if s.deps.Preview != nil {
				s.deps.Preview.Publish(f.Image)
			}
			select {
			case out <- f:
			case <-abort:
				f.Release()
				return
			}
		}
	}
}

// finish runs once the pipeline has drained: finalize, release every
// source, upload.
func (s *Session) finish(ctx context.Context, p *pipeline, runErr error) {
	closeErr := p.enc.Close()

	s.mu.Lock()
	srcs := s.takeSourcesLocked()
	s.mu.Unlock()
	s.releaseSources(srcs...)

	if runErr != nil {
		s.settle(EventEncoderFailed, runErr.Error(), nil, runErr)
		return
	}
	// The pipeline can drain without a stop when every input closed.
	if st := s.State(); st == StateRecording || st == StatePaused {
		_ = s.beginStop(EventSourceEnded, "Recording stopped: sources ended")
	}
	if closeErr != nil {
		s.settle(EventFinalizeFailed, closeErr.Error(), nil, closeErr)
		return
	}

	data := p.buf.Bytes()
	res := &Result{ID: s.id, Duration: p.enc.Duration(), Size: len(data)}
	if err := s.fire(EventFinalized, ""); err != nil {
		s.logger.Error("Unexpected state after finalizing", "error", err)
		return
	}

	s.logger.Info("Uploading recording", "bytes", len(data), "duration", res.Duration)
	name, err := s.deps.Uploader.Upload(ctx, bytes.NewReader(data))
	if err != nil {
		msg := err.Error()
		if path, serr := s.spool(data); serr != nil {
			s.logger.Error("Failed to keep recording", "error", serr)
		} else if path != "" {
			res.SpoolPath = path
			msg = fmt.Sprintf("%s (saved to %s)", msg, path)
		}
		s.settle(EventUploadFailed, msg, res, err)
		return
	}

	res.Filename = name
	s.settle(EventUploaded, "Uploaded as "+name, res, nil)
}

func (s *Session) settle(ev Event, msg string, res *Result, err error) {
	s.mu.Lock()
	s.result, s.err = res, err
	t, ferr := s.fireLocked(ev, msg)
	s.mu.Unlock()
	if ferr != nil {
		s.logger.Error("Unexpected state while settling", "event", ev, "error", ferr)
		return
	}
	s.notify(t)
}

// spool keeps a recording that could not be uploaded. It returns "" when
// spooling is disabled.
func (s *Session) spool(data []byte) (string, error) {
	if !s.opts.KeepFailed || s.opts.SpoolDir == "" || len(data) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(s.opts.SpoolDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create spool directory")
	}
	name := fmt.Sprintf("recording_%s_%s.webm", time.Now().Format("20060102_150405"), uniuri.NewLen(6))
	path := filepath.Join(s.opts.SpoolDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write spooled recording")
	}
	s.logger.Warn("Recording kept locally", "path", path)
	return path, nil
}
