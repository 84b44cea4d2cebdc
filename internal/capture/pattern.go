package capture

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/grabscreen/grabscreen/internal/media"
)

// Pattern produces synthetic sources: moving colour bars for the screen, a
// bouncing square for the camera and a sine tone for the microphone. It
// needs no devices and is used for dry runs and tests.
type Pattern struct {
	ScreenWidth, ScreenHeight int
	CameraWidth, CameraHeight int
	FPS                       int
	ToneHz                    float64
}

// Acquire never asks for permission; wrap it in a Gate for that.
func (p *Pattern) Acquire(ctx context.Context, req Request) (media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fps := p.FPS
	if fps <= 0 {
		fps = 30
	}
	s := &patternSource{
		kind:     req.Kind,
		interval: time.Second / time.Duration(fps),
		video:    make(chan *media.Frame, 2),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	switch req.Kind {
	case media.KindWebcam:
		s.w, s.h = orDefault(p.CameraWidth, p.CameraHeight, 640, 480)
		tone := p.ToneHz
		if tone <= 0 {
			tone = 440
		}
		s.mic = &pcmTrack{id: "tone", ch: make(chan media.AudioChunk, 16)}
		s.tone = tone
	default:
		s.w, s.h = orDefault(p.ScreenWidth, p.ScreenHeight, 1280, 720)
	}

	s.wg.Add(1)
	go s.runVideo()
	if s.mic != nil {
		s.wg.Add(1)
		go s.runAudio()
	}
	return s, nil
}

func orDefault(w, h, dw, dh int) (int, int) {
	if w <= 0 || h <= 0 {
		return dw, dh
	}
	return w, h
}

type patternSource struct {
	kind     media.Kind
	w, h     int
	interval time.Duration
	tone     float64

	video chan *media.Frame
	mic   *pcmTrack

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *patternSource) Kind() media.Kind           { return s.kind }
func (s *patternSource) Video() <-chan *media.Frame { return s.video }
func (s *patternSource) Size() (int, int)           { return s.w, s.h }
func (s *patternSource) Done() <-chan struct{}      { return s.done }
func (s *patternSource) Err() error                 { return nil }

func (s *patternSource) Audio() []media.AudioTrack {
	if s.mic == nil {
		return nil
	}
	return []media.AudioTrack{s.mic}
}

func (s *patternSource) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		close(s.done)
	})
	return nil
}

var bars = []color.RGBA{
	{R: 235, G: 235, B: 235, A: 255},
	{R: 235, G: 235, B: 16, A: 255},
	{R: 16, G: 235, B: 235, A: 255},
	{R: 16, G: 235, B: 16, A: 255},
	{R: 235, G: 16, B: 235, A: 255},
	{R: 235, G: 16, B: 16, A: 255},
	{R: 16, G: 16, B: 235, A: 255},
}

func (s *patternSource) draw(img *image.RGBA, n int) {
	if s.kind == media.KindWebcam {
		fill(img, img.Rect, color.RGBA{R: 30, G: 30, B: 40, A: 255})
		side := s.h / 4
		span := s.w - side
		x := n * 4 % (2 * span)
		if x > span {
			x = 2*span - x
		}
		fill(img, image.Rect(x, (s.h-side)/2, x+side, (s.h+side)/2), color.RGBA{R: 250, G: 180, B: 40, A: 255})
		return
	}
	shift := n * 2
	for x := 0; x < s.w; x++ {
		c := bars[((x+shift)*len(bars)/s.w)%len(bars)]
		for y := 0; y < s.h; y++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func (s *patternSource) runVideo() {
	defer s.wg.Done()
	defer close(s.video)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for n := 0; ; n++ {
		img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
		s.draw(img, n)
		f := media.NewFrame(img, time.Duration(n)*s.interval, nil)
		select {
		case s.video <- f:
		case <-s.video:
			// Stale frame dropped; this one is sent on the next tick.
		case <-s.stop:
			return
		}
		select {
		case <-t.C:
		case <-s.stop:
			return
		}
	}
}

func (s *patternSource) runAudio() {
	defer s.wg.Done()
	defer close(s.mic.ch)

	const chunk = 20 * time.Millisecond
	t := time.NewTicker(chunk)
	defer t.Stop()
	frames := 0
	per := media.DurationToFrames(chunk)
	for {
		samples := make([]int16, per*media.Channels)
		for i := 0; i < per; i++ {
			v := int16(4000 * math.Sin(2*math.Pi*s.tone*float64(frames+i)/media.SampleRate))
			samples[2*i], samples[2*i+1] = v, v
		}
		c := media.AudioChunk{Samples: samples, PTS: media.FramesToDuration(frames)}
		frames += per
		select {
		case s.mic.ch <- c:
		case <-s.mic.ch:
		case <-s.stop:
			return
		}
		select {
		case <-t.C:
		case <-s.stop:
			return
		}
	}
}
