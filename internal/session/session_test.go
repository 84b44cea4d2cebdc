package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grabscreen/grabscreen/internal/capture"
	"github.com/grabscreen/grabscreen/internal/compositor"
	"github.com/grabscreen/grabscreen/internal/encoder"
	"github.com/grabscreen/grabscreen/internal/media"
	"github.com/grabscreen/grabscreen/internal/media/mediatest"
	"github.com/grabscreen/grabscreen/internal/overlay"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAcquirer struct {
	mu       sync.Mutex
	requests []capture.Request
	open     func(req capture.Request) (media.Source, error)
}

func (a *fakeAcquirer) Acquire(_ context.Context, req capture.Request) (media.Source, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return a.open(req)
}

func (a *fakeAcquirer) kinds() []media.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []media.Kind
	for _, r := range a.requests {
		out = append(out, r.Kind)
	}
	return out
}

func sources(screen, webcam media.Source, screenErr, webcamErr error) func(capture.Request) (media.Source, error) {
	return func(req capture.Request) (media.Source, error) {
		if req.Kind == media.KindScreen {
			if screenErr != nil {
				return nil, screenErr
			}
			return screen, nil
		}
		if webcamErr != nil {
			return nil, webcamErr
		}
		return webcam, nil
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	data  []byte
	name  string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.data = b
	return u.name, u.err
}

func (u *fakeUploader) snapshot() (int, []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.data
}

type fixture struct {
	screen   *mediatest.Source
	webcam   *mediatest.Source
	mic      *mediatest.Track
	acq      *fakeAcquirer
	up       *fakeUploader
	ticker   *mediatest.ManualTicker
	session  *Session
	spoolDir string
}

func newFixture(t *testing.T, screenErr, webcamErr error) *fixture {
	t.Helper()
	f := &fixture{
		screen:   mediatest.NewSource(media.KindScreen, 64, 36),
		mic:      mediatest.NewTrack("mic", 16),
		up:       &fakeUploader{name: "recording_20240101_120000.webm"},
		ticker:   mediatest.NewManualTicker(),
		spoolDir: t.TempDir(),
	}
	f.webcam = mediatest.NewSource(media.KindWebcam, 32, 18, f.mic)
	f.acq = &fakeAcquirer{open: sources(f.screen, f.webcam, screenErr, webcamErr)}
	f.session = New(Deps{Acquirer: f.acq, Uploader: f.up}, Options{
		FPS:        10,
		KeepFailed: true,
		SpoolDir:   f.spoolDir,
		NewTicker:  func(time.Duration) compositor.Ticker { return f.ticker },
	})
	return f
}

func (f *fixture) wait(t *testing.T) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.session.Wait(ctx)
}

func states(h []Transition) []State {
	out := []State{}
	for _, t := range h {
		out = append(out, t.To)
	}
	return out
}

func TestCombinedRecordingEndToEnd(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.session.Start(ctx, ModeCombined))
	assert.Equal(t, StateRecording, f.session.State())
	require.NotNil(t, f.session.Layout())

	f.screen.PushFrame(color.RGBA{R: 255, A: 255}, 0)
	f.webcam.PushFrame(color.RGBA{G: 255, A: 255}, 0)
	for i := 0; i < 5; i++ {
		f.mic.Push(media.AudioChunk{Samples: make([]int16, 960), PTS: time.Duration(i) * 10 * time.Millisecond})
		f.ticker.Tick()
	}

	require.NoError(t, f.session.Stop())
	res, err := f.wait(t)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "recording_20240101_120000.webm", res.Filename)

	assert.Equal(t, []State{
		StateAwaitingPermission, StateArmed, StateRecording, StateStopping, StateUploading, StateFinished,
	}, states(f.session.History()))
	assert.Equal(t, StateFinished, f.session.State())
	assert.Equal(t, "Uploaded as recording_20240101_120000.webm", f.session.Status().Message)

	calls, data := f.up.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, res.Size, len(data))
	probe, err := encoder.Probe(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, probe.Width)
	assert.True(t, probe.HasAudio)
	assert.InDelta(t, 5, probe.Frames, 1)

	assert.True(t, f.screen.Closed())
	assert.True(t, f.webcam.Closed())
	assert.Equal(t, []media.Kind{media.KindScreen, media.KindWebcam}, f.acq.kinds())
}

func TestOverlayAnchoredBottomRightWhenRecording(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.session = New(Deps{Acquirer: f.acq, Uploader: f.up}, Options{
		FPS:       10,
		Overlay:   overlay.Options{Width: 0.25, Margin: 0.02},
		NewTicker: func(time.Duration) compositor.Ticker { return f.ticker },
	})

	require.NoError(t, f.session.Start(context.Background(), ModeCombined))
	r := f.session.Layout().Snapshot().RectIn(64, 36)
	assert.Equal(t, image.Rect(47, 26, 63, 35), r)

	f.ticker.Tick()
	require.NoError(t, f.session.Stop())
	_, err := f.wait(t)
	require.NoError(t, err)
}

func TestScreenOnlyNeverAcquiresWebcam(t *testing.T) {
	f := newFixture(t, nil, nil)

	require.NoError(t, f.session.Start(context.Background(), ModeScreen))
	assert.Nil(t, f.session.Layout())
	for i := 0; i < 3; i++ {
		f.screen.PushFrame(color.RGBA{B: 255, A: 255}, time.Duration(i)*100*time.Millisecond)
	}
	require.Eventually(t, func() bool { return f.screen.Released() >= 2 }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.session.Stop())

	_, err := f.wait(t)
	require.NoError(t, err)
	assert.Equal(t, []media.Kind{media.KindScreen}, f.acq.kinds())
	assert.False(t, f.webcam.Closed())
	calls, _ := f.up.snapshot()
	assert.Equal(t, 1, calls)
}

func TestDeniedScreenPermissionReturnsToIdle(t *testing.T) {
	f := newFixture(t, errors.Wrap(media.ErrPermissionDenied, "screen access refused"), nil)

	err := f.session.Start(context.Background(), ModeCombined)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrPermissionDenied))

	assert.Equal(t, StateIdle, f.session.State())
	assert.Equal(t, ReasonCancelled, f.session.Status().Message)
	assert.Equal(t, []media.Kind{media.KindScreen}, f.acq.kinds())
	calls, _ := f.up.snapshot()
	assert.Zero(t, calls)

	// Settled, and startable again.
	_, err = f.wait(t)
	assert.NoError(t, err)
	f.acq.open = sources(f.screen, f.webcam, nil, nil)
	require.NoError(t, f.session.Arm(context.Background(), ModeScreen))
	require.NoError(t, f.session.Cancel())
	assert.True(t, f.screen.Closed())
}

func TestDeniedWebcamReleasesScreen(t *testing.T) {
	f := newFixture(t, nil, media.ErrPermissionDenied)

	err := f.session.Arm(context.Background(), ModeCombined)
	require.Error(t, err)
	assert.Equal(t, StateIdle, f.session.State())
	assert.Equal(t, ReasonCancelled, f.session.Status().Message)
	assert.True(t, f.screen.Closed(), "partially acquired screen released")
}

func TestUnavailableWebcamDegradesToScreenOnly(t *testing.T) {
	f := newFixture(t, nil, media.ErrDeviceUnavailable)

	require.NoError(t, f.session.Arm(context.Background(), ModeCombined))
	assert.Equal(t, StateArmed, f.session.State())
	assert.NotEmpty(t, f.session.Status().Note)

	require.NoError(t, f.session.Record(context.Background()))
	f.ticker.Tick()
	require.NoError(t, f.session.Stop())
	_, err := f.wait(t)
	require.NoError(t, err)
	assert.Equal(t, StateFinished, f.session.State())
}

func TestAcquireFailureFails(t *testing.T) {
	f := newFixture(t, errors.New("display server gone"), nil)

	err := f.session.Arm(context.Background(), ModeScreen)
	require.Error(t, err)
	assert.Equal(t, StateFailed, f.session.State())
	assert.Contains(t, f.session.Status().Message, "display server gone")

	_, err = f.wait(t)
	assert.Error(t, err)
	assert.True(t, errors.Is(f.session.Arm(context.Background(), ModeScreen), ErrIllegalTransition))
}

func TestIllegalTransitions(t *testing.T) {
	f := newFixture(t, nil, nil)

	assert.True(t, errors.Is(f.session.Pause(), ErrIllegalTransition))
	assert.True(t, errors.Is(f.session.Stop(), ErrIllegalTransition))
	assert.True(t, errors.Is(f.session.Record(context.Background()), ErrIllegalTransition))

	require.NoError(t, f.session.Arm(context.Background(), ModeScreen))
	assert.True(t, errors.Is(f.session.Resume(), ErrIllegalTransition))
	assert.True(t, errors.Is(f.session.Stop(), ErrIllegalTransition))
	assert.True(t, errors.Is(f.session.Arm(context.Background(), ModeScreen), ErrIllegalTransition))
	require.NoError(t, f.session.Cancel())
	assert.Equal(t, StateIdle, f.session.State())
}

func TestTerminalStatesAbsorbEverything(t *testing.T) {
	events := []Event{
		EventStart, EventGranted, EventDenied, EventAcquireFailed, EventRecord, EventCancel,
		EventSwitchDevices, EventEncoderFailed, EventPause, EventResume, EventStop, EventSourceEnded,
		EventFinalized, EventFinalizeFailed, EventUploaded, EventUploadFailed,
	}
	for _, st := range []State{StateFinished, StateFailed} {
		for _, ev := range events {
			_, err := Next(st, ev)
			assert.True(t, errors.Is(err, ErrIllegalTransition), "%s/%s", st, ev)
		}
	}

	to, err := Next(StatePaused, EventResume)
	require.NoError(t, err)
	assert.Equal(t, StateRecording, to)
}

func TestSourceEndAutoStops(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.session.Start(context.Background(), ModeCombined))
	f.ticker.Tick()

	f.webcam.Revoke()
	_, err := f.wait(t)
	require.NoError(t, err)

	var sawSourceEnded bool
	for _, tr := range f.session.History() {
		if tr.Event == EventSourceEnded {
			sawSourceEnded = true
			assert.Equal(t, StateStopping, tr.To)
		}
	}
	assert.True(t, sawSourceEnded)
	assert.Equal(t, StateFinished, f.session.State())
	calls, _ := f.up.snapshot()
	assert.Equal(t, 1, calls)
}

func TestPauseDropsFrames(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.session.Start(context.Background(), ModeCombined))

	tick := func(n int) {
		for i := 0; i < n; i++ {
			f.ticker.Tick()
		}
	}
	tick(3)
	require.Eventually(t, func() bool { return f.session.Status().Frames == 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.session.Pause())
	assert.Equal(t, StatePaused, f.session.State())
	tick(5)
	require.Eventually(t, func() bool { return f.session.Status().Dropped == 5 }, 2*time.Second, time.Millisecond)
	elapsed := f.session.Status().Elapsed
	require.NoError(t, f.session.Resume())
	assert.Equal(t, 300*time.Millisecond, elapsed, "time does not advance while paused")
	tick(3)
	require.NoError(t, f.session.Stop())

	_, err := f.wait(t)
	require.NoError(t, err)
	_, data := f.up.snapshot()
	probe, err := encoder.Probe(bytes.NewReader(data))
	require.NoError(t, err)
	assert.InDelta(t, 6, probe.Frames, 1)
}

func TestUploadFailureSpoolsRecording(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.up.err = errors.New("Upload failed: disk full")

	require.NoError(t, f.session.Start(context.Background(), ModeScreen))
	f.screen.PushFrame(color.RGBA{A: 255}, 0)
	require.Eventually(t, func() bool { return f.session.Status().Elapsed > 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.session.Stop())

	res, err := f.wait(t)
	require.Error(t, err)
	assert.Equal(t, StateFailed, f.session.State())
	assert.Contains(t, f.session.Status().Message, "disk full")
	require.NotNil(t, res)
	require.NotEmpty(t, res.SpoolPath)

	kept, rerr := os.ReadFile(res.SpoolPath)
	require.NoError(t, rerr)
	_, data := f.up.snapshot()
	assert.Equal(t, data, kept)
	calls, _ := f.up.snapshot()
	assert.Equal(t, 1, calls, "no retry")
	assert.True(t, f.screen.Closed())
}

func TestSwitchDevices(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.session.Arm(context.Background(), ModeCombined))

	replacement := mediatest.NewSource(media.KindWebcam, 40, 30)
	f.acq.open = sources(f.screen, replacement, nil, nil)
	require.NoError(t, f.session.SwitchDevices(context.Background(), capture.Selection{Camera: "/dev/video2"}))
	assert.True(t, f.webcam.Closed())
	assert.False(t, replacement.Closed())
	assert.InDelta(t, 4.0/3.0, f.session.Layout().AspectRatio(), 1e-9)
	assert.Equal(t, StateArmed, f.session.State())

	require.NoError(t, f.session.Record(context.Background()))
	err := f.session.SwitchDevices(context.Background(), capture.Selection{})
	assert.True(t, errors.Is(err, ErrDeviceSwitchWhileRecording))

	require.NoError(t, f.session.Stop())
	_, err = f.wait(t)
	require.NoError(t, err)
	assert.True(t, replacement.Closed())
}

func TestCancelWhileAwaitingPermission(t *testing.T) {
	screen := mediatest.NewSource(media.KindScreen, 8, 8)
	entered := make(chan struct{})
	acq := &fakeAcquirer{open: nil}
	s := New(Deps{Acquirer: acq, Uploader: &fakeUploader{}}, Options{})

	blocking := &blockingAcquirer{entered: entered, src: screen}
	s.deps.Acquirer = blocking

	errc := make(chan error, 1)
	go func() { errc <- s.Arm(context.Background(), ModeScreen) }()
	<-entered
	assert.Equal(t, StateAwaitingPermission, s.State())
	require.NoError(t, s.Cancel())

	err := <-errc
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, ReasonCancelled, s.Status().Message)
}

type blockingAcquirer struct {
	entered chan struct{}
	src     media.Source
}

func (a *blockingAcquirer) Acquire(ctx context.Context, _ capture.Request) (media.Source, error) {
	close(a.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("combined")
	require.NoError(t, err)
	assert.Equal(t, ModeCombined, m)
	_, err = ParseMode("webcam")
	assert.Error(t, err)
}
