package capture

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grabscreen/grabscreen/internal/media"
)

type recordingAcquirer struct {
	calls []Request
}

func (a *recordingAcquirer) Acquire(_ context.Context, req Request) (media.Source, error) {
	a.calls = append(a.calls, req)
	return (&Pattern{ScreenWidth: 4, ScreenHeight: 4}).Acquire(context.Background(), req)
}

type answer bool

func (a answer) Confirm(context.Context, Request) (bool, error) { return bool(a), nil }

func TestGateRefusalNeverTouchesDevice(t *testing.T) {
	inner := &recordingAcquirer{}
	g := &Gate{Acquirer: inner, Prompter: answer(false)}

	src, err := g.Acquire(context.Background(), Request{Kind: media.KindScreen})
	assert.Nil(t, src)
	assert.True(t, errors.Is(err, media.ErrPermissionDenied))
	assert.Empty(t, inner.calls)
}

func TestGateGrant(t *testing.T) {
	inner := &recordingAcquirer{}
	g := &Gate{Acquirer: inner, Prompter: AllowAll{}}

	src, err := g.Acquire(context.Background(), Request{Kind: media.KindScreen})
	require.NoError(t, err)
	defer src.Close()
	assert.Len(t, inner.calls, 1)
}

func TestTermPrompter(t *testing.T) {
	var out bytes.Buffer
	p := &TermPrompter{In: strings.NewReader("y\nno\n"), Out: &out}

	ok, err := p.Confirm(context.Background(), Request{Kind: media.KindScreen})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "your screen")

	ok, err = p.Confirm(context.Background(), Request{Kind: media.KindWebcam})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "camera and microphone")

	// EOF counts as a refusal.
	ok, err = p.Confirm(context.Background(), Request{Kind: media.KindWebcam})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseSize(t *testing.T) {
	w, h, err := ParseSize("1920x1080")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	for _, bad := range []string{"", "1920", "0x10", "ax10", "10x-1"} {
		_, _, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestScreenArgsPerFormat(t *testing.T) {
	f := NewFFmpeg(FFmpegOptions{ScreenFormat: "x11grab", ScreenInput: ":1.0", ScreenWidth: 800, ScreenHeight: 600, FPS: 15})
	args := strings.Join(f.screenArgs(), " ")
	assert.Contains(t, args, "-f x11grab -framerate 15 -video_size 800x600 -i :1.0")
	assert.True(t, strings.HasSuffix(args, "-vf scale=800:600 -pix_fmt rgba -f rawvideo pipe:1"))

	f = NewFFmpeg(FFmpegOptions{ScreenFormat: "avfoundation", ScreenInput: ":0.0"})
	assert.Contains(t, strings.Join(f.screenArgs(), " "), "-i Capture screen 0")

	f = NewFFmpeg(FFmpegOptions{ScreenFormat: "gdigrab"})
	assert.Contains(t, strings.Join(f.screenArgs(), " "), "-f gdigrab -framerate 30 -i desktop")
}

func TestWebcamArgsPerFormat(t *testing.T) {
	f := NewFFmpeg(FFmpegOptions{CameraFormat: "v4l2", AudioFormat: "pulse"})
	assert.Contains(t, strings.Join(f.cameraArgs(""), " "), "-f v4l2 -framerate 30 -i /dev/video0")
	mic := strings.Join(f.microphoneArgs("alsa_input.usb"), " ")
	assert.Contains(t, mic, "-f pulse -i alsa_input.usb")
	assert.True(t, strings.HasSuffix(mic, "-ac 2 -ar 48000 -f s16le pipe:1"))

	f = NewFFmpeg(FFmpegOptions{CameraFormat: "dshow", AudioFormat: "dshow"})
	assert.Contains(t, f.cameraArgs("USB Cam"), "video=USB Cam")
	assert.Contains(t, f.microphoneArgs("Mic (USB)"), "audio=Mic (USB)")

	f = NewFFmpeg(FFmpegOptions{CameraFormat: "avfoundation", AudioFormat: "avfoundation"})
	assert.Contains(t, f.cameraArgs("1"), "1:none")
	assert.Contains(t, f.microphoneArgs(""), "none:0")
}

func TestClassify(t *testing.T) {
	err := classify("screen", "Cannot open display :0.0, error 1.\nPermission denied", nil)
	assert.True(t, errors.Is(err, media.ErrPermissionDenied))

	err = classify("camera", "/dev/video0: No such file or directory", errors.New("exit status 1"))
	assert.True(t, errors.Is(err, media.ErrDeviceUnavailable))
	assert.Contains(t, err.Error(), "No such file")

	err = classify("camera", "", errors.New("exit status 1"))
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestParseSources(t *testing.T) {
	out := `Auto-detected sources for pulse:
  alsa_output.pci-0000_00_1f.3.analog-stereo.monitor [Monitor of Built-in Audio Analog Stereo]
* alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]
`
	devs := parseSources(out, Microphone)
	require.Len(t, devs, 1)
	assert.Equal(t, Device{Kind: Microphone, ID: "alsa_input.pci-0000_00_1f.3.analog-stereo", Label: "Built-in Audio Analog Stereo", Default: true}, devs[0])

	out = "Auto-detected sources for v4l2:\n* /dev/video0 [Integrated Camera: Integrated C]\n  /dev/video2 [USB Cam]\n"
	devs = parseSources(out, Camera)
	require.Len(t, devs, 2)
	assert.Equal(t, "/dev/video2", devs[1].ID)
	assert.False(t, devs[1].Default)
}

func TestParseAVFoundation(t *testing.T) {
	out := `[AVFoundation indev @ 0x7f9] AVFoundation video devices:
[AVFoundation indev @ 0x7f9] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7f9] [1] Capture screen 0
[AVFoundation indev @ 0x7f9] AVFoundation audio devices:
[AVFoundation indev @ 0x7f9] [0] MacBook Pro Microphone
: Input/output error`

	cams := parseAVFoundation(out, Camera)
	require.Len(t, cams, 1)
	assert.Equal(t, "FaceTime HD Camera", cams[0].Label)
	assert.Equal(t, "0", cams[0].ID)

	mics := parseAVFoundation(out, Microphone)
	require.Len(t, mics, 1)
	assert.Equal(t, "MacBook Pro Microphone", mics[0].Label)
}

func TestParseDShow(t *testing.T) {
	out := `[dshow @ 0000021] "Integrated Camera" (video)
[dshow @ 0000021]   Alternative name "@device_pnp_\\?\usb"
[dshow @ 0000021] "Microphone Array (Realtek(R) Audio)" (audio)`

	cams := parseDShow(out, Camera)
	require.Len(t, cams, 1)
	assert.Equal(t, "Integrated Camera", cams[0].ID)

	mics := parseDShow(out, Microphone)
	require.Len(t, mics, 1)
	assert.Equal(t, "Microphone Array (Realtek(R) Audio)", mics[0].Label)
}

func TestIndexResolve(t *testing.T) {
	idx := NewIndex([]Device{
		{Kind: Camera, ID: "/dev/video0", Label: "Integrated Camera"},
		{Kind: Camera, ID: "/dev/video2", Label: "USB Cam"},
		{Kind: Microphone, ID: "alsa_input.usb", Label: "USB Mic"},
	})

	id, err := idx.Resolve(Camera, "USB Cam")
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", id)

	id, err = idx.Resolve(Camera, "/dev/video0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", id)

	id, err = idx.Resolve(Microphone, "")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = idx.Resolve(Microphone, "USB Cam")
	assert.Error(t, err)

	assert.Equal(t, "USB Mic", idx.Label(Microphone, "alsa_input.usb"))
	assert.Equal(t, "unknown", idx.Label(Microphone, "unknown"))
}

func TestPatternSources(t *testing.T) {
	p := &Pattern{ScreenWidth: 32, ScreenHeight: 18, CameraWidth: 16, CameraHeight: 12, FPS: 100}

	screen, err := p.Acquire(context.Background(), Request{Kind: media.KindScreen})
	require.NoError(t, err)
	w, h := screen.Size()
	assert.Equal(t, 32, w)
	assert.Equal(t, 18, h)
	assert.Empty(t, screen.Audio())

	f := <-screen.Video()
	assert.Equal(t, 32, f.Width())
	f.Release()

	cam, err := p.Acquire(context.Background(), Request{Kind: media.KindWebcam})
	require.NoError(t, err)
	require.Len(t, cam.Audio(), 1)
	c := <-cam.Audio()[0].Samples()
	assert.Equal(t, media.DurationToFrames(20*time.Millisecond), c.Frames())

	require.NoError(t, screen.Close())
	require.NoError(t, cam.Close())
	<-screen.Done()
	assert.NoError(t, screen.Err())

	// Channels are closed once the source is.
	for range screen.Video() {
	}
}

func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestProcSourceEndsWhenProcessExits(t *testing.T) {
	// Four 2x2 RGBA frames, then the device disappears.
	path := fakeFFmpeg(t, "head -c 64 /dev/zero\nsleep 0.1")
	f := NewFFmpeg(FFmpegOptions{Path: path, ScreenWidth: 2, ScreenHeight: 2, StartupTimeout: 5 * time.Second})

	src, err := f.Acquire(context.Background(), Request{Kind: media.KindScreen})
	require.NoError(t, err)

	frames := 0
	for fr := range src.Video() {
		frames++
		fr.Release()
	}
	<-src.Done()
	assert.GreaterOrEqual(t, frames, 1)
	assert.True(t, errors.Is(src.Err(), media.ErrSourceEnded))
	assert.NoError(t, src.Close())
}

func TestProcSourcePermissionDenied(t *testing.T) {
	path := fakeFFmpeg(t, "echo 'x11grab: Permission denied' >&2\nexit 1")
	f := NewFFmpeg(FFmpegOptions{Path: path, ScreenWidth: 2, ScreenHeight: 2})

	src, err := f.Acquire(context.Background(), Request{Kind: media.KindScreen})
	assert.Nil(t, src)
	assert.True(t, errors.Is(err, media.ErrPermissionDenied), "got %v", err)
}

func TestProcSourceCloseIsClean(t *testing.T) {
	path := fakeFFmpeg(t, "exec cat /dev/zero")
	f := NewFFmpeg(FFmpegOptions{Path: path, ScreenWidth: 2, ScreenHeight: 2})

	src, err := f.Acquire(context.Background(), Request{Kind: media.KindScreen})
	require.NoError(t, err)
	require.NoError(t, src.Close())
	<-src.Done()
	assert.NoError(t, src.Err())
}

func TestMissingBinary(t *testing.T) {
	f := NewFFmpeg(FFmpegOptions{Path: filepath.Join(t.TempDir(), "nope")})
	_, err := f.Acquire(context.Background(), Request{Kind: media.KindScreen})
	assert.True(t, errors.Is(err, media.ErrDeviceUnavailable), "got %v", err)
}
