package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/grabscreen/grabscreen/internal/media"
)

// FFmpegOptions configures device capture through an ffmpeg child process.
type FFmpegOptions struct {
	Path string

	ScreenFormat string
	ScreenInput  string
	ScreenWidth  int
	ScreenHeight int

	CameraFormat string
	CameraWidth  int
	CameraHeight int
	AudioFormat  string

	FPS            int
	StartupTimeout time.Duration
	Logger         *slog.Logger
}

// FFmpeg acquires sources by running one ffmpeg process per stream and
// reading raw frames from its stdout.
type FFmpeg struct {
	opts   FFmpegOptions
	logger *slog.Logger
}

// NewFFmpeg fills in defaults for unset options.
func NewFFmpeg(opts FFmpegOptions) *FFmpeg {
	if opts.Path == "" {
		opts.Path = "ffmpeg"
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.ScreenWidth <= 0 || opts.ScreenHeight <= 0 {
		opts.ScreenWidth, opts.ScreenHeight = 1920, 1080
	}
	if opts.CameraWidth <= 0 || opts.CameraHeight <= 0 {
		opts.CameraWidth, opts.CameraHeight = 640, 480
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FFmpeg{opts: opts, logger: opts.Logger.With("component", "capture")}
}

// Acquire starts the processes for req and returns once every stream has
// delivered data.
func (f *FFmpeg) Acquire(ctx context.Context, req Request) (media.Source, error) {
	var streams []stream
	switch req.Kind {
	case media.KindScreen:
		streams = append(streams, stream{
			name:   "screen",
			video:  true,
			width:  f.opts.ScreenWidth,
			height: f.opts.ScreenHeight,
			args:   f.screenArgs(),
		})
	case media.KindWebcam:
		streams = append(streams,
			stream{
				name:   "camera",
				video:  true,
				width:  f.opts.CameraWidth,
				height: f.opts.CameraHeight,
				args:   f.cameraArgs(req.Camera),
			},
			stream{
				name: "microphone",
				args: f.microphoneArgs(req.Microphone),
			},
		)
	default:
		return nil, errors.Errorf("unsupported source kind %v", req.Kind)
	}

	src := newProcSource(req.Kind, f.opts.Path, streams, f.logger)
	if err := src.start(ctx, f.opts.StartupTimeout); err != nil {
		return nil, err
	}
	return src, nil
}

func (f *FFmpeg) scaleFilter(w, h int) string {
	return fmt.Sprintf("scale=%d:%d", w, h)
}

func (f *FFmpeg) videoOutput(w, h int) []string {
	return []string{
		"-vf", f.scaleFilter(w, h),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	}
}

func commonArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
}

func (f *FFmpeg) screenArgs() []string {
	fps := strconv.Itoa(f.opts.FPS)
	args := commonArgs()
	switch f.opts.ScreenFormat {
	case "avfoundation":
		input := f.opts.ScreenInput
		if input == "" || strings.HasPrefix(input, ":") {
			input = "Capture screen 0"
		}
		args = append(args, "-f", "avfoundation", "-framerate", fps, "-capture_cursor", "1", "-i", input)
	case "gdigrab":
		input := f.opts.ScreenInput
		if input == "" || strings.HasPrefix(input, ":") {
			input = "desktop"
		}
		args = append(args, "-f", "gdigrab", "-framerate", fps, "-i", input)
	default:
		input := f.opts.ScreenInput
		if input == "" {
			input = ":0.0"
		}
		args = append(args, "-f", "x11grab", "-framerate", fps,
			"-video_size", fmt.Sprintf("%dx%d", f.opts.ScreenWidth, f.opts.ScreenHeight), "-i", input)
	}
	return append(args, f.videoOutput(f.opts.ScreenWidth, f.opts.ScreenHeight)...)
}

func (f *FFmpeg) cameraArgs(device string) []string {
	fps := strconv.Itoa(f.opts.FPS)
	args := commonArgs()
	switch f.opts.CameraFormat {
	case "avfoundation":
		if device == "" {
			device = "0"
		}
		args = append(args, "-f", "avfoundation", "-framerate", fps, "-i", device+":none")
	case "dshow":
		if device == "" {
			device = "Integrated Camera"
		}
		args = append(args, "-f", "dshow", "-i", "video="+device)
	default:
		if device == "" {
			device = "/dev/video0"
		}
		args = append(args, "-f", "v4l2", "-framerate", fps, "-i", device)
	}
	return append(args, f.videoOutput(f.opts.CameraWidth, f.opts.CameraHeight)...)
}

func (f *FFmpeg) microphoneArgs(device string) []string {
	args := commonArgs()
	switch f.opts.AudioFormat {
	case "avfoundation":
		if device == "" {
			device = "0"
		}
		args = append(args, "-f", "avfoundation", "-i", "none:"+device)
	case "dshow":
		if device == "" {
			device = "Microphone"
		}
		args = append(args, "-f", "dshow", "-i", "audio="+device)
	case "alsa":
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "alsa", "-i", device)
	default:
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "pulse", "-i", device)
	}
	return append(args,
		"-ac", strconv.Itoa(media.Channels),
		"-ar", strconv.Itoa(media.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
}

// classify maps ffmpeg's last stderr lines to the capture error taxonomy.
func classify(name, stderr string, cause error) error {
	text := strings.ToLower(stderr)
	detail := strings.TrimSpace(stderr)
	if detail == "" && cause != nil {
		detail = cause.Error()
	}
	for _, s := range []string{"permission denied", "not permitted", "not authorized", "access denied", "tcc"} {
		if strings.Contains(text, s) {
			return errors.Wrapf(media.ErrPermissionDenied, "%s: %s", name, detail)
		}
	}
	return errors.Wrapf(media.ErrDeviceUnavailable, "%s: %s", name, detail)
}
