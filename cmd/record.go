package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/grabscreen/grabscreen/config"
	"github.com/grabscreen/grabscreen/internal/capture"
	"github.com/grabscreen/grabscreen/internal/compositor"
	"github.com/grabscreen/grabscreen/internal/library"
	"github.com/grabscreen/grabscreen/internal/media"
	"github.com/grabscreen/grabscreen/internal/overlay"
	"github.com/grabscreen/grabscreen/internal/preview"
	"github.com/grabscreen/grabscreen/internal/session"
	"github.com/grabscreen/grabscreen/internal/util"
)

type recordOptions struct {
	Webcam     bool
	Yes        bool
	Pattern    bool
	Camera     string
	Microphone string
	Duration   time.Duration
	Preview    string
}

func NewRecordCommand() *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen, optionally with webcam and microphone",
		Long: `Record the screen and upload the result. With --webcam the camera is drawn as a
movable overlay and the microphone is mixed in.

Keys while recording: p pause, r resume, o toggle overlay, s stop.
With --preview a live view is served on the given address; drag the overlay there.`,
		Example: `  grabscreen record
  grabscreen record --webcam --camera "FaceTime HD Camera"
  grabscreen record --webcam --preview localhost:8765
  grabscreen record --duration 30s --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.Webcam, "webcam", "w", false, "Add the webcam overlay and microphone")
	flags.BoolVarP(&opts.Yes, "yes", "y", false, "Grant device access without asking")
	flags.BoolVar(&opts.Pattern, "pattern", false, "Record synthetic test sources instead of real devices")
	flags.StringVar(&opts.Camera, "camera", "", "Camera id or label (default from capture.camera)")
	flags.StringVar(&opts.Microphone, "microphone", "", "Microphone id or label (default from capture.microphone)")
	flags.DurationVarP(&opts.Duration, "duration", "d", 0, "Stop automatically after this long")
	flags.StringVar(&opts.Preview, "preview", "", "Serve a live preview on this address (default from preview.addr)")
	return cmd
}

func ffmpegOptions(sw, sh, cw, ch int) capture.FFmpegOptions {
	return capture.FFmpegOptions{
		Path:           config.GetFFmpegPath(),
		ScreenFormat:   config.GetScreenFormat(),
		ScreenInput:    config.GetScreenInput(),
		ScreenWidth:    sw,
		ScreenHeight:   sh,
		CameraFormat:   config.GetCameraFormat(),
		CameraWidth:    cw,
		CameraHeight:   ch,
		AudioFormat:    config.GetAudioFormat(),
		FPS:            config.GetFPS(),
		StartupTimeout: config.GetStartupTimeout(),
		Logger:         util.GetLogger(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildAcquirer picks the capture driver and puts a permission prompt in
// front of it.
func buildAcquirer(ctx context.Context, cmd *cobra.Command, opts *recordOptions) (capture.Acquirer, capture.Selection, error) {
	sel := capture.Selection{
		Camera:     firstNonEmpty(opts.Camera, config.GetCamera()),
		Microphone: firstNonEmpty(opts.Microphone, config.GetMicrophone()),
	}
	sw, sh, err := capture.ParseSize(config.GetScreenSize())
	if err != nil {
		return nil, sel, errors.Wrap(err, "capture.screen_size")
	}
	cw, ch, err := capture.ParseSize(config.GetCameraSize())
	if err != nil {
		return nil, sel, errors.Wrap(err, "capture.camera_size")
	}

	driver := config.GetCaptureDriver()
	if opts.Pattern {
		driver = "pattern"
	}

	var acq capture.Acquirer
	switch driver {
	case "pattern":
		acq = &capture.Pattern{
			ScreenWidth: sw, ScreenHeight: sh,
			CameraWidth: cw, CameraHeight: ch,
			FPS:    config.GetFPS(),
			ToneHz: 440,
		}
	case "ffmpeg":
		ff := capture.NewFFmpeg(ffmpegOptions(sw, sh, cw, ch))
		if opts.Webcam && (sel.Camera != "" || sel.Microphone != "") {
			devs, err := ff.Devices(ctx)
			if err != nil {
				return nil, sel, err
			}
			idx := capture.NewIndex(devs)
			if sel.Camera, err = idx.Resolve(capture.Camera, sel.Camera); err != nil {
				return nil, sel, err
			}
			if sel.Microphone, err = idx.Resolve(capture.Microphone, sel.Microphone); err != nil {
				return nil, sel, err
			}
		}
		acq = ff
	default:
		return nil, sel, errors.Errorf("unknown capture driver %q (want ffmpeg or pattern)", driver)
	}

	var prompter capture.Prompter = capture.AllowAll{}
	if !opts.Yes {
		prompter = &capture.TermPrompter{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
	}
	return &capture.Gate{Acquirer: acq, Prompter: prompter}, sel, nil
}

func sessionOptions(sel capture.Selection) (session.Options, error) {
	mode, err := compositor.ParseMode(config.GetCompositorMode())
	if err != nil {
		return session.Options{}, err
	}
	fw, fh := config.GetFallbackSize()
	return session.Options{
		FPS:            config.GetFPS(),
		FallbackWidth:  fw,
		FallbackHeight: fh,
		JPEGQuality:    config.GetJPEGQuality(),
		CompositorMode: mode,
		Overlay:        overlay.Options{Width: config.GetOverlayWidth(), Margin: config.GetOverlayMargin()},
		Selection:      sel,
		KeepFailed:     config.KeepFailedUploads(),
		SpoolDir:       config.GetSpoolDir(),
	}, nil
}

func runRecord(cmd *cobra.Command, opts *recordOptions) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	logger := util.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acq, sel, err := buildAcquirer(ctx, cmd, opts)
	if err != nil {
		return err
	}
	sopts, err := sessionOptions(sel)
	if err != nil {
		return err
	}

	in, out := cmd.InOrStdin(), cmd.OutOrStdout()
	interactive := isTerminal(in) && isTerminal(out)
	printer := &statusPrinter{out: out, quiet: !interactive}

	var sess *session.Session
	sopts.OnTransition = func(t session.Transition) { printer.transition(t, sess.Status()) }

	deps := session.Deps{Acquirer: acq, Uploader: ws.client, Logger: logger}
	var (
		frames *preview.Broadcaster
		pub    *preview.Publisher
	)
	addr := firstNonEmpty(opts.Preview, config.GetPreviewAddr())
	if addr != "" {
		frames = preview.NewBroadcaster(logger)
		pub = preview.NewPublisher(frames, 0, 0)
		deps.Preview = pub
	}
	sess = session.New(deps, sopts)

	mode := session.ModeScreen
	if opts.Webcam {
		mode = session.ModeCombined
	}
	if err := sess.Arm(ctx, mode); err != nil {
		if errors.Is(err, media.ErrPermissionDenied) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if note := sess.Status().Note; note != "" {
		printer.line("%s %s", color.YellowString("!"), note)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	defer func() {
		cancelRun()
		if err := g.Wait(); err != nil {
			logger.Warn("Preview server stopped with error", "error", err)
		}
	}()
	if frames != nil {
		layout := sess.Layout()
		if layout == nil {
			layout = overlay.New(overlay.Options{})
			layout.SetVisible(false)
		}
		srv := preview.NewServer(layout, frames, sess, logger)
		g.Go(func() error { return srv.Serve(gctx, addr) })
		g.Go(func() error { return pub.Run(gctx) })
		printer.line("Live preview at %s", color.CyanString("http://%s/", addr))
	}

	var keys <-chan byte
	restore := func() {}
	if interactive {
		fd := int(in.(*os.File).Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return errors.Wrap(err, "failed to switch terminal to raw mode")
		}
		var once sync.Once
		restore = func() {
			once.Do(func() {
				term.Restore(fd, oldState)
				printer.setRaw(false)
			})
		}
		defer restore()
		printer.setRaw(true)
		keys = readKeys(in)

		printer.line("Press %s to start recording, %s to cancel", color.New(color.Bold).Sprint("Enter"), color.New(color.Bold).Sprint("c"))
		if !waitForStart(ctx, keys) {
			restore()
			return sess.Cancel()
		}
	}

	if err := sess.Record(ctx); err != nil {
		return err
	}
	if interactive {
		printer.line("Keys: %s pause  %s resume  %s overlay  %s stop", hl("p"), hl("r"), hl("o"), hl("s"))
	}

	res, err := superviseRecording(ctx, sess, keys, opts.Duration, restore, printer)
	restore()
	if err != nil {
		if res != nil && res.SpoolPath != "" {
			printer.line("Recording kept at %s", res.SpoolPath)
		}
		return err
	}

	ws.lib.Add(res.Filename)
	if err := ws.lib.Select(res.Filename); err != nil {
		logger.Warn("Failed to select new recording", "error", err)
	}
	success(out, "Uploaded %s (%s)", res.Filename, library.FormatTime(res.Duration.Seconds()))
	faint(out, "Preview: %s", ws.client.PreviewURL(res.Filename))
	return nil
}

func hl(s string) string {
	return color.New(color.Bold).Sprint(s)
}

// waitForStart blocks until the user starts (true) or cancels (false).
func waitForStart(ctx context.Context, keys <-chan byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case k, ok := <-keys:
			if !ok {
				return false
			}
			switch k {
			case '\r', '\n', 'r':
				return true
			case 'c', 'q', 3, 27:
				return false
			}
		}
	}
}

// superviseRecording routes keys, the duration limit and signals to the
// session until it settles.
func superviseRecording(ctx context.Context, sess *session.Session, keys <-chan byte, limit time.Duration, stopKeys func(), printer *statusPrinter) (*session.Result, error) {
	type outcome struct {
		res *session.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := sess.Wait(context.Background())
		done <- outcome{res, err}
	}()

	var timer <-chan time.Time
	if limit > 0 {
		timer = time.After(limit)
	}
	ctxDone := ctx.Done()

	requestStop := func() {
		stopKeys()
		keys = nil
		if err := sess.Stop(); err != nil && !errors.Is(err, session.ErrIllegalTransition) {
			printer.line("%s %v", color.RedString("✗"), err)
		}
	}

	for {
		select {
		case o := <-done:
			return o.res, o.err
		case <-timer:
			timer = nil
			requestStop()
		case <-ctxDone:
			ctxDone = nil
			requestStop()
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			var err error
			switch k {
			case 'p':
				err = sess.Pause()
			case 'r':
				err = sess.Resume()
			case 'o':
				if l := sess.Layout(); l != nil {
					visible := l.Toggle()
					printer.line("Overlay %s", map[bool]string{true: "shown", false: "hidden"}[visible])
				}
			case 's', 'q', '\r', 3:
				requestStop()
			}
			if err != nil {
				printer.line("%s %v", color.YellowString("!"), err)
			}
		}
	}
}

// readKeys delivers single bytes from r until it fails.
func readKeys(r io.Reader) <-chan byte {
	ch := make(chan byte, 8)
	go func() {
		defer close(ch)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				ch <- buf[0]
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// statusPrinter renders session transitions as the single status line.
type statusPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	raw   bool
	quiet bool
	spin  *util.Spinner
}

func (p *statusPrinter) setRaw(raw bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw = raw
}

func (p *statusPrinter) line(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineLocked(format, a...)
}

func (p *statusPrinter) lineLocked(format string, a ...any) {
	eol := "\n"
	if p.raw {
		eol = "\r\n"
	}
	fmt.Fprintf(p.out, format+eol, a...)
}

func (p *statusPrinter) transition(t session.Transition, st session.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := st.Message
	if t.Reason != "" {
		msg = t.Reason
	}
	if p.spin != nil {
		if t.To == session.StateFinished {
			p.spin.Success(msg)
		} else {
			p.spin.Fail(msg)
		}
		p.spin = nil
		return
	}

	switch t.To {
	case session.StateUploading:
		p.spin = util.NewSpinner(p.out, p.quiet, msg)
	case session.StateFailed:
		p.lineLocked("%s %s", color.RedString("✗"), msg)
	case session.StateRecording:
		p.lineLocked("%s %s", color.RedString("●"), msg)
	case session.StatePaused:
		p.lineLocked("%s %s", color.YellowString("‖"), msg)
	case session.StateIdle:
		p.lineLocked("%s", color.New(color.Faint).Sprint(msg))
	default:
		p.lineLocked("%s", msg)
	}
}
