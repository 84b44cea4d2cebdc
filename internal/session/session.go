// Package session runs one recording from permission prompts to upload.
package session

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/grabscreen/grabscreen/internal/capture"
	"github.com/grabscreen/grabscreen/internal/compositor"
	"github.com/grabscreen/grabscreen/internal/media"
	"github.com/grabscreen/grabscreen/internal/overlay"
)

// Mode selects what gets recorded.
type Mode string

const (
	// ModeScreen records the screen source directly.
	ModeScreen Mode = "screen"
	// ModeCombined composites the camera over the screen and mixes audio.
	ModeCombined Mode = "combined"
)

// ParseMode accepts "screen" or "combined".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeScreen, ModeCombined:
		return Mode(s), nil
	default:
		return "", errors.Errorf("unknown recording mode %q", s)
	}
}

// Uploader sends a finished recording and returns the stored filename.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader) (string, error)
}

// FrameSink receives every recorded frame, e.g. for a live preview. It must
// not keep img after returning.
type FrameSink interface {
	Publish(img *image.RGBA)
}

// Deps are the collaborators of a session.
type Deps struct {
	Acquirer capture.Acquirer
	Uploader Uploader
	Preview  FrameSink
	Logger   *slog.Logger
}

// Options tune the recording pipeline.
type Options struct {
	FPS            int
	FallbackWidth  int
	FallbackHeight int
	JPEGQuality    int
	CompositorMode compositor.Mode
	Overlay        overlay.Options
	Selection      capture.Selection

	// KeepFailed writes recordings that could not be uploaded to SpoolDir.
	KeepFailed bool
	SpoolDir   string

	// NewTicker overrides the compositor clock.
	NewTicker func(time.Duration) compositor.Ticker

	// OnTransition is called after every state change, outside any lock.
	OnTransition func(Transition)
}

// Result describes how a recording ended.
type Result struct {
	ID        string
	Filename  string
	Duration  time.Duration
	Size      int
	SpoolPath string
}

// Status is a snapshot for the single status line.
type Status struct {
	ID      string
	State   State
	Mode    Mode
	Message string
	Note    string
	Elapsed time.Duration
	Frames  uint64
	Dropped uint64
}

// Session owns its sources from acquisition until it settles.
type Session struct {
	id     string
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	history   []Transition
	message   string
	note      string
	mode      Mode
	screen    media.Source
	webcam    media.Source
	layout    *overlay.Layout
	armCancel context.CancelFunc
	pipe      *pipeline
	settled   chan struct{}
	result    *Result
	err       error
}

// New returns an idle session.
func New(deps Deps, opts Options) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.FPS <= 0 {
		opts.FPS = compositor.DefaultFPS
	}
	id := uuid.NewString()
	settled := make(chan struct{})
	close(settled)
	return &Session{
		id:      id,
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger.With("component", "session", "session_id", id),
		state:   StateIdle,
		message: "Ready",
		settled: settled,
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns every transition so far, oldest first.
func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// Layout returns the overlay layout of a combined recording, or nil.
func (s *Session) Layout() *overlay.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// Status returns the current status line.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{ID: s.id, State: s.state, Mode: s.mode, Message: s.message, Note: s.note}
	if s.pipe != nil {
		st.Elapsed = s.pipe.enc.Duration()
		es := s.pipe.enc.Stats()
		st.Frames, st.Dropped = es.Frames, es.Dropped
	}
	return st
}

// fire applies ev. With the lock held, it returns the transition to report
// once the caller has unlocked.
func (s *Session) fireLocked(ev Event, message string) (Transition, error) {
	to, err := Next(s.state, ev)
	if err != nil {
		return Transition{}, err
	}
	t := Transition{From: s.state, Event: ev, To: to, Reason: message, At: time.Now()}
	s.state = to
	s.history = append(s.history, t)
	if message == "" {
		message = defaultMessage(to)
	}
	s.message = message

	s.logger.Info("Session transition", "from", t.From, "event", ev, "to", to, "message", message)
	if !to.Active() {
		select {
		case <-s.settled:
		default:
			close(s.settled)
		}
	}
	return t, nil
}

func (s *Session) fire(ev Event, message string) error {
	s.mu.Lock()
	t, err := s.fireLocked(ev, message)
	s.mu.Unlock()
	if err == nil {
		s.notify(t)
	}
	return err
}

func (s *Session) notify(t Transition) {
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(t)
	}
}

func defaultMessage(st State) string {
	switch st {
	case StateIdle:
		return "Ready"
	case StateAwaitingPermission:
		return "Waiting for permission"
	case StateArmed:
		return "Ready to record"
	case StateRecording:
		return "Recording"
	case StatePaused:
		return "Paused"
	case StateStopping:
		return "Finalizing recording"
	case StateUploading:
		return "Uploading"
	case StateFinished:
		return "Uploaded"
	default:
		return "Recording failed"
	}
}

// Start arms the session and begins recording immediately.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	if err := s.Arm(ctx, mode); err != nil {
		return err
	}
	return s.Record(ctx)
}

// Arm asks for permission and acquires every source mode needs. A refusal
// returns the session to idle with status "cancelled" and releases whatever
// was acquired.
func (s *Session) Arm(ctx context.Context, mode Mode) error {
	if mode != ModeScreen && mode != ModeCombined {
		return errors.Errorf("unknown recording mode %q", mode)
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	t, err := s.fireLocked(EventStart, "")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mode = mode
	s.note = ""
	s.result, s.err = nil, nil
	s.settled = make(chan struct{})
	s.armCancel = cancel
	s.mu.Unlock()
	s.notify(t)

	screen, err := s.deps.Acquirer.Acquire(actx, capture.Request{Kind: media.KindScreen})
	if err != nil {
		return s.abortArm(err, nil)
	}

	var webcam media.Source
	note := ""
	if mode == ModeCombined {
		webcam, err = s.deps.Acquirer.Acquire(actx, capture.Request{Kind: media.KindWebcam, Selection: s.opts.Selection})
		switch {
		case err == nil:
		case errors.Is(err, media.ErrDeviceUnavailable):
			note = "No camera or microphone available, recording the screen only"
			s.logger.Warn("Webcam unavailable, continuing without it", "error", err)
			webcam = nil
		default:
			return s.abortArm(err, screen)
		}
	}

	if err := actx.Err(); err != nil {
		s.releaseSources(webcam)
		return s.abortArm(err, screen)
	}

	s.mu.Lock()
	s.armCancel = nil
	s.screen, s.webcam = screen, webcam
	s.note = note
	if mode == ModeCombined {
		s.layout = overlay.New(s.opts.Overlay)
		if webcam != nil {
			if w, h := webcam.Size(); w > 0 && h > 0 {
				s.layout.SetAspectRatio(w, h)
			}
		}
	}
	t, err = s.fireLocked(EventGranted, "")
	s.mu.Unlock()
	if err != nil {
		// Cancelled while the last prompt was answered.
		s.releaseSources(screen, webcam)
		return err
	}
	s.notify(t)
	return nil
}

// abortArm releases partial acquisitions and leaves awaiting-permission.
func (s *Session) abortArm(err error, acquired media.Source) error {
	s.releaseSources(acquired)

	s.mu.Lock()
	s.armCancel = nil
	var (
		t    Transition
		ferr error
	)
	if errors.Is(err, media.ErrPermissionDenied) || errors.Is(err, context.Canceled) {
		s.logger.Info("Recording not started", "reason", err)
		t, ferr = s.fireLocked(EventDenied, ReasonCancelled)
		err = errors.Wrap(err, ReasonCancelled)
	} else {
		t, ferr = s.fireLocked(EventAcquireFailed, err.Error())
		s.err = err
	}
	s.mu.Unlock()
	if ferr == nil {
		s.notify(t)
	}
	return err
}

func (s *Session) releaseSources(srcs ...media.Source) {
	for _, src := range srcs {
		if src == nil {
			continue
		}
		if err := src.Close(); err != nil {
			s.logger.Warn("Failed to release source", "kind", src.Kind(), "error", err)
		}
	}
}

// takeSources detaches the session's sources for release.
func (s *Session) takeSourcesLocked() []media.Source {
	srcs := []media.Source{s.screen, s.webcam}
	s.screen, s.webcam = nil, nil
	return srcs
}

// Cancel abandons a start that has not begun recording.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state == StateAwaitingPermission && s.armCancel != nil {
		// Arm observes the cancellation and returns to idle itself.
		s.armCancel()
		s.mu.Unlock()
		return nil
	}
	t, err := s.fireLocked(EventCancel, ReasonCancelled)
	var srcs []media.Source
	if err == nil {
		srcs = s.takeSourcesLocked()
		s.layout = nil
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.releaseSources(srcs...)
	s.notify(t)
	return nil
}

// SwitchDevices re-acquires the webcam with a new selection. It is only
// allowed while armed; the old webcam is kept if the new one cannot be opened.
func (s *Session) SwitchDevices(ctx context.Context, sel capture.Selection) error {
	s.mu.Lock()
	switch s.state {
	case StateArmed:
	case StateRecording, StatePaused:
		s.mu.Unlock()
		return ErrDeviceSwitchWhileRecording
	default:
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrIllegalTransition, "state=%s event=%s", st, EventSwitchDevices)
	}
	if s.mode != ModeCombined {
		s.mu.Unlock()
		return errors.New("screen-only recordings have no camera to switch")
	}
	s.mu.Unlock()

	webcam, err := s.deps.Acquirer.Acquire(ctx, capture.Request{Kind: media.KindWebcam, Selection: sel})
	if err != nil {
		return errors.Wrap(err, "failed to switch devices")
	}

	s.mu.Lock()
	t, err := s.fireLocked(EventSwitchDevices, "Devices switched")
	if err != nil {
		s.mu.Unlock()
		s.releaseSources(webcam)
		return err
	}
	old := s.webcam
	s.webcam = webcam
	s.note = ""
	s.opts.Selection = sel
	if w, h := webcam.Size(); w > 0 && h > 0 && s.layout != nil {
		s.layout.SetAspectRatio(w, h)
	}
	s.mu.Unlock()

	s.releaseSources(old)
	s.notify(t)
	return nil
}

// Pause stops feeding the encoder; recording time does not advance.
func (s *Session) Pause() error {
	s.mu.Lock()
	t, err := s.fireLocked(EventPause, "")
	if err == nil {
		s.pipe.enc.Pause()
	}
	s.mu.Unlock()
	if err == nil {
		s.notify(t)
	}
	return err
}

// Resume continues a paused recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	t, err := s.fireLocked(EventResume, "")
	if err == nil {
		s.pipe.enc.Resume()
	}
	s.mu.Unlock()
	if err == nil {
		s.notify(t)
	}
	return err
}

// Stop ends the recording. Finalization and upload continue in the
// background; use Wait for the outcome.
func (s *Session) Stop() error {
	return s.beginStop(EventStop, "")
}

func (s *Session) beginStop(ev Event, message string) error {
	s.mu.Lock()
	t, err := s.fireLocked(ev, message)
	var p *pipeline
	if err == nil {
		p = s.pipe
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(t)
	p.stopProducers()
	return nil
}

// Wait blocks until the session settles in idle, finished or failed.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	settled := s.settled
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-settled:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}
