// Package capture opens screen and camera/microphone sources.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/grabscreen/grabscreen/internal/media"
)

// Selection names the devices to open for a webcam request. Empty fields
// mean the platform default.
type Selection struct {
	Camera     string
	Microphone string
}

// Request describes one source to open.
type Request struct {
	Kind media.Kind
	Selection
}

// Acquirer opens live sources. Implementations return
// media.ErrPermissionDenied when the user or platform refuses access and
// media.ErrDeviceUnavailable when no such device exists.
type Acquirer interface {
	Acquire(ctx context.Context, req Request) (media.Source, error)
}

// Prompter asks the user to allow access to a device.
type Prompter interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

// Gate asks a Prompter before every acquisition.
type Gate struct {
	Acquirer Acquirer
	Prompter Prompter
}

// Acquire returns media.ErrPermissionDenied without touching the device when
// the prompt is refused.
func (g *Gate) Acquire(ctx context.Context, req Request) (media.Source, error) {
	if g.Prompter != nil {
		ok, err := g.Prompter.Confirm(ctx, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(media.ErrPermissionDenied, "%s access refused", req.Kind)
		}
	}
	return g.Acquirer.Acquire(ctx, req)
}

// AllowAll grants every request.
type AllowAll struct{}

func (AllowAll) Confirm(context.Context, Request) (bool, error) { return true, nil }

// TermPrompter asks on a terminal and reads a y/n answer.
type TermPrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func (p *TermPrompter) Confirm(ctx context.Context, req Request) (bool, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	what := "your screen"
	if req.Kind == media.KindWebcam {
		what = "your camera and microphone"
	}
	fmt.Fprintf(p.Out, "Allow grabscreen to record %s? [y/N] ", what)

	answer := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		if err != nil && line == "" {
			errc <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errc:
		if err == io.EOF {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to read answer")
	case line := <-answer:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}

// ParseSize parses "WxH".
func ParseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, errors.Errorf("invalid size %q, want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, errors.Errorf("invalid width in %q", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, errors.Errorf("invalid height in %q", s)
	}
	return w, h, nil
}
