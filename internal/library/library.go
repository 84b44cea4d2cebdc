// Package library keeps the local view of a session's recordings: the grid of
// files, the active selection and the durations needed to trim them.
package library

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/keymutex"

	"github.com/grabscreen/grabscreen/internal/api"
	"github.com/grabscreen/grabscreen/internal/encoder"
)

// ErrUnknownDuration is returned when a trim is requested before the
// recording's length could be determined.
var ErrUnknownDuration = errors.New("recording duration is not known yet")

// ErrOutOfRange is returned when a trim ends past the recording.
var ErrOutOfRange = errors.New("trim range exceeds the recording")

// Remote is the part of the API the library needs.
type Remote interface {
	Files(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Clip(ctx context.Context, name string, start, end float64) (string, error)
	Download(ctx context.Context, name string, w io.Writer) (int64, error)
}

// Selection persists the active file.
type Selection interface {
	ActiveFile() string
	SetActiveFile(name string) error
}

// Item is one grid entry.
type Item struct {
	Name    string `json:"name"`
	Display string `json:"display"`
	Active  bool   `json:"active"`
}

// Library is safe for concurrent use.
type Library struct {
	remote Remote
	sel    Selection
	logger *slog.Logger

	fileLock keymutex.KeyMutex

	mu        sync.Mutex
	grid      []string
	durations map[string]time.Duration
}

// New returns an empty library; call Refresh to load the server's list.
func New(remote Remote, sel Selection, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		remote:    remote,
		sel:       sel,
		logger:    logger.With("component", "library"),
		fileLock:  keymutex.NewHashed(64),
		durations: make(map[string]time.Duration),
	}
}

// Refresh replaces the grid with the server's list, newest first. A stale
// selection is cleared.
func (l *Library) Refresh(ctx context.Context) ([]Item, error) {
	files, err := l.remote.Files(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recordings")
	}

	grid := make([]string, 0, len(files))
	for i := len(files) - 1; i >= 0; i-- {
		if !slices.Contains(grid, files[i]) {
			grid = append(grid, files[i])
		}
	}

	l.mu.Lock()
	l.grid = grid
	l.mu.Unlock()

	if active := l.Active(); active != "" && !slices.Contains(grid, active) {
		l.logger.Debug("Clearing stale selection", "file", active)
		if err := l.sel.SetActiveFile(""); err != nil {
			return nil, err
		}
	}
	return l.Items(), nil
}

// Add puts name at the front of the grid unless it is already there.
func (l *Library) Add(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Contains(l.grid, name) {
		return false
	}
	l.grid = slices.Insert(l.grid, 0, name)
	return true
}

// Items returns the grid in display order.
func (l *Library) Items() []Item {
	active := l.Active()
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]Item, len(l.grid))
	for i, name := range l.grid {
		items[i] = Item{Name: name, Display: DisplayName(name), Active: name == active}
	}
	return items
}

// Has reports whether name is in the grid.
func (l *Library) Has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.grid, name)
}

// Active returns the selected file, or "".
func (l *Library) Active() string {
	return l.sel.ActiveFile()
}

// Select makes name the active file. An empty name clears the selection.
func (l *Library) Select(name string) error {
	if name != "" {
		if err := api.ValidateFilename(name); err != nil {
			return err
		}
		if !l.Has(name) {
			return errors.Errorf("%s is not in this session", name)
		}
	}
	return l.sel.SetActiveFile(name)
}

// Delete removes name on the server and from the grid. Calls for the same
// file are serialized, and a file the server no longer has counts as
// deleted, so repeating a delete changes local state only once. removed
// reports whether this call took the entry out of the grid.
func (l *Library) Delete(ctx context.Context, name string) (removed bool, err error) {
	if err := api.ValidateFilename(name); err != nil {
		return false, err
	}

	l.fileLock.LockKey(name)
	defer func() {
		_ = l.fileLock.UnlockKey(name)
	}()

	if err := l.remote.Delete(ctx, name); err != nil {
		if !api.IsNotFound(err) {
			return false, err
		}
		l.logger.Debug("Already deleted on server", "file", name)
	}

	l.mu.Lock()
	if i := slices.Index(l.grid, name); i >= 0 {
		l.grid = slices.Delete(l.grid, i, i+1)
		removed = true
	}
	delete(l.durations, name)
	l.mu.Unlock()

	if l.Active() == name {
		if err := l.sel.SetActiveFile(""); err != nil {
			return removed, err
		}
	}
	if removed {
		l.logger.Info("Recording deleted", "file", name)
	}
	return removed, nil
}

// Duration downloads name once and reads its length from the container.
func (l *Library) Duration(ctx context.Context, name string) (time.Duration, error) {
	l.mu.Lock()
	d, ok := l.durations[name]
	l.mu.Unlock()
	if ok {
		return d, nil
	}

	var buf bytes.Buffer
	if _, err := l.remote.Download(ctx, name, &buf); err != nil {
		return 0, errors.Wrapf(err, "failed to fetch %s", name)
	}
	info, err := encoder.Probe(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return 0, errors.Wrapf(ErrUnknownDuration, "%s: %v", name, err)
	}
	if info.Duration <= 0 {
		return 0, errors.Wrap(ErrUnknownDuration, name)
	}

	l.mu.Lock()
	l.durations[name] = info.Duration
	l.mu.Unlock()
	return info.Duration, nil
}

// SetDuration records a known length, e.g. right after recording.
func (l *Library) SetDuration(name string, d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.durations[name] = d
	l.mu.Unlock()
}

// Trim cuts name to [start, end] seconds on the server. The range is checked
// before any network call, then against the recording's length. The new clip
// joins the grid.
func (l *Library) Trim(ctx context.Context, name string, start, end float64) (string, error) {
	if err := api.ValidateRange(start, end); err != nil {
		return "", err
	}
	if err := api.ValidateFilename(name); err != nil {
		return "", err
	}

	d, err := l.Duration(ctx, name)
	if err != nil {
		return "", err
	}
	// Durations are rounded to container ticks; allow one frame of slack.
	if end > d.Seconds()+0.05 {
		return "", errors.Wrapf(ErrOutOfRange, "end %s is past %s", FormatTime(end), FormatTime(d.Seconds()))
	}

	clip, err := l.remote.Clip(ctx, name, start, end)
	if err != nil {
		return "", err
	}
	l.Add(clip)
	l.SetDuration(clip, time.Duration((end-start)*float64(time.Second)))
	l.logger.Info("Recording trimmed", "file", name, "clip", clip, "start", start, "end", end)
	return clip, nil
}

// FormatTime renders seconds as mm:ss; non-finite values render as 00:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00"
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// DisplayName is the name shown in the grid.
func DisplayName(name string) string {
	return strings.TrimPrefix(name, "recording_")
}
