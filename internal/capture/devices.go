package capture

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/vishalkuo/bimap"
)

// DeviceKind distinguishes cameras from microphones.
type DeviceKind string

const (
	Camera     DeviceKind = "camera"
	Microphone DeviceKind = "microphone"
)

// Device is one capture device as ffmpeg names it.
type Device struct {
	Kind    DeviceKind
	ID      string
	Label   string
	Default bool
}

// Devices lists cameras and microphones for the configured input formats.
func (f *FFmpeg) Devices(ctx context.Context) ([]Device, error) {
	var devs []Device

	cams, err := f.list(ctx, f.opts.CameraFormat, Camera)
	if err != nil {
		return nil, err
	}
	devs = append(devs, cams...)

	mics, err := f.list(ctx, f.opts.AudioFormat, Microphone)
	if err != nil {
		return nil, err
	}
	return append(devs, mics...), nil
}

func (f *FFmpeg) list(ctx context.Context, format string, kind DeviceKind) ([]Device, error) {
	var args []string
	switch format {
	case "avfoundation":
		args = []string{"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""}
	case "dshow":
		args = []string{"-hide_banner", "-list_devices", "true", "-f", "dshow", "-i", "dummy"}
	default:
		args = []string{"-hide_banner", "-sources", format}
	}

	// Listing exits non-zero on most platforms; only the output matters.
	out, err := exec.CommandContext(ctx, f.opts.Path, args...).CombinedOutput()
	if errors.Is(err, exec.ErrNotFound) {
		return nil, errors.Wrapf(err, "ffmpeg not found at %q", f.opts.Path)
	}
	f.logger.Debug("Listed devices", "format", format, "kind", kind, "error", err)

	switch format {
	case "avfoundation":
		return parseAVFoundation(string(out), kind), nil
	case "dshow":
		return parseDShow(string(out), kind), nil
	default:
		return parseSources(string(out), kind), nil
	}
}

var sourceLine = regexp.MustCompile(`^(\*?)\s*(\S+)\s+\[(.*)\]\s*$`)

// parseSources reads the output of "ffmpeg -sources <format>".
func parseSources(out string, kind DeviceKind) []Device {
	var devs []Device
	for _, line := range strings.Split(out, "\n") {
		m := sourceLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		// Monitors are the speakers, not a microphone.
		if kind == Microphone && strings.HasSuffix(m[2], ".monitor") {
			continue
		}
		devs = append(devs, Device{Kind: kind, ID: m[2], Label: m[3], Default: m[1] == "*"})
	}
	return devs
}

var avfLine = regexp.MustCompile(`\]\s+\[(\d+)\]\s+(.+)$`)

// parseAVFoundation reads "-f avfoundation -list_devices true" output.
func parseAVFoundation(out string, kind DeviceKind) []Device {
	var devs []Device
	section := ""
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.Contains(line, "video devices:"):
			section = string(Camera)
			continue
		case strings.Contains(line, "audio devices:"):
			section = string(Microphone)
			continue
		}
		if section != string(kind) {
			continue
		}
		m := avfLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.HasPrefix(m[2], "Capture screen") {
			continue
		}
		devs = append(devs, Device{Kind: kind, ID: m[1], Label: m[2], Default: len(devs) == 0})
	}
	return devs
}

var dshowLine = regexp.MustCompile(`"([^"]+)"\s+\((video|audio)\)`)

// parseDShow reads "-list_devices true -f dshow" output.
func parseDShow(out string, kind DeviceKind) []Device {
	want := "video"
	if kind == Microphone {
		want = "audio"
	}
	var devs []Device
	for _, line := range strings.Split(out, "\n") {
		m := dshowLine.FindStringSubmatch(line)
		if m == nil || m[2] != want {
			continue
		}
		devs = append(devs, Device{Kind: kind, ID: m[1], Label: m[1], Default: len(devs) == 0})
	}
	return devs
}

// Index resolves user input that may be either a device id or its label.
type Index struct {
	byKind map[DeviceKind]*bimap.BiMap[string, string]
}

// NewIndex indexes devs by id and label.
func NewIndex(devs []Device) *Index {
	idx := &Index{byKind: map[DeviceKind]*bimap.BiMap[string, string]{
		Camera:     bimap.NewBiMap[string, string](),
		Microphone: bimap.NewBiMap[string, string](),
	}}
	for _, d := range devs {
		m, ok := idx.byKind[d.Kind]
		if !ok {
			continue
		}
		// First label wins when two devices share one.
		if _, taken := m.GetInverse(d.Label); taken {
			m.Insert(d.ID, d.ID)
			continue
		}
		m.Insert(d.ID, d.Label)
	}
	return idx
}

// Resolve returns the device id for s. An empty s resolves to "" (default).
func (i *Index) Resolve(kind DeviceKind, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	m, ok := i.byKind[kind]
	if !ok {
		return "", errors.Errorf("unknown device kind %q", kind)
	}
	if _, ok := m.Get(s); ok {
		return s, nil
	}
	if id, ok := m.GetInverse(s); ok {
		return id, nil
	}
	return "", errors.Errorf("no %s named %q", kind, s)
}

// Label returns the display name of id.
func (i *Index) Label(kind DeviceKind, id string) string {
	if m, ok := i.byKind[kind]; ok {
		if label, ok := m.Get(id); ok {
			return label
		}
	}
	return id
}
