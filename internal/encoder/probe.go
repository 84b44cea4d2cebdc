package encoder

import (
	"io"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pkg/errors"
)

// ProbeResult describes a finished recording.
type ProbeResult struct {
	Duration time.Duration
	Width    int
	Height   int
	Frames   int
	HasAudio bool
}

// Probe parses a WebM stream and measures its duration from block
// timestamps. Containers from other muxers work as long as they use a
// cluster layout.
func Probe(r io.Reader) (*ProbeResult, error) {
	var doc struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment"`
	}
	if err := ebml.Unmarshal(r, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse webm")
	}
	if doc.Header.DocType != "webm" && doc.Header.DocType != "matroska" {
		return nil, errors.Errorf("unexpected doc type %q", doc.Header.DocType)
	}

	scale := doc.Segment.Info.TimecodeScale
	if scale == 0 {
		scale = uint64(time.Millisecond)
	}

	res := &ProbeResult{}
	blockDur := map[uint64]time.Duration{}
	for _, t := range doc.Segment.Tracks.TrackEntry {
		blockDur[t.TrackNumber] = time.Duration(t.DefaultDuration)
		if t.Video != nil && res.Width == 0 {
			res.Width, res.Height = int(t.Video.PixelWidth), int(t.Video.PixelHeight)
		}
		if t.Audio != nil {
			res.HasAudio = true
		}
	}

	for _, c := range doc.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			ts := time.Duration(int64(c.Timecode)+int64(b.Timecode)) * time.Duration(scale)
			if end := ts + blockDur[b.TrackNumber]; end > res.Duration {
				res.Duration = end
			}
			if blockDur[b.TrackNumber] > 0 {
				res.Frames++
			}
		}
	}
	if res.Duration == 0 && doc.Segment.Info.Duration > 0 {
		res.Duration = time.Duration(doc.Segment.Info.Duration * float64(scale))
	}
	return res, nil
}
