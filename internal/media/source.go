package media

import "fmt"

// Kind identifies what a Source captures.
type Kind int

const (
	KindScreen Kind = iota
	KindWebcam
)

func (k Kind) String() string {
	switch k {
	case KindScreen:
		return "screen"
	case KindWebcam:
		return "webcam"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AudioTrack is one continuous audio signal of a Source.
type AudioTrack interface {
	// ID identifies the track for logging and mixing
	ID() string

	// Samples yields PCM chunks; the channel closes when the track ends
	Samples() <-chan AudioChunk
}

// Source is a live capture handle: a screen share, or a camera plus microphone.
// A Source is owned by exactly one recording session; everything it holds is
// released by Close.
type Source interface {
	// Kind reports whether this is the screen or the webcam
	Kind() Kind

	// Video returns the frame sequence, or nil for an audio-only source.
	// The channel closes when the video track ends. Receivers own each frame
	// and must Release it.
	Video() <-chan *Frame

	// Audio returns the audio tracks; possibly empty
	Audio() []AudioTrack

	// Size returns the native video resolution, or 0,0 if unknown
	Size() (width, height int)

	// Done is closed when any track of the source has ended, whether by Close
	// or because the platform revoked access
	Done() <-chan struct{}

	// Err reports why the source ended; nil after a clean Close
	Err() error

	// Close stops capture and releases the underlying devices
	Close() error
}

// HasVideo reports whether src carries a video track.
func HasVideo(src Source) bool {
	return src != nil && src.Video() != nil
}
