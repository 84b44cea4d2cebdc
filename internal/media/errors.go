package media

import "errors"

var (
	// ErrPermissionDenied means the user declined a capture prompt.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrDeviceUnavailable means a camera or microphone could not be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrSourceEnded means a live track stopped without being asked to.
	ErrSourceEnded = errors.New("capture source ended")
)
