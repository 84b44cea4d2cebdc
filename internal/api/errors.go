package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidFilename rejects names that could escape the recordings directory.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrInvalidRange rejects a trim whose start is not before its end.
	ErrInvalidRange = errors.New("start time must be less than end time")
	// ErrMissingFields rejects a form with empty required fields.
	ErrMissingFields = errors.New("please fill out all fields")
)

// APIError is a failure reported by the server. Message carries the server's
// own error text when it sent one.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("request failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return "request failed"
}

// NotFound reports a 404 from the server.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}

// asUploadError keeps the server's text and falls back to a generic message.
func asUploadError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message == "" {
		return &APIError{StatusCode: apiErr.StatusCode, Message: "Upload failed", Body: apiErr.Body}
	}
	return err
}

// ValidateFilename rejects empty names, path traversal and absolute paths.
func ValidateFilename(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.Wrap(ErrInvalidFilename, "empty name")
	case strings.Contains(name, ".."), strings.HasPrefix(name, "/"), strings.Contains(name, "\\"):
		return errors.Wrapf(ErrInvalidFilename, "%q", name)
	}
	return nil
}

// ValidateRange checks a trim range in seconds.
func ValidateRange(start, end float64) error {
	if start < 0 || end <= start {
		return errors.Wrapf(ErrInvalidRange, "start=%.2f end=%.2f", start, end)
	}
	return nil
}
