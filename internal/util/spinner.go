package util

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows progress for a blocking step such as an upload. When quiet is
// set (verbose logging, or output is not a terminal) it prints plain lines.
type Spinner struct {
	sp    *spinner.Spinner
	out   io.Writer
	quiet bool
}

// NewSpinner starts a spinner with the given message.
func NewSpinner(out io.Writer, quiet bool, message string) *Spinner {
	s := &Spinner{out: out, quiet: quiet}

	if quiet {
		fmt.Fprintf(out, "%s...\n", message)
		return s
	}

	// dots style
	s.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.sp.Prefix = "  "
	s.sp.Suffix = " " + message
	s.sp.Start()
	return s
}

// Success stops the spinner and prints a success message
func (s *Spinner) Success(message string) {
	s.finish("✓", message)
}

// Fail stops the spinner and prints an error message
func (s *Spinner) Fail(message string) {
	s.finish("✗", message)
}

// Stop stops the spinner without printing anything
func (s *Spinner) Stop() {
	if s.sp != nil {
		s.sp.Stop()
		fmt.Fprint(s.out, "\r\033[K")
	}
}

func (s *Spinner) finish(mark, message string) {
	if s.sp != nil {
		s.sp.Stop()
		fmt.Fprintf(s.out, "\r\033[K  %s %s\n", mark, message)
		return
	}
	fmt.Fprintf(s.out, "%s %s\n", mark, message)
}
