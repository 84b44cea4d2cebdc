package util

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LineWriter forwards everything written to it to a slog logger, one record
// per line. It is used to capture the stderr of helper processes such as ffmpeg.
type LineWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	buf    bytes.Buffer
	tail   []string
	keep   int
}

// NewLineWriter returns a LineWriter that logs at level and remembers the
// last keep lines for error reporting.
func NewLineWriter(logger *slog.Logger, level slog.Level, keep int) *LineWriter {
	return &LineWriter{logger: logger, level: level, keep: keep}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err == io.EOF {
			// Partial line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

// Tail returns the last lines seen, oldest first.
func (w *LineWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.tail, "\n")
}

func (w *LineWriter) emit(line string) {
	if line == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, line)
	if w.keep <= 0 {
		return
	}
	w.tail = append(w.tail, line)
	if len(w.tail) > w.keep {
		w.tail = w.tail[len(w.tail)-w.keep:]
	}
}
