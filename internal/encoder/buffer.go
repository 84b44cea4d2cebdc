package encoder

import (
	"bytes"
	"io"
	"sync"
)

// ChunkBuffer keeps encoded output as the ordered sequence of writes it
// received. The concatenation of all chunks is the recording.
type ChunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
	closed bool
}

// Write appends a copy of p as one chunk.
func (b *ChunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	b.chunks = append(b.chunks, append([]byte(nil), p...))
	b.size += len(p)
	return len(p), nil
}

// Close rejects further writes.
func (b *ChunkBuffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Len returns the total byte count.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Chunks returns the chunks in write order.
func (b *ChunkBuffer) Chunks() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.chunks...)
}

// Bytes concatenates all chunks.
func (b *ChunkBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reader returns a reader over the concatenated chunks.
func (b *ChunkBuffer) Reader() io.Reader {
	return bytes.NewReader(b.Bytes())
}

// Reset drops all chunks and reopens the buffer.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	b.chunks, b.size, b.closed = nil, 0, false
	b.mu.Unlock()
}
