package compositor

import (
	"sync"

	"github.com/grabscreen/grabscreen/internal/media"
)

// slot holds the most recent frame of one source. Storing a new frame
// releases the previous one, so at most one frame per source is ever held.
type slot struct {
	mu      sync.Mutex
	cur     *media.Frame
	fresh   bool
	dropped uint64
}

// put replaces the current frame. A frame that was replaced before it was
// drawn even once counts as dropped.
func (s *slot) put(f *media.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		if s.fresh {
			s.dropped++
		}
		s.cur.Release()
	}
	s.cur = f
	s.fresh = true
}

// with calls fn with the current frame (possibly nil) while holding the slot,
// so the frame cannot be released mid-draw.
func (s *slot) with(fn func(f *media.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.cur)
	if s.cur != nil {
		s.fresh = false
	}
}

func (s *slot) has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

func (s *slot) droppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *slot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	s.fresh = false
}
