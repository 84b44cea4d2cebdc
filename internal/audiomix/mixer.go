// Package audiomix sums live PCM tracks into one output track.
package audiomix

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/grabscreen/grabscreen/internal/media"
)

// DefaultMaxLag bounds how far one input may run ahead of another before the
// slower one is treated as silent for the difference.
const DefaultMaxLag = 200 * time.Millisecond

// Options configures a Mixer.
type Options struct {
	MaxLag time.Duration
	Logger *slog.Logger
}

type input struct {
	id      string
	pending []int16
	ended   bool
}

type chunkEvent struct {
	in    *input
	chunk media.AudioChunk
	eof   bool
}

// Mixer sums its inputs sample by sample without normalization. With a
// single input the output equals the input.
type Mixer struct {
	logger    *slog.Logger
	lagFrames int

	mu     sync.Mutex
	inputs []*input
	added  chan media.AudioTrack
	count  int

	events chan chunkEvent
	out    chan media.AudioChunk
	frames int
}

// New returns an idle mixer; call Run to start it.
func New(opts Options) *Mixer {
	if opts.MaxLag <= 0 {
		opts.MaxLag = DefaultMaxLag
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mixer{
		logger:    opts.Logger.With("component", "audiomix"),
		lagFrames: media.DurationToFrames(opts.MaxLag),
		added:     make(chan media.AudioTrack, 16),
		events:    make(chan chunkEvent, 16),
		out:       make(chan media.AudioChunk, 16),
	}
}

// Add connects a live track. It may be called before or while Run executes;
// a track added mid-recording joins the mix from its first chunk on.
func (m *Mixer) Add(t media.AudioTrack) {
	m.added <- t
}

// Inputs returns how many tracks Run has connected so far.
func (m *Mixer) Inputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Output delivers mixed chunks; closed when Run returns.
func (m *Mixer) Output() <-chan media.AudioChunk {
	return m.out
}

// Run mixes until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) error {
	defer close(m.out)

	var wg sync.WaitGroup
	defer wg.Wait()

	connect := func(t media.AudioTrack) {
		in := &input{id: t.ID()}
		m.inputs = append(m.inputs, in)
		m.mu.Lock()
		m.count++
		m.mu.Unlock()
		m.logger.Info("Audio track connected", "track", in.id, "inputs", len(m.inputs))
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.read(ctx, in, t.Samples())
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-m.added:
			connect(t)
		case ev := <-m.events:
			// Tracks queued before this chunk take part in its mix.
			for drained := false; !drained; {
				select {
				case t := <-m.added:
					connect(t)
				default:
					drained = true
				}
			}
			if ev.eof {
				ev.in.ended = true
				m.logger.Info("Audio track ended", "track", ev.in.id)
			} else {
				ev.in.pending = append(ev.in.pending, ev.chunk.Samples...)
			}
			if err := m.mix(ctx); err != nil {
				return nil
			}
		}
	}
}

func (m *Mixer) read(ctx context.Context, in *input, samples <-chan media.AudioChunk) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-samples:
			ev := chunkEvent{in: in, chunk: c, eof: !ok}
			select {
			case m.events <- ev:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
		}
	}
}

// mix emits as many frames as every live input can contribute, or more when
// an input is lagging beyond the bound.
func (m *Mixer) mix(ctx context.Context) error {
	n, maxPending := math.MaxInt, 0
	live := 0
	for _, in := range m.inputs {
		f := len(in.pending) / media.Channels
		if f > maxPending {
			maxPending = f
		}
		if !in.ended {
			live++
			if f < n {
				n = f
			}
		}
	}
	if live == 0 {
		n = maxPending
	}
	if lag := maxPending - m.lagFrames; lag > n {
		n = lag
	}

	if n > 0 {
		if err := m.emit(ctx, n); err != nil {
			return err
		}
	}

	kept := m.inputs[:0]
	for _, in := range m.inputs {
		if in.ended && len(in.pending) == 0 {
			continue
		}
		kept = append(kept, in)
	}
	m.inputs = kept
	return nil
}

func (m *Mixer) emit(ctx context.Context, n int) error {
	size := n * media.Channels
	var out []int16

	if len(m.inputs) == 1 && len(m.inputs[0].pending) >= size {
		in := m.inputs[0]
		out = append([]int16(nil), in.pending[:size]...)
		in.pending = in.pending[size:]
	} else {
		acc := make([]int32, size)
		for _, in := range m.inputs {
			k := min(size, len(in.pending))
			for i := 0; i < k; i++ {
				acc[i] += int32(in.pending[i])
			}
			in.pending = in.pending[k:]
		}
		out = make([]int16, size)
		for i, v := range acc {
			out[i] = saturate(v)
		}
	}

	chunk := media.AudioChunk{Samples: out, PTS: media.FramesToDuration(m.frames)}
	m.frames += n
	select {
	case m.out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func saturate(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
