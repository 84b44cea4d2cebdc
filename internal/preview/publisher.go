package preview

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// DefaultPreviewFPS caps how often the preview is re-encoded.
const DefaultPreviewFPS = 10

// Publisher turns composited frames into JPEG previews. Publish copies the
// frame and returns at once; Run encodes the newest copy at most fps times a
// second, so a slow viewer never holds up recording.
type Publisher struct {
	b        *Broadcaster
	quality  int
	interval time.Duration

	mu      sync.Mutex
	pending *image.RGBA
	spare   *image.RGBA
	ready   chan struct{}
}

// NewPublisher feeds b. fps and quality fall back to defaults when <= 0.
func NewPublisher(b *Broadcaster, fps, quality int) *Publisher {
	if fps <= 0 {
		fps = DefaultPreviewFPS
	}
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	return &Publisher{
		b:        b,
		quality:  quality,
		interval: time.Second / time.Duration(fps),
		ready:    make(chan struct{}, 1),
	}
}

// Publish copies img for the next encode. Nothing is copied while nobody watches.
func (p *Publisher) Publish(img *image.RGBA) {
	if p.b.SubscriberCount() == 0 && p.b.Latest() != nil {
		return
	}

	p.mu.Lock()
	dst := p.spare
	p.spare = nil
	if dst == nil || dst.Bounds() != img.Bounds() {
		dst = image.NewRGBA(img.Bounds())
	}
	copy(dst.Pix, img.Pix)
	p.spare, p.pending = p.pending, dst
	p.mu.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Run encodes pending frames until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.ready:
		}

		if wait := p.interval - time.Since(last); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
		last = time.Now()

		p.mu.Lock()
		img := p.pending
		p.pending = nil
		p.mu.Unlock()
		if img == nil {
			continue
		}

		var buf bytes.Buffer
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality})

		p.mu.Lock()
		if p.spare == nil {
			p.spare = img
		}
		p.mu.Unlock()

		if err != nil {
			p.b.logger.Warn("Failed to encode preview frame", "error", err)
			continue
		}
		p.b.Broadcast(buf.Bytes())
	}
}
