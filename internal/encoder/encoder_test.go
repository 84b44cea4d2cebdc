package encoder

import (
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grabscreen/grabscreen/internal/media"
	"github.com/grabscreen/grabscreen/internal/media/mediatest"
)

func frameAt(pts time.Duration) *media.Frame {
	return media.NewFrame(mediatest.Solid(32, 18, color.RGBA{R: 200, A: 255}), pts, nil)
}

func silence(d time.Duration, pts time.Duration) media.AudioChunk {
	return media.AudioChunk{Samples: make([]int16, media.DurationToFrames(d)*media.Channels), PTS: pts}
}

func newEncoder(t *testing.T, audio bool) (*Encoder, *ChunkBuffer) {
	t.Helper()
	buf := &ChunkBuffer{}
	e, err := New(buf, Options{Width: 32, Height: 18, FPS: 10, Audio: audio})
	require.NoError(t, err)
	return e, buf
}

func TestEncodeProducesProbeableWebM(t *testing.T) {
	e, buf := newEncoder(t, true)

	for i := 0; i < 10; i++ {
		pts := time.Duration(i) * 100 * time.Millisecond
		require.NoError(t, e.WriteVideo(frameAt(pts)))
		require.NoError(t, e.WriteAudio(silence(100*time.Millisecond, pts)))
	}
	require.NoError(t, e.Close())

	assert.NotEmpty(t, buf.Chunks())
	assert.Equal(t, buf.Len(), len(buf.Bytes()))

	res, err := Probe(buf.Reader())
	require.NoError(t, err)
	assert.Equal(t, 32, res.Width)
	assert.Equal(t, 18, res.Height)
	assert.True(t, res.HasAudio)
	assert.Equal(t, 10, res.Frames)
	assert.InDelta(t, float64(time.Second), float64(res.Duration), float64(50*time.Millisecond))
}

func TestPauseLeavesNoGap(t *testing.T) {
	e, buf := newEncoder(t, false)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.WriteVideo(frameAt(time.Duration(i)*100*time.Millisecond)))
	}
	e.Pause()
	assert.True(t, e.Paused())
	// Frames during the pause are dropped.
	for i := 5; i < 30; i++ {
		require.NoError(t, e.WriteVideo(frameAt(time.Duration(i)*100*time.Millisecond)))
	}
	e.Resume()
	for i := 30; i < 35; i++ {
		require.NoError(t, e.WriteVideo(frameAt(time.Duration(i)*100*time.Millisecond)))
	}
	assert.Equal(t, time.Second, e.Duration())
	require.NoError(t, e.Close())

	res, err := Probe(buf.Reader())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Frames)
	assert.InDelta(t, float64(time.Second), float64(res.Duration), float64(50*time.Millisecond))
}

func TestFirstTimestampStartsAtZero(t *testing.T) {
	e, _ := newEncoder(t, false)
	require.NoError(t, e.WriteVideo(frameAt(3*time.Second)))
	require.NoError(t, e.WriteVideo(frameAt(3*time.Second+100*time.Millisecond)))
	assert.Equal(t, 200*time.Millisecond, e.Duration())
	require.NoError(t, e.Close())
}

func TestWriteAfterCloseFails(t *testing.T) {
	e, _ := newEncoder(t, false)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	err := e.WriteVideo(frameAt(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncoder))
}

func TestAudioIgnoredWithoutAudioTrack(t *testing.T) {
	e, _ := newEncoder(t, false)
	assert.NoError(t, e.WriteAudio(silence(10*time.Millisecond, 0)))
	require.NoError(t, e.Close())
}

func TestInvalidSize(t *testing.T) {
	_, err := New(&ChunkBuffer{}, Options{})
	assert.Error(t, err)
}

func TestPumpReleasesFramesAndStopsWhenInputsClose(t *testing.T) {
	e, buf := newEncoder(t, true)

	video := make(chan *media.Frame, 4)
	audio := make(chan media.AudioChunk, 4)
	released := 0
	for i := 0; i < 3; i++ {
		img := mediatest.Solid(32, 18, color.RGBA{G: 255, A: 255})
		video <- media.NewFrame(img, time.Duration(i)*100*time.Millisecond, func() { released++ })
		audio <- silence(100*time.Millisecond, time.Duration(i)*100*time.Millisecond)
	}
	close(video)
	close(audio)

	require.NoError(t, e.Pump(context.Background(), video, audio))
	assert.Equal(t, 3, released)
	require.NoError(t, e.Close())
	assert.Greater(t, buf.Len(), 0)
}

func TestPumpStopsOnCancel(t *testing.T) {
	e, _ := newEncoder(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Pump(ctx, make(chan *media.Frame), nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, e.Close())
}

func TestChunkBuffer(t *testing.T) {
	var b ChunkBuffer
	n, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, _ = b.Write(nil)
	_, _ = b.Write([]byte("cde"))

	assert.Len(t, b.Chunks(), 2)
	assert.Equal(t, []byte("abcde"), b.Bytes())

	require.NoError(t, b.Close())
	_, err = b.Write([]byte("x"))
	assert.Error(t, err)

	b.Reset()
	assert.Equal(t, 0, b.Len())
	_, err = b.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestEveryVideoBlockDecodesToItsFrame(t *testing.T) {
	e, buf := newEncoder(t, false)

	const n = 60
	want := make([]color.RGBA, n)
	for i := range want {
		want[i] = color.RGBA{R: uint8(i * 4), G: uint8(255 - i*4), B: uint8(i * 2), A: 255}
		f := media.NewFrame(mediatest.Solid(32, 18, want[i]), time.Duration(i)*100*time.Millisecond, nil)
		require.NoError(t, e.WriteVideo(f))
		// Scribble over the source so a block that still aliases it shows up.
		copy(f.Image.Pix, make([]byte, len(f.Image.Pix)))
	}
	require.NoError(t, e.Close())

	var doc struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment"`
	}
	require.NoError(t, ebml.Unmarshal(buf.Reader(), &doc))

	i := 0
	for _, c := range doc.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			if b.TrackNumber != 1 {
				continue
			}
			require.Less(t, i, n)
			require.NotEmpty(t, b.Data)
			img, err := jpeg.Decode(bytes.NewReader(b.Data[0]))
			require.NoError(t, err, "block %d", i)
			r, g, bl, _ := img.At(16, 9).RGBA()
			assert.InDelta(t, float64(want[i].R), float64(r>>8), 12, "block %d red", i)
			assert.InDelta(t, float64(want[i].G), float64(g>>8), 12, "block %d green", i)
			assert.InDelta(t, float64(want[i].B), float64(bl>>8), 12, "block %d blue", i)
			i++
		}
	}
	assert.Equal(t, n, i)
}
