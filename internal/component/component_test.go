package component_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/component"
	"github.com/zsiec/marquee/internal/decoder"
	"github.com/zsiec/marquee/internal/media"
)

// echoDecoder emits one block per packet at the packet PTS and fails on
// packets whose data is "bad".
type echoDecoder struct {
	flushed int
	fatal   error
}

func (d *echoDecoder) Decode(p *media.Packet) ([]*media.Block, error) {
	if d.fatal != nil {
		return nil, d.fatal
	}
	if string(p.Data) == "bad" {
		return nil, decoder.ErrCorruptPacket
	}
	return []*media.Block{{StreamIndex: p.StreamIndex, Type: media.Video, Start: p.PTS, Duration: p.Duration}}, nil
}
func (d *echoDecoder) Flush()       { d.flushed++ }
func (d *echoDecoder) Close() error { return nil }

var videoDesc = media.StreamDescriptor{Index: 0, Type: media.Video, Codec: codec.H264, FrameRate: 25}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func decodeAll(t *testing.T, c *component.Component) []*media.Block {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []*media.Block
	for {
		blocks, err := c.DecodeNext(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, blocks...)
	}
}

func TestReorderWindowRestoresDisplayOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := component.New(videoDesc, &echoDecoder{}, component.Config{ReorderDepth: 2, BufferCapacity: time.Minute})

	// Decode order of an IPBB pattern.
	for _, pts := range []int{0, 120, 40, 80, 160} {
		require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{PTS: ms(pts)}))
	}
	c.EndOfStream()

	blocks := decodeAll(t, c)
	require.Len(t, blocks, 5)
	for i, b := range blocks {
		assert.Equal(t, ms(i*40), b.Start)
		assert.Equal(t, ms(40), b.Duration, "duration filled from next start or frame rate")
	}
	assert.Equal(t, 5, c.Buffer().Len())
	assert.Equal(t, int64(5), c.Stats().BlocksDecoded)
}

func TestEveryFifthPacketCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	desc := media.StreamDescriptor{Index: 1, Type: media.Audio, Codec: codec.AAC, SampleRate: 48000, Channels: 2}
	dec, err := decoder.Default().New(desc, decoder.Options{})
	require.NoError(t, err)
	c := component.New(desc, dec, component.Config{QueueSize: 128, BufferCapacity: time.Hour})

	frameDur := 1024 * time.Second / 48000
	for i := range 100 {
		data, err := codec.WrapADTS(48000, 2, make([]byte, 16))
		require.NoError(t, err)
		if (i+1)%5 == 0 {
			data = make([]byte, len(data))
		}
		require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{StreamIndex: 1, Type: media.Audio, PTS: time.Duration(i) * frameDur, Data: data}))
	}
	c.EndOfStream()

	blocks := decodeAll(t, c)
	assert.Len(t, blocks, 80)
	st := c.Stats()
	assert.Equal(t, int64(20), st.DecodeErrors)
	assert.Equal(t, int64(100), st.PacketsDecoded)
}

func TestTooManyConsecutiveErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := component.New(videoDesc, &echoDecoder{}, component.Config{MaxConsecutiveErrors: 3})

	for range 3 {
		require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{Data: []byte("bad")}))
	}
	for range 2 {
		_, err := c.DecodeNext(ctx)
		require.NoError(t, err)
	}
	_, err := c.DecodeNext(ctx)
	assert.ErrorIs(t, err, component.ErrTooManyDecodeErrors)
}

func TestSuccessResetsErrorRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := component.New(videoDesc, &echoDecoder{}, component.Config{MaxConsecutiveErrors: 2})
	for _, d := range []string{"bad", "ok", "bad", "ok", "bad"} {
		require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{Data: []byte(d)}))
		_, err := c.DecodeNext(ctx)
		require.NoError(t, err)
	}
}

func TestFatalDecoderError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("device lost")
	c := component.New(videoDesc, &echoDecoder{fatal: boom}, component.Config{})
	require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{}))
	_, err := c.DecodeNext(ctx)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, component.ErrTooManyDecodeErrors)
}

func TestEnqueueBackpressure(t *testing.T) {
	t.Parallel()
	c := component.New(videoDesc, &echoDecoder{}, component.Config{QueueSize: 2})
	ctx := context.Background()
	require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{}))
	require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{}))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := c.EnqueuePacket(short, &media.Packet{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, c.Queued())

	done := make(chan error, 1)
	go func() { done <- c.EnqueuePacket(ctx, &media.Packet{PTS: ms(80)}) }()
	_, err = c.DecodeNext(ctx)
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not unblock after a packet was consumed")
	}
}

func TestFlushDiscardsWithoutEmitting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dec := &echoDecoder{}
	c := component.New(videoDesc, dec, component.Config{ReorderDepth: 3, BufferCapacity: time.Minute})

	for i := range 5 {
		require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{PTS: ms(i * 40)}))
	}
	for range 2 {
		_, err := c.DecodeNext(ctx)
		require.NoError(t, err)
	}
	c.EndOfStream()
	c.Flush()
	assert.Equal(t, 0, c.Queued())
	assert.Equal(t, 1, dec.flushed)

	// EndOfStream is rearmed: with no packets DecodeNext blocks until
	// cancelled instead of reporting EOF.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := c.DecodeNext(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.EnqueuePacket(ctx, &media.Packet{PTS: time.Second}))
	c.EndOfStream()
	blocks := decodeAll(t, c)
	require.Len(t, blocks, 1, "pre-flush window contents must not resurface")
	assert.Equal(t, time.Second, blocks[0].Start)
}

func TestDecodeNextCancelled(t *testing.T) {
	t.Parallel()
	c := component.New(videoDesc, &echoDecoder{}, component.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.DecodeNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
