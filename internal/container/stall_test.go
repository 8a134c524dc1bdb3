package container

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpStallsThenRecovers(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	p := newPump(pr, 20*time.Millisecond)
	defer p.Close()

	buf := make([]byte, 8)
	_, err := p.Read(buf)
	require.ErrorIs(t, err, ErrStalled)
	assert.True(t, IsTransient(err))

	go func() { _, _ = pw.Write([]byte("hello, world")) }()
	var got []byte
	for len(got) < len("hello, world") {
		n, err := p.Read(buf)
		if errors.Is(err, ErrStalled) {
			continue
		}
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "hello, world", string(got))

	require.NoError(t, pw.Close())
	for {
		_, err = p.Read(buf)
		if !errors.Is(err, ErrStalled) {
			break
		}
	}
	assert.ErrorIs(t, err, io.EOF)
	_, err = p.Read(buf)
	assert.ErrorIs(t, err, io.EOF, "the terminal error is sticky")
}

func TestPumpCloseUnblocksReader(t *testing.T) {
	t.Parallel()
	pr, _ := io.Pipe()
	p := newPump(pr, time.Second)
	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
