package container

import (
	"io"
	"time"
)

const pumpChunkSize = 32 * 1024

type chunk struct {
	data []byte
	err  error
}

// pump reads a network body on its own goroutine so a Read can give up
// after the stall window without losing data: bytes that arrive later are
// returned by the next Read.
type pump struct {
	rc      io.ReadCloser
	stall   time.Duration
	ch      chan chunk
	pending []byte
	err     error
	quit    chan struct{}
	done    chan struct{}
}

func newPump(rc io.ReadCloser, stall time.Duration) *pump {
	p := &pump{
		rc:    rc,
		stall: stall,
		ch:    make(chan chunk, 16),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pump) run() {
	defer close(p.done)
	for {
		buf := make([]byte, pumpChunkSize)
		n, err := p.rc.Read(buf)
		if n > 0 {
			select {
			case p.ch <- chunk{data: buf[:n]}:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			select {
			case p.ch <- chunk{err: err}:
			case <-p.quit:
			}
			return
		}
	}
}

func (p *pump) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	if p.err != nil {
		return 0, p.err
	}
	t := time.NewTimer(p.stall)
	defer t.Stop()
	select {
	case c := <-p.ch:
		if c.err != nil {
			p.err = c.err
			return 0, c.err
		}
		n := copy(b, c.data)
		p.pending = c.data[n:]
		return n, nil
	case <-t.C:
		return 0, ErrStalled
	}
}

// Close stops the pump and closes the body, which unblocks a pending read.
func (p *pump) Close() error {
	close(p.quit)
	err := p.rc.Close()
	<-p.done
	return err
}
