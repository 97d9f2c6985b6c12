package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Pipe frames messages over a byte stream with a little-endian uint32
// length prefix, as used when the host is driven over stdio pipes.
type Pipe struct {
	r      io.Reader
	w      io.Writer
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewPipe creates a Pipe over the given reader/writer pair.
func NewPipe(r io.Reader, w io.Writer) *Pipe {
	return &Pipe{r: r, w: w}
}

// Send writes one length-prefixed frame.
func (p *Pipe) Send(frame []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(frame)))

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.w.Write(hdr[:]); err != nil {
		p.closed.Store(true)
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := p.w.Write(frame); err != nil {
		p.closed.Store(true)
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed frame.
func (p *Pipe) Receive() ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	var hdr [4]byte
	if _, err := io.ReadFull(p.r, hdr[:]); err != nil {
		p.closed.Store(true)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	payload := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if len(payload) > 0 {
		if _, err := io.ReadFull(p.r, payload); err != nil {
			p.closed.Store(true)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("reading frame payload: %w", err)
		}
	}
	return payload, nil
}

// Connected reports whether the pipe is still usable.
func (p *Pipe) Connected() bool {
	return !p.closed.Load()
}

// Close marks the pipe disconnected and closes the underlying reader and
// writer when they support it.
func (p *Pipe) Close() error {
	p.closed.Store(true)
	var err error
	if c, ok := p.r.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := p.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
