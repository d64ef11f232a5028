package relay

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ChunkSource yields raw upstream bytes one chunk at a time. Next returns
// io.EOF once the stream is exhausted. The returned slice is only valid
// until the following call.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

const readBufferSize = 32 * 1024

// ReaderSource adapts a pull-based io.Reader.
type ReaderSource struct {
	r   io.Reader
	buf []byte
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, buf: make([]byte, readBufferSize)}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.r.Read(s.buf)
	return s.buf[:n], err
}

type pushItem struct {
	chunk []byte
	err   error
}

// EmitterSource adapts a push-based producer that delivers chunks through
// OnData and signals completion through OnEnd or OnError. Producer calls
// block once the buffer is full, and return immediately after Close.
type EmitterSource struct {
	items     chan pushItem
	closed    chan struct{}
	closeOnce sync.Once

	// consumer side only
	final error
}

func NewEmitterSource(buffer int) *EmitterSource {
	if buffer < 0 {
		buffer = 0
	}
	return &EmitterSource{
		items:  make(chan pushItem, buffer),
		closed: make(chan struct{}),
	}
}

// OnData delivers one chunk. It reports false when the consumer is gone.
func (s *EmitterSource) OnData(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	return s.push(pushItem{chunk: append([]byte(nil), chunk...)})
}

// OnEnd signals a clean end of stream.
func (s *EmitterSource) OnEnd() {
	s.push(pushItem{err: io.EOF})
}

// OnError signals that the stream broke.
func (s *EmitterSource) OnError(err error) {
	if err == nil {
		err = errors.New("stream error")
	}
	s.push(pushItem{err: err})
}

func (s *EmitterSource) push(it pushItem) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.items <- it:
		return true
	case <-s.closed:
		return false
	}
}

func (s *EmitterSource) Next(ctx context.Context) ([]byte, error) {
	if s.final != nil {
		return nil, s.final
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case it := <-s.items:
		if it.err != nil {
			s.final = it.err
		}
		return it.chunk, it.err
	}
}

// Close releases any producer blocked in OnData.
func (s *EmitterSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Feed drives an EmitterSource from a reader on the calling goroutine,
// reading ahead of the consumer by up to the source's buffer size.
func Feed(r io.Reader, s *EmitterSource) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !s.OnData(buf[:n]) {
			return
		}
		if err == io.EOF {
			s.OnEnd()
			return
		}
		if err != nil {
			s.OnError(err)
			return
		}
	}
}
