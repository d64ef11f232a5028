// Package relay translates an upstream run event stream into the normalized
// SSE protocol served to callers.
//
// A Relay reads raw chunks from a ChunkSource, splits them into lines, keeps
// only "data:" lines carrying JSON objects, and emits delta events while
// accumulating the full text. It ends with exactly one done or error event,
// unless the caller goes away first.
package relay

import (
	"context"
	"errors"
	"io"
	"strings"
)

type State int

const (
	StateReading State = iota
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// TruncatedMessage is the error text sent when upstream closes the stream without
// a terminal event.
const TruncatedMessage = "stream ended without completion"

// Sink receives normalized events in order.
type Sink interface {
	Emit(Event) error
}

// Result summarizes one relay invocation.
type Result struct {
	State        State
	Text         string
	Deltas       int
	DroppedLines int // over the line size limit
}

// Relay is single-use and not safe for concurrent use.
type Relay struct {
	threadID string
	sink     Sink
	lines    lineSplitter
	text     strings.Builder
	deltas   int
	state    State
}

type Option func(*Relay)

// WithMaxLineSize overrides DefaultMaxLineSize. A value <= 0 buffers lines
// of any length.
func WithMaxLineSize(n int) Option {
	return func(r *Relay) {
		r.lines.max = n
	}
}

func New(threadID string, sink Sink, opts ...Option) *Relay {
	r := &Relay{threadID: threadID, sink: sink}
	r.lines.max = DefaultMaxLineSize
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes src until a terminal event has been emitted. Upstream
// problems are reported to the sink as an error event and Run returns a nil
// error; a non-nil error means the caller is gone (cancelled context or a
// failed sink write) and nothing more was emitted.
func (r *Relay) Run(ctx context.Context, src ChunkSource) (Result, error) {
	for r.state == StateReading {
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}

		chunk, readErr := src.Next(ctx)
		for _, line := range r.lines.Feed(chunk) {
			if err := r.handleLine(line); err != nil {
				return r.result(), err
			}
			if r.state != StateReading {
				return r.result(), nil
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			if line, ok := r.lines.Flush(); ok {
				if err := r.handleLine(line); err != nil {
					return r.result(), err
				}
			}
			if r.state == StateReading {
				if err := r.fail(TruncatedMessage); err != nil {
					return r.result(), err
				}
			}
		case ctx.Err() != nil:
			return r.result(), ctx.Err()
		default:
			if err := r.fail(readErr.Error()); err != nil {
				return r.result(), err
			}
		}
	}
	return r.result(), nil
}

func (r *Relay) handleLine(line string) error {
	if !strings.HasPrefix(line, dataPrefix) {
		return nil
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" || payload == doneSentinel {
		return nil
	}

	k, text := classify(payload)
	switch k {
	case kindDelta:
		r.text.WriteString(text)
		r.deltas++
		return r.sink.Emit(Delta(text))
	case kindDone:
		r.state = StateDone
		return r.sink.Emit(Done(r.threadID, r.text.String()))
	case kindError:
		return r.fail(text)
	}
	return nil
}

func (r *Relay) fail(msg string) error {
	r.state = StateFailed
	return r.sink.Emit(Error(msg))
}

func (r *Relay) result() Result {
	return Result{
		State:        r.state,
		Text:         r.text.String(),
		Deltas:       r.deltas,
		DroppedLines: r.lines.dropped,
	}
}
