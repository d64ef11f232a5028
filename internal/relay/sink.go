package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/middleware"
	"github.com/gin-contrib/sse"
)

// ErrClientGone is returned once the downstream connection can no longer be
// written to.
var ErrClientGone = errors.New("client disconnected")

// SSEWriter writes each event as one "data:" frame and flushes it.
type SSEWriter struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	gone    bool
}

// NewSSEWriter sets the event-stream headers and commits the 200 status.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter) *SSEWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSEWriter{ctx: ctx, w: w}
	s.flusher, _ = w.(http.Flusher)
	s.flush()
	return s
}

func (s *SSEWriter) Emit(ev Event) error {
	if s.gone {
		return ErrClientGone
	}
	if err := s.ctx.Err(); err != nil {
		s.gone = true
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	if err := sse.Encode(s.w, sse.Event{Data: ev}); err != nil {
		s.gone = true
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	s.flush()
	middleware.RecordRelayEvent(string(ev.Type))
	return nil
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
