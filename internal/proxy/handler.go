package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/assistant"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/middleware"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/poller"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/relay"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/store"
	"github.com/gin-gonic/gin"
)

const missingPrompt = "Missing 'prompt'"

// RunWaiter waits for a buffered run to reach a terminal status.
type RunWaiter interface {
	Wait(ctx context.Context, logger *slog.Logger, threadID string, run *assistant.Run) (*poller.Result, error)
}

// StreamOptions tunes how upstream event streams are read.
type StreamOptions struct {
	// ReadAhead of 0 relays straight from the upstream body; a positive
	// value reads ahead on a separate goroutine with that many chunks
	// buffered.
	ReadAhead int
	// MaxLineSize is passed to relay.WithMaxLineSize.
	MaxLineSize int
}

type Handler struct {
	upstream Upstream
	waiter   RunWaiter
	locks    store.ThreadLockStore
	stream   StreamOptions
	wg       sync.WaitGroup
}

func NewHandler(upstream Upstream, waiter RunWaiter, locks store.ThreadLockStore, stream StreamOptions) *Handler {
	if locks == nil {
		locks = store.NopThreadLockStore{}
	}
	return &Handler{
		upstream: upstream,
		waiter:   waiter,
		locks:    locks,
		stream:   stream,
	}
}

// Shutdown waits for all stream readers to complete
func (h *Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream relays a streaming run to the caller as normalized SSE events.
func (h *Handler) Stream(c *gin.Context) {
	start := time.Now()
	c.Set("mode", "stream")
	logger := middleware.Logger(c)

	req := parseChatRequest(c, logger)
	if req.Prompt == "" {
		logger.Warn("Missing prompt")
		c.String(http.StatusBadRequest, missingPrompt)
		return
	}

	ctx := c.Request.Context()
	sink := &meteredSink{sink: relay.NewSSEWriter(ctx, c.Writer), start: start}
	conv := NewConversation(h.upstream, logger)

	// 1. Resolve thread
	threadID, err := conv.ResolveThread(ctx, req.ThreadID, sink)
	if err != nil {
		h.streamFailure(c, sink, "Failed to resolve thread", err)
		return
	}
	logger = logger.With("thread_id", threadID)
	c.Set("logger", logger)

	release, err := h.locks.Acquire(ctx, threadID)
	if err != nil {
		h.streamFailure(c, sink, "Failed to lock thread", err)
		return
	}
	defer release()

	// 2. Submit the user's message
	if err := conv.SubmitMessage(ctx, threadID, req.Prompt); err != nil {
		h.streamFailure(c, sink, "Failed to submit message", err)
		return
	}

	// 3. Start the streaming run
	body, err := conv.LaunchStream(ctx, threadID)
	if err != nil {
		h.streamFailure(c, sink, "Failed to start run", err)
		return
	}
	defer body.Close()

	// 4. Relay until done or error
	src, stop := h.chunkSource(body)
	defer stop()

	res, err := relay.New(threadID, sink, relay.WithMaxLineSize(h.stream.MaxLineSize)).Run(ctx, src)
	if res.DroppedLines > 0 {
		logger.Warn("Dropped oversized stream lines", "count", res.DroppedLines, "max_line_size", h.stream.MaxLineSize)
	}
	if err != nil {
		logger.Info("Client went away during stream", "error", err, "deltas", res.Deltas)
		return
	}
	logger.Info("Stream finished",
		"state", res.State.String(),
		"deltas", res.Deltas,
		"text_len", len(res.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

// Complete runs the prompt to completion and answers with a single JSON body.
func (h *Handler) Complete(c *gin.Context) {
	start := time.Now()
	c.Set("mode", "buffered")
	logger := middleware.Logger(c)

	req := parseChatRequest(c, logger)
	if req.Prompt == "" {
		logger.Warn("Missing prompt")
		c.JSON(http.StatusBadRequest, gin.H{"error": missingPrompt})
		return
	}

	ctx := c.Request.Context()
	conv := NewConversation(h.upstream, logger)

	threadID, err := conv.ResolveThread(ctx, req.ThreadID, nil)
	if err != nil {
		h.completeFailure(c, threadID, "Failed to resolve thread", err)
		return
	}
	logger = logger.With("thread_id", threadID)
	c.Set("logger", logger)

	release, err := h.locks.Acquire(ctx, threadID)
	if err != nil {
		h.completeFailure(c, threadID, "Failed to lock thread", err)
		return
	}
	defer release()

	if err := conv.SubmitMessage(ctx, threadID, req.Prompt); err != nil {
		h.completeFailure(c, threadID, "Failed to submit message", err)
		return
	}

	run, err := conv.LaunchRun(ctx, threadID)
	if err != nil {
		h.completeFailure(c, threadID, "Failed to start run", err)
		return
	}

	res, err := h.waiter.Wait(ctx, logger, threadID, run)
	if err != nil {
		h.completeFailure(c, threadID, "Run did not complete", err)
		return
	}
	if !res.Completed() {
		logger.Warn("Run ended without completion", "run_id", res.RunID, "status", res.Status)
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":        false,
			"thread_id": threadID,
			"run_id":    res.RunID,
			"status":    res.Status,
		})
		return
	}

	logger.Info("Completion finished",
		"run_id", res.RunID,
		"polls", res.Attempts,
		"text_len", len(res.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true, "thread_id": threadID, "text": res.Text})
}

func (h *Handler) streamFailure(c *gin.Context, sink relay.Sink, msg string, err error) {
	if errors.Is(err, relay.ErrClientGone) || errors.Is(err, context.Canceled) {
		middleware.Logger(c).Info("Client went away", "stage", msg)
		return
	}
	middleware.Logger(c).Error(msg, "error", err)
	_ = sink.Emit(relay.Error(err.Error()))
}

func (h *Handler) completeFailure(c *gin.Context, threadID, msg string, err error) {
	logger := middleware.Logger(c)
	if errors.Is(err, store.ErrThreadBusy) {
		logger.Warn(msg, "error", err, "thread_id", threadID)
		c.JSON(http.StatusConflict, gin.H{"ok": false, "thread_id": threadID, "error": err.Error()})
		return
	}
	logger.Error(msg, "error", err, "thread_id", threadID)
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
}

// chunkSource picks the pull or push adapter for the upstream body. The
// returned stop function releases the reader goroutine, if any.
func (h *Handler) chunkSource(body io.Reader) (relay.ChunkSource, func()) {
	if h.stream.ReadAhead <= 0 {
		return relay.NewReaderSource(body), func() {}
	}

	src := relay.NewEmitterSource(h.stream.ReadAhead)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		relay.Feed(body, src)
	}()
	return src, func() { _ = src.Close() }
}

// meteredSink records Time To First Token on the first delta.
type meteredSink struct {
	sink     relay.Sink
	start    time.Time
	sawDelta bool
}

func (m *meteredSink) Emit(ev relay.Event) error {
	if ev.Type == relay.EventDelta && !m.sawDelta {
		m.sawDelta = true
		middleware.RecordTTFT(time.Since(m.start).Seconds())
	}
	return m.sink.Emit(ev)
}
