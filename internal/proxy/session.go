package proxy

import (
	"context"
	"io"
	"log/slog"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/assistant"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/relay"
)

// Upstream is the part of the assistant client the handlers drive.
type Upstream interface {
	CreateThread(ctx context.Context) (*assistant.Thread, error)
	CreateMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID string) (*assistant.Run, error)
	CreateRunStream(ctx context.Context, threadID string) (io.ReadCloser, error)
}

// Conversation runs the stages every chat request goes through before the
// run is relayed or polled. None of them retries.
type Conversation struct {
	upstream Upstream
	logger   *slog.Logger
}

func NewConversation(upstream Upstream, logger *slog.Logger) *Conversation {
	return &Conversation{upstream: upstream, logger: logger}
}

// ResolveThread returns threadID unchanged when set. Otherwise it creates a
// thread and, if sink is non-nil, announces it with a thread.created event
// before anything else is emitted.
func (cv *Conversation) ResolveThread(ctx context.Context, threadID string, sink relay.Sink) (string, error) {
	if threadID != "" {
		return threadID, nil
	}

	thread, err := cv.upstream.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	cv.logger.Info("Thread created", "thread_id", thread.ID)

	if sink != nil {
		if err := sink.Emit(relay.ThreadCreated(thread.ID)); err != nil {
			return thread.ID, err
		}
	}
	return thread.ID, nil
}

// SubmitMessage appends the user's prompt to the thread.
func (cv *Conversation) SubmitMessage(ctx context.Context, threadID, prompt string) error {
	if err := cv.upstream.CreateMessage(ctx, threadID, prompt); err != nil {
		return err
	}
	cv.logger.Info("Message submitted", "thread_id", threadID, "prompt_len", len(prompt))
	return nil
}

// LaunchRun starts a buffered run.
func (cv *Conversation) LaunchRun(ctx context.Context, threadID string) (*assistant.Run, error) {
	run, err := cv.upstream.CreateRun(ctx, threadID)
	if err != nil {
		return nil, err
	}
	cv.logger.Info("Run started", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
	return run, nil
}

// LaunchStream starts a streaming run and returns its event-stream body.
func (cv *Conversation) LaunchStream(ctx context.Context, threadID string) (io.ReadCloser, error) {
	cv.logger.Info("Run starting", "thread_id", threadID, "stream", true)
	return cv.upstream.CreateRunStream(ctx, threadID)
}
