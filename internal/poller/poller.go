// Package poller waits for a buffered run to finish and collects the
// assistant's reply.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/assistant"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/middleware"
)

// ErrRunTimeout is returned when a run does not reach a terminal status in
// time. No messages are fetched in that case.
var ErrRunTimeout = errors.New("Run timeout")

const (
	DefaultInterval = 1200 * time.Millisecond
	DefaultTimeout  = 120 * time.Second
	DefaultLimit    = 5
)

// RunClient is the subset of the upstream client the poller needs.
type RunClient interface {
	GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]assistant.Message, error)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Limit    int
}

type Poller struct {
	client   RunClient
	interval time.Duration
	timeout  time.Duration
	limit    int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(client RunClient, cfg Config) *Poller {
	p := &Poller{
		client:   client,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		limit:    cfg.Limit,
		now:      time.Now,
		sleep:    sleepContext,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.limit <= 0 {
		p.limit = DefaultLimit
	}
	return p
}

// Result is the outcome of a run that reached a terminal status.
type Result struct {
	RunID    string
	Status   assistant.RunStatus
	Text     string
	Attempts int
}

func (r *Result) Completed() bool {
	return r.Status == assistant.RunCompleted
}

// Wait polls the run until it is terminal. A completed run carries the text
// of the latest assistant message; any other terminal status is reported
// through Result without an error. Logs go to logger tagged with the run id;
// a nil logger means slog.Default.
func (p *Poller) Wait(ctx context.Context, logger *slog.Logger, threadID string, run *assistant.Run) (*Result, error) {
	if logger == nil {
		logger = slog.Default().With("thread_id", threadID)
	}
	logger = logger.With("run_id", run.ID)
	started := p.now()
	status := run.Status
	attempts := 0

	for !status.Terminal() {
		if p.now().Sub(started) > p.timeout {
			logger.Warn("Run did not finish in time", "status", status, "attempts", attempts)
			middleware.RecordPollAttempts("timeout", attempts)
			return nil, ErrRunTimeout
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}

		cur, err := p.client.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get run status: %w", err)
		}
		attempts++
		status = cur.Status
		logger.Debug("Polled run", "status", status, "attempt", attempts)
	}

	res := &Result{RunID: run.ID, Status: status, Attempts: attempts}
	middleware.RecordPollAttempts(string(status), attempts)
	if !res.Completed() {
		logger.Warn("Run finished without completing", "status", status)
		return res, nil
	}

	msgs, err := p.client.ListMessages(ctx, threadID, p.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for _, m := range msgs {
		if m.Role == "assistant" {
			res.Text = m.Text()
			break
		}
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
