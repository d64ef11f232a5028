// Package assistant is a small client for the threads/messages/runs endpoints
// of the upstream Assistants API.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/middleware"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dgarbuzob-dotcom/assistant-sse-2/internal/assistant"

// Options carries everything the client needs to talk to upstream.
type Options struct {
	APIKey      string
	AssistantID string
	BaseURL     string
	Beta        string
	// Timeout bounds each buffered call. Streaming calls are bounded only
	// by the caller's context.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is constructed once per process and shared by all requests.
type Client struct {
	apiKey      string
	assistantID string
	baseURL     string
	beta        string
	timeout     time.Duration
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	tracer      trace.Tracer
}

func NewClient(opts Options) *Client {
	st := gobreaker.Settings{
		Name:        "assistant-upstream",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			middleware.RecordBreakerState(name, int(to))
		},
		IsSuccessful: isBreakerSuccess,
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client-level Timeout: it would cut long-running streams.
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:      opts.APIKey,
		assistantID: opts.AssistantID,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		beta:        opts.Beta,
		timeout:     timeout,
		httpClient:  httpClient,
		cb:          gobreaker.NewCircuitBreaker(st),
		tracer:      otel.Tracer(tracerName),
	}
}

// CreateThread issues POST /threads with an empty payload.
func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.call(ctx, "create_thread", http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return nil, err
	}
	if thread.ID == "" {
		return nil, fmt.Errorf("create thread: upstream returned no id")
	}
	return &thread, nil
}

// CreateMessage appends a user message to the thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, content string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	body := createMessageRequest{Role: "user", Content: content}
	return c.call(ctx, "create_message", http.MethodPost, path, body, nil)
}

// CreateRun starts a buffered run and returns its initial state.
func (c *Client) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	var run Run
	if err := c.call(ctx, "create_run", http.MethodPost, path, createRunRequest{AssistantID: c.assistantID}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateRunStream starts a streaming run and returns the live event-stream
// body. The caller owns the body and must close it.
func (c *Client) CreateRunStream(ctx context.Context, threadID string) (io.ReadCloser, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	ctx, span := c.startSpan(ctx, "create_run_stream", http.MethodPost, path)
	defer span.End()
	start := time.Now()

	payload, err := json.Marshal(createRunRequest{AssistantID: c.assistantID, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	respInterface, err := c.cb.Execute(func() (interface{}, error) {
		req, err := c.newRequest(ctx, http.MethodPost, path, payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			txt, _ := io.ReadAll(resp.Body)
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(txt)}
		}
		if resp.Body == nil || resp.Body == http.NoBody {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: "empty stream body"}
		}
		return resp, nil
	})
	c.finish(span, "create_run_stream", start, err)
	if err != nil {
		return nil, err
	}
	return respInterface.(*http.Response).Body, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	var run Run
	if err := c.call(ctx, "get_run", http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListMessages returns up to limit messages, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/threads/%s/messages?limit=%d", url.PathEscape(threadID), limit)
	var list messageList
	if err := c.call(ctx, "list_messages", http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// call performs one buffered request/response exchange. A nil in skips the
// request body; a nil out discards the response body.
func (c *Client) call(ctx context.Context, op, method, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := c.startSpan(ctx, op, method, path)
	defer span.End()
	start := time.Now()

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	respInterface, err := c.cb.Execute(func() (interface{}, error) {
		req, err := c.newRequest(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		txt, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(txt)}
		}
		return txt, nil
	})
	c.finish(span, op, start, err)
	if err != nil {
		return err
	}

	txt := respInterface.([]byte)
	if out == nil || len(bytes.TrimSpace(txt)) == 0 {
		return nil
	}
	if err := json.Unmarshal(txt, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.beta != "" {
		req.Header.Set("OpenAI-Beta", c.beta)
	}
	return req, nil
}

func (c *Client) startSpan(ctx context.Context, op, method, path string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "assistant."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("assistant.path", path),
		),
	)
}

func (c *Client) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apiErr, ok := err.(*APIError); ok {
			span.SetAttributes(attribute.Int("http.status_code", apiErr.StatusCode))
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			outcome = "rejected"
		}
	}
	middleware.RecordUpstreamCall(op, outcome, time.Since(start).Seconds())
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}
