package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
	// failAfter makes Emit fail once this many events were accepted; 0 never fails
	failAfter int
}

func (s *recordingSink) Emit(ev Event) error {
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return ErrClientGone
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []EventType {
	out := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

// chunkReader hands out one predefined chunk per Read call.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func chunks(parts ...string) *chunkReader {
	r := &chunkReader{}
	for _, p := range parts {
		r.chunks = append(r.chunks, []byte(p))
	}
	return r
}

func deltaLine(text string) string {
	return `data: {"type":"response.output_text.delta","delta":"` + text + `"}` + "\n\n"
}

const completedLine = `data: {"type":"response.completed"}` + "\n\n"

func runRelay(t *testing.T, src ChunkSource) (*recordingSink, Result) {
	t.Helper()
	sink := &recordingSink{}
	res, err := New("thread_1", sink).Run(context.Background(), src)
	require.NoError(t, err)
	return sink, res
}

func TestRelay_DeltasConcatenateToDoneText(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{name: "No Deltas", deltas: nil},
		{name: "Single Delta", deltas: []string{"Hello"}},
		{name: "Many Deltas", deltas: []string{"Hel", "lo", ", ", "", "world", "!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parts []string
			for _, d := range tt.deltas {
				parts = append(parts, deltaLine(d))
			}
			parts = append(parts, completedLine, "data: [DONE]\n\n")

			sink, res := runRelay(t, NewReaderSource(chunks(parts...)))

			var joined string
			for _, ev := range sink.events[:len(sink.events)-1] {
				assert.Equal(t, EventDelta, ev.Type)
				joined += ev.Text
			}
			last := sink.events[len(sink.events)-1]
			assert.Equal(t, EventDone, last.Type)
			assert.Equal(t, "thread_1", last.ThreadID)
			assert.Equal(t, joined, last.Text)
			assert.Equal(t, strings.Join(tt.deltas, ""), res.Text)
			assert.Equal(t, StateDone, res.State)
			assert.Equal(t, len(tt.deltas), res.Deltas)
		})
	}
}

func TestRelay_IgnoresIrrelevantLines(t *testing.T) {
	stream := strings.Join([]string{
		"event: thread.message.delta",
		"id: 42",
		": keep-alive",
		"",
		"retry: 1000",
		"data:",
		"data:    ",
		"data: [DONE]",
		"data: {not json",
		"data: [1,2,3]",
		`data: "just a string"`,
		`data: {"type":"response.created","response":{"id":"resp_1"}}`,
		`data: {"type":"response.output_text.done","text":"ignored"}`,
		`data: {"type":"response.output_text.delta","delta":"ok"}`,
		`data: {"type":"response.completed"}`,
	}, "\n") + "\n"

	sink, res := runRelay(t, NewReaderSource(chunks(stream)))

	assert.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
	assert.Equal(t, "ok", res.Text)
}

func TestRelay_UnknownTypeLeavesAccumulatorUntouched(t *testing.T) {
	sink, res := runRelay(t, NewReaderSource(chunks(
		`data: {"type":"response.created","delta":"should not count"}`+"\n",
		completedLine,
	)))

	assert.Equal(t, []EventType{EventDone}, sink.types())
	assert.Equal(t, "", sink.events[0].Text)
	assert.Equal(t, 0, res.Deltas)
}

func TestRelay_MultiByteCharacterAcrossChunks(t *testing.T) {
	line := []byte(deltaLine("héllo 世界"))
	split := strings.Index(string(line), "世") + 1 // inside the 3-byte sequence

	src := &chunkReader{chunks: [][]byte{line[:split], line[split:], []byte(completedLine)}}
	sink, res := runRelay(t, NewReaderSource(src))

	require.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
	assert.Equal(t, "héllo 世界", sink.events[0].Text)
	assert.Equal(t, "héllo 世界", res.Text)
}

func TestRelay_LineSplitAcrossChunks(t *testing.T) {
	line := deltaLine("joined")
	sink, _ := runRelay(t, NewReaderSource(chunks(line[:7], line[7:20], line[20:], completedLine)))

	require.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
	assert.Equal(t, "joined", sink.events[0].Text)
}

func TestRelay_CRLFLines(t *testing.T) {
	stream := `data: {"type":"response.output_text.delta","delta":"a"}` + "\r\n\r\n" +
		`data: {"type":"response.completed"}` + "\r\n\r\n"

	sink, _ := runRelay(t, NewReaderSource(chunks(stream)))

	assert.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
}

func TestRelay_ErrorEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "With Message", payload: `{"type":"error","error":{"message":"rate limited"}}`, want: "rate limited"},
		{name: "Without Message", payload: `{"type":"error"}`, want: "Unknown error"},
		{name: "Empty Message", payload: `{"type":"error","error":{"message":""}}`, want: "Unknown error"},
		{name: "String Error", payload: `{"type":"error","error":"boom"}`, want: "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, res := runRelay(t, NewReaderSource(chunks("data: "+tt.payload+"\n")))

			require.Equal(t, []EventType{EventError}, sink.types())
			assert.Equal(t, tt.want, sink.events[0].Error)
			assert.Equal(t, StateFailed, res.State)
		})
	}
}

func TestRelay_NothingAfterTerminal(t *testing.T) {
	t.Run("Back To Back Errors", func(t *testing.T) {
		stream := `data: {"type":"error","error":{"message":"first"}}` + "\n" +
			`data: {"type":"error","error":{"message":"second"}}` + "\n" +
			deltaLine("late")

		sink, _ := runRelay(t, NewReaderSource(chunks(stream)))

		require.Len(t, sink.events, 1)
		assert.Equal(t, "first", sink.events[0].Error)
	})

	t.Run("Delta After Done", func(t *testing.T) {
		sink, _ := runRelay(t, NewReaderSource(chunks(deltaLine("a")+completedLine+deltaLine("b")+completedLine)))

		assert.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
	})
}

func TestRelay_TruncatedStream(t *testing.T) {
	sink, res := runRelay(t, NewReaderSource(chunks(deltaLine("partial"))))

	require.Equal(t, []EventType{EventDelta, EventError}, sink.types())
	assert.Equal(t, TruncatedMessage, sink.events[1].Error)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "partial", res.Text)
}

func TestRelay_FinalLineWithoutNewline(t *testing.T) {
	sink, _ := runRelay(t, NewReaderSource(chunks(deltaLine("x"), `data: {"type":"response.completed"}`)))

	assert.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
}

func TestRelay_ReadErrorBecomesErrorEvent(t *testing.T) {
	src := &chunkReader{chunks: [][]byte{[]byte(deltaLine("a"))}, err: errors.New("connection reset")}
	sink, res := runRelay(t, NewReaderSource(src))

	require.Equal(t, []EventType{EventDelta, EventError}, sink.types())
	assert.Equal(t, "connection reset", sink.events[1].Error)
	assert.Equal(t, StateFailed, res.State)
}

func TestRelay_AssistantsDialect(t *testing.T) {
	stream := strings.Join([]string{
		"event: thread.run.created",
		`data: {"id":"run_1","object":"thread.run","status":"queued"}`,
		"",
		"event: thread.message.delta",
		`data: {"id":"msg_1","object":"thread.message.delta","delta":{"content":[{"index":0,"type":"text","text":{"value":"Hello, "}}]}}`,
		"",
		"event: thread.message.delta",
		`data: {"id":"msg_1","object":"thread.message.delta","delta":{"content":[{"index":0,"type":"text","text":{"value":"world!"}}]}}`,
		"",
		"event: thread.run.completed",
		`data: {"id":"run_1","object":"thread.run","status":"completed"}`,
		"",
		"event: done",
		"data: [DONE]",
		"",
	}, "\n")

	sink, res := runRelay(t, NewReaderSource(chunks(stream)))

	assert.Equal(t, []EventType{EventDelta, EventDelta, EventDone}, sink.types())
	assert.Equal(t, "Hello, world!", sink.events[2].Text)
	assert.Equal(t, "Hello, world!", res.Text)
}

func TestRelay_AssistantsRunFailure(t *testing.T) {
	stream := `data: {"object":"thread.run","status":"failed","last_error":{"code":"server_error","message":"Sorry, something went wrong."}}` + "\n" +
		`data: {"object":"thread.run","status":"expired"}` + "\n"

	sink, _ := runRelay(t, NewReaderSource(chunks(stream)))

	require.Equal(t, []EventType{EventError}, sink.types())
	assert.Equal(t, "Sorry, something went wrong.", sink.events[0].Error)
}

func TestRelay_PushSource(t *testing.T) {
	src := NewEmitterSource(2)
	defer src.Close()

	go func() {
		src.OnData([]byte(deltaLine("Hel")))
		src.OnData([]byte(deltaLine("lo")[:10]))
		src.OnData([]byte(deltaLine("lo")[10:]))
		src.OnData([]byte(completedLine))
		src.OnEnd()
	}()

	sink, res := runRelay(t, src)

	assert.Equal(t, []EventType{EventDelta, EventDelta, EventDone}, sink.types())
	assert.Equal(t, "Hello", res.Text)
}

func TestRelay_PushSourceError(t *testing.T) {
	src := NewEmitterSource(0)
	defer src.Close()

	go func() {
		src.OnData([]byte(deltaLine("a")))
		src.OnError(errors.New("socket hang up"))
	}()

	sink, _ := runRelay(t, src)

	require.Equal(t, []EventType{EventDelta, EventError}, sink.types())
	assert.Equal(t, "socket hang up", sink.events[1].Error)
}

func TestRelay_FeedDrivesPushSource(t *testing.T) {
	src := NewEmitterSource(4)
	defer src.Close()

	go Feed(chunks(deltaLine("a"), deltaLine("b"), completedLine), src)

	sink, res := runRelay(t, src)

	assert.Equal(t, []EventType{EventDelta, EventDelta, EventDone}, sink.types())
	assert.Equal(t, "ab", res.Text)
}

func TestRelay_StopsWhenSinkFails(t *testing.T) {
	sink := &recordingSink{failAfter: 1}
	res, err := New("thread_1", sink).Run(context.Background(),
		NewReaderSource(chunks(deltaLine("a"), deltaLine("b"), completedLine)))

	assert.ErrorIs(t, err, ErrClientGone)
	assert.Len(t, sink.events, 1)
	assert.Equal(t, StateReading, res.State)
}

func TestRelay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewEmitterSource(0)
	defer src.Close()

	sink := &recordingSink{}
	_, err := New("thread_1", sink).Run(ctx, src)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.events)
}

func TestEmitterSource_CloseReleasesProducer(t *testing.T) {
	src := NewEmitterSource(0)
	done := make(chan bool)
	go func() { done <- src.OnData([]byte("x")) }()

	require.NoError(t, src.Close())
	assert.False(t, <-done)
}

func TestRelay_LargeTerminalLine(t *testing.T) {
	big := strings.Repeat("x", 1200*1024)
	stream := deltaLine("a") +
		`data: {"type":"response.completed","response":{"output_text":"` + big + `"}}` + "\n\n"

	var parts []string
	for len(stream) > 0 {
		n := 32 * 1024
		if n > len(stream) {
			n = len(stream)
		}
		parts = append(parts, stream[:n])
		stream = stream[n:]
	}

	sink, res := runRelay(t, NewReaderSource(chunks(parts...)))

	assert.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, res.DroppedLines)
}

func TestRelay_MaxLineSize(t *testing.T) {
	oversized := `data: {"type":"response.output_text.delta","delta":"` + strings.Repeat("y", 200) + `"}` + "\n"

	tests := []struct {
		name        string
		parts       []string
		wantTypes   []EventType
		wantText    string
		wantDropped int
	}{
		{
			name:        "Line Over Limit In One Chunk",
			parts:       []string{deltaLine("a"), oversized, deltaLine("b"), completedLine},
			wantTypes:   []EventType{EventDelta, EventDelta, EventDone},
			wantText:    "ab",
			wantDropped: 1,
		},
		{
			name:        "Line Over Limit Across Chunks",
			parts:       []string{deltaLine("a"), oversized[:100], oversized[100:150], oversized[150:] + deltaLine("b"), completedLine},
			wantTypes:   []EventType{EventDelta, EventDelta, EventDone},
			wantText:    "ab",
			wantDropped: 1,
		},
		{
			name:        "Dropped Terminal Line Truncates",
			parts:       []string{deltaLine("a"), `data: {"type":"response.completed","pad":"` + strings.Repeat("z", 200) + `"}` + "\n"},
			wantTypes:   []EventType{EventDelta, EventError},
			wantText:    "a",
			wantDropped: 1,
		},
		{
			name:        "Line At Limit Kept",
			parts:       []string{`data: {"type":"response.output_text.delta","delta":"` + strings.Repeat("w", 64) + `"}` + "\n", completedLine},
			wantTypes:   []EventType{EventDelta, EventDone},
			wantText:    strings.Repeat("w", 64),
			wantDropped: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			res, err := New("thread_1", sink, WithMaxLineSize(128)).Run(context.Background(), NewReaderSource(chunks(tt.parts...)))

			require.NoError(t, err)
			assert.Equal(t, tt.wantTypes, sink.types())
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantDropped, res.DroppedLines)
		})
	}
}

func TestRelay_NoLineLimit(t *testing.T) {
	long := strings.Repeat("v", 4096)
	sink := &recordingSink{}
	src := NewReaderSource(chunks(deltaLine(long), completedLine))

	res, err := New("thread_1", sink, WithMaxLineSize(0)).Run(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, []EventType{EventDelta, EventDone}, sink.types())
	assert.Equal(t, long, res.Text)
}
