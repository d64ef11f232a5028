package relay

import "encoding/json"

// EventType discriminates the normalized events sent to callers.
type EventType string

const (
	EventThreadCreated EventType = "thread.created"
	EventDelta         EventType = "delta"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is the only contract between the relay and its caller. Which fields
// are serialized depends on Type.
type Event struct {
	Type     EventType `json:"type"`
	ThreadID string    `json:"thread_id,omitempty"`
	Text     string    `json:"text,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func ThreadCreated(threadID string) Event {
	return Event{Type: EventThreadCreated, ThreadID: threadID}
}

func Delta(text string) Event {
	return Event{Type: EventDelta, Text: text}
}

func Done(threadID, text string) Event {
	return Event{Type: EventDone, ThreadID: threadID, Text: text}
}

func Error(msg string) Event {
	return Event{Type: EventError, Error: msg}
}

// Terminal reports whether the event ends a relay invocation.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON writes exactly the payload fields of the event type, so an
// empty delta still carries "text":"".
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventThreadCreated:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			ThreadID string    `json:"thread_id"`
		}{e.Type, e.ThreadID})
	case EventDelta:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Text string    `json:"text"`
		}{e.Type, e.Text})
	case EventDone:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			ThreadID string    `json:"thread_id"`
			Text     string    `json:"text"`
		}{e.Type, e.ThreadID, e.Text})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	}
	type plain Event
	return json.Marshal(plain(e))
}
