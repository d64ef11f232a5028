package assistant

// RunStatus is the lifecycle state of an upstream run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further status transitions will happen.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

type Thread struct {
	ID string `json:"id"`
}

type Run struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`
}

type Message struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string       `json:"type"`
	Text *TextContent `json:"text,omitempty"`
}

type TextContent struct {
	Value string `json:"value"`
}

// Text concatenates the text-typed parts of the message in order.
func (m Message) Text() string {
	var out string
	for _, part := range m.Content {
		if part.Type == "text" && part.Text != nil {
			out += part.Text.Value
		}
	}
	return out
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AssistantID string `json:"assistant_id"`
	Stream      bool   `json:"stream,omitempty"`
}

type messageList struct {
	Data []Message `json:"data"`
}
