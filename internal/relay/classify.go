package relay

import (
	"strings"

	"github.com/tidwall/gjson"
)

type kind int

const (
	kindIgnore kind = iota
	kindDelta
	kindDone
	kindError
)

const unknownError = "Unknown error"

// classify maps one upstream JSON payload onto the relay's event kinds.
// It understands the Responses-style "type" tags and the Assistants v2
// "object" shapes. Anything unparseable or unrecognized is ignored.
func classify(payload string) (kind, string) {
	if !gjson.Valid(payload) {
		return kindIgnore, ""
	}
	evt := gjson.Parse(payload)
	if !evt.IsObject() {
		return kindIgnore, ""
	}

	switch evt.Get("type").String() {
	case "response.output_text.delta":
		if d := evt.Get("delta"); d.Type == gjson.String {
			return kindDelta, d.Str
		}
		return kindDelta, ""
	case "response.completed":
		return kindDone, ""
	case "error":
		msg := evt.Get("error.message").String()
		if msg == "" {
			msg = unknownError
		}
		return kindError, msg
	}

	switch evt.Get("object").String() {
	case "thread.message.delta":
		var text strings.Builder
		evt.Get("delta.content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				text.WriteString(part.Get("text.value").String())
			}
			return true
		})
		return kindDelta, text.String()
	case "thread.run":
		switch status := evt.Get("status").String(); status {
		case "completed":
			return kindDone, ""
		case "failed", "cancelled", "expired", "incomplete":
			msg := evt.Get("last_error.message").String()
			if msg == "" {
				msg = "run " + status
			}
			return kindError, msg
		}
	}
	return kindIgnore, ""
}
