package stomp

import (
	"encoding/json"
	"strings"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// FeedbackChanged is the body type announcing a new tally
const FeedbackChanged = "FeedbackChanged"

type feedbackBody struct {
	Type    string `json:"type"`
	Payload struct {
		Values []uint32 `json:"values"`
	} `json:"payload"`
}

// IsMessage reports whether raw is a MESSAGE frame
func IsMessage(raw string) bool {
	return strings.HasPrefix(raw, CommandMessage)
}

// Body returns the part of raw after the last blank line with NUL bytes and
// surrounding whitespace removed. A frame without a blank line is all body.
func Body(raw string) string {
	body := raw
	if i := strings.LastIndex(raw, "\n\n"); i >= 0 {
		body = raw[i+2:]
	}
	return strings.TrimSpace(strings.ReplaceAll(body, terminator, ""))
}

// ParseFeedback decodes a FeedbackChanged MESSAGE frame. The boolean is false
// for anything else: other frame kinds, other body types, malformed JSON, or
// a values array that is not exactly four non-negative integers.
func ParseFeedback(raw string) (feedback.Feedback, bool) {
	if !IsMessage(raw) {
		return feedback.Feedback{}, false
	}

	var body feedbackBody
	if err := json.Unmarshal([]byte(Body(raw)), &body); err != nil {
		return feedback.Feedback{}, false
	}
	if body.Type != FeedbackChanged || len(body.Payload.Values) != 4 {
		return feedback.Feedback{}, false
	}

	var values [4]uint32
	copy(values[:], body.Payload.Values)
	return feedback.FromValues(values), true
}
