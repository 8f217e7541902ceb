package stomp

import (
	"testing"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

func messageFrame(body string) string {
	return "MESSAGE\ndestination:/topic/room-1.feedback.stream\nsubscription:sub-6\nmessage-id:1\ncontent-length:" +
		"0\n\n" + body + "\x00"
}

func TestParseFeedbackChanged(t *testing.T) {
	raw := messageFrame(`{"type":"FeedbackChanged","payload":{"values":[3,5,0,1]}}`)

	fb, ok := ParseFeedback(raw)
	if !ok {
		t.Fatal("Expected FeedbackChanged frame to decode")
	}

	expected := feedback.Feedback{VeryGood: 3, Good: 5, Bad: 0, VeryBad: 1}
	if fb != expected {
		t.Errorf("Expected %+v, got %+v", expected, fb)
	}
}

func TestParseFeedbackTrimsWhitespace(t *testing.T) {
	raw := messageFrame("  \n{\"type\":\"FeedbackChanged\",\"payload\":{\"values\":[1,2,3,4]}}\n ")

	fb, ok := ParseFeedback(raw)
	if !ok {
		t.Fatal("Expected padded body to decode")
	}
	if fb.Values() != [4]uint32{1, 2, 3, 4} {
		t.Errorf("Unexpected values: %v", fb.Values())
	}
}

func TestParseFeedbackIgnored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"other type", messageFrame(`{"type":"FeedbackReset","payload":{"values":[3,5,0,1]}}`)},
		{"malformed json", messageFrame(`{"type":"FeedbackChanged","payload":`)},
		{"too few values", messageFrame(`{"type":"FeedbackChanged","payload":{"values":[1,2,3]}}`)},
		{"too many values", messageFrame(`{"type":"FeedbackChanged","payload":{"values":[1,2,3,4,5]}}`)},
		{"negative value", messageFrame(`{"type":"FeedbackChanged","payload":{"values":[1,-2,3,4]}}`)},
		{"connected frame", "CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"},
		{"receipt frame", "RECEIPT\nreceipt-id:1\n\n\x00"},
		{"server heartbeat", "\n"},
		{"empty", ""},
		{"lowercase marker", "message\n\n" + `{"type":"FeedbackChanged","payload":{"values":[1,2,3,4]}}`},
	}

	for _, test := range tests {
		if fb, ok := ParseFeedback(test.raw); ok {
			t.Errorf("%s: expected frame to be ignored, got %+v", test.name, fb)
		}
	}
}

func TestIsMessage(t *testing.T) {
	if !IsMessage("MESSAGE\n\n{}") {
		t.Error("Expected MESSAGE frame to be recognized")
	}
	if IsMessage("ERROR\nmessage:MESSAGE\n\n") {
		t.Error("Marker must be at the start of the frame")
	}
}

func TestBody(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"MESSAGE\na:b\n\n{\"x\":1}\x00", `{"x":1}`},
		{"{\"x\":1}", `{"x":1}`},
		{"MESSAGE\n\n\x00", ""},
	}

	for _, test := range tests {
		if got := Body(test.raw); got != test.expected {
			t.Errorf("Body(%q): expected %q, got %q", test.raw, test.expected, got)
		}
	}
}
