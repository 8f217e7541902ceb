package stomp

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// Frame commands
const (
	CommandConnect   = "CONNECT"
	CommandSubscribe = "SUBSCRIBE"
	CommandSend      = "SEND"
	CommandMessage   = "MESSAGE"
)

const (
	// AcceptVersion lists the protocol versions offered in CONNECT.
	AcceptVersion = "1.2,1.1,1.0"

	// HeartBeat is the heartbeat negotiation sent in CONNECT. The client keeps
	// its own fixed keep-alive interval regardless of what the server answers.
	HeartBeat = "20000,0"

	// SubscriptionID is the fixed id used for the feedback subscription.
	SubscriptionID = "sub-6"

	// FeedbackCommandQueue receives CreateFeedback commands.
	FeedbackCommandQueue = "/queue/feedback.command"

	// KeepAlive is the frame written periodically to keep the socket open.
	KeepAlive = "\n"

	terminator = "\x00"
)

// Header is a single frame header line
type Header struct {
	Key   string
	Value string
}

// Frame is an outgoing STOMP frame
type Frame struct {
	Command string
	Headers []Header
	Body    string
}

// String renders the frame as socket text, NUL terminated
func (f Frame) String() string {
	var b strings.Builder
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for _, h := range f.Headers {
		b.WriteString(h.Key)
		b.WriteByte(':')
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(f.Body)
	b.WriteString(terminator)
	return b.String()
}

// Header returns the value of the first header named key
func (f Frame) Header(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Connect builds the CONNECT frame authenticating the socket
func Connect(token string) Frame {
	return Frame{
		Command: CommandConnect,
		Headers: []Header{
			{"token", token},
			{"accept-version", AcceptVersion},
			{"heart-beat", HeartBeat},
		},
	}
}

// FeedbackTopic is the destination carrying a room's feedback changes
func FeedbackTopic(roomID string) string {
	return "/topic/" + roomID + ".feedback.stream"
}

// Subscribe builds the SUBSCRIBE frame for a room's feedback stream
func Subscribe(roomID string) Frame {
	return Frame{
		Command: CommandSubscribe,
		Headers: []Header{
			{"id", SubscriptionID},
			{"destination", FeedbackTopic(roomID)},
		},
	}
}

type createFeedbackPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Value  uint8  `json:"value"`
}

type createFeedbackBody struct {
	Type    string                `json:"type"`
	Payload createFeedbackPayload `json:"payload"`
}

// Send builds the SEND frame submitting a vote for userID in roomID.
// content-length is the body's character count.
func Send(roomID, userID string, value feedback.Value) Frame {
	body, _ := json.Marshal(createFeedbackBody{
		Type: "CreateFeedback",
		Payload: createFeedbackPayload{
			RoomID: roomID,
			UserID: userID,
			Value:  value.Ordinal(),
		},
	})

	return Frame{
		Command: CommandSend,
		Headers: []Header{
			{"destination", FeedbackCommandQueue},
			{"content-type", "application/json"},
			{"content-length", strconv.Itoa(utf8.RuneCount(body))},
		},
		Body: string(body),
	}
}
