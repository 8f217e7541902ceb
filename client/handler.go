package client

import (
	"context"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// Handler receives the snapshots of a stream. The set of shapes is closed:
// build one with HandleFunc, SendTo or Exchange.
type Handler interface {
	isHandler()
}

type funcHandler struct {
	fn func(feedback.Feedback)
}

type senderHandler struct {
	snapshots chan<- feedback.Feedback
}

type exchangeHandler struct {
	snapshots chan<- feedback.Feedback
	outgoing  <-chan feedback.Value
}

// voteOnlyHandler backs RegisterFeedbackReceiver: snapshots are dropped and
// a closed vote channel is tolerated.
type voteOnlyHandler struct {
	outgoing <-chan feedback.Value
}

func (funcHandler) isHandler()     {}
func (senderHandler) isHandler()   {}
func (exchangeHandler) isHandler() {}
func (voteOnlyHandler) isHandler() {}

// HandleFunc calls fn for every snapshot. fn runs on the stream's loop
// goroutine and must not block: while it runs no frames are read, no votes
// are sent and no keep-alives go out.
func HandleFunc(fn func(feedback.Feedback)) Handler {
	return funcHandler{fn: fn}
}

// SendTo forwards every snapshot into snapshots. When the channel is full
// the stream waits for the consumer. The stream takes ownership of the
// channel and closes it when it returns.
func SendTo(snapshots chan<- feedback.Feedback) Handler {
	return senderHandler{snapshots: snapshots}
}

// Exchange forwards snapshots like SendTo and also submits every vote read
// from outgoing. Closing outgoing ends the stream.
func Exchange(snapshots chan<- feedback.Feedback, outgoing <-chan feedback.Value) Handler {
	return exchangeHandler{snapshots: snapshots, outgoing: outgoing}
}

// dispatch hands a snapshot to the handler. It only fails when ctx is done
// while waiting on a full channel.
func dispatch(ctx context.Context, handler Handler, fb feedback.Feedback) error {
	switch h := handler.(type) {
	case funcHandler:
		h.fn(fb)
	case senderHandler:
		return send(ctx, h.snapshots, fb)
	case exchangeHandler:
		return send(ctx, h.snapshots, fb)
	case voteOnlyHandler:
	}
	return nil
}

// outgoingVotes returns the vote source of the handler, nil if it has none
func outgoingVotes(handler Handler) <-chan feedback.Value {
	switch h := handler.(type) {
	case exchangeHandler:
		return h.outgoing
	case voteOnlyHandler:
		return h.outgoing
	}
	return nil
}

// needsUserID reports whether the handler can submit votes
func needsUserID(handler Handler) bool {
	return outgoingVotes(handler) != nil
}

// release closes the snapshot channel owned by the handler
func release(handler Handler) {
	switch h := handler.(type) {
	case senderHandler:
		if h.snapshots != nil {
			close(h.snapshots)
		}
	case exchangeHandler:
		if h.snapshots != nil {
			close(h.snapshots)
		}
	}
}

func send(ctx context.Context, snapshots chan<- feedback.Feedback, fb feedback.Feedback) error {
	select {
	case snapshots <- fb:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
