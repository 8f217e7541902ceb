package service

import (
	"context"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// FeedbackService defines all feedback operations of the local relay
type FeedbackService interface {
	// Rooms
	RoomInfo(ctx context.Context, code string) (feedback.RoomInfo, error)
	RoomStats(ctx context.Context, code string) (feedback.RoomStats, error)

	// Feedback
	Feedback(ctx context.Context, code string) (*FeedbackView, error)
	Vote(ctx context.Context, code string, value feedback.Value) error

	// Live streams
	Watch(ctx context.Context, code string) (feedback.RoomInfo, error)
	Unwatch(code string) bool
	Watched() []WatchInfo

	Close()
}

// Backend is the remote feedback service as seen by FeedbackService
type Backend interface {
	RoomInfo(ctx context.Context, shortID string) (feedback.RoomInfo, error)
	Feedback(ctx context.Context, shortID string) (feedback.Feedback, error)
	RoomStats(ctx context.Context, shortID string) (feedback.RoomStats, error)

	// Stream forwards snapshots of the room into snapshots and submits every
	// value read from votes until ctx is done or the socket fails. It must
	// close snapshots when it returns.
	Stream(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error
}

// Broadcaster receives every live snapshot of every watched room
type Broadcaster interface {
	BroadcastFeedback(code string, fb feedback.Feedback)
}
