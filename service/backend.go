package service

import (
	"context"

	"github.com/wricardo/mcp-training/livefeedback/client"
	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// SessionBackend serves Backend from an authenticated client session
type SessionBackend struct {
	*client.Session
}

// Stream runs an Exchange stream. The session closes snapshots on return.
func (b SessionBackend) Stream(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
	return b.OnFeedbackChanged(ctx, shortID, client.Exchange(snapshots, votes))
}
