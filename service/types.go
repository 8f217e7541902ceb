package service

import (
	"time"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// FeedbackView is the current tally of a room
type FeedbackView struct {
	Room      string            `json:"room"`
	Feedback  feedback.Feedback `json:"feedback"`
	Votes     uint64            `json:"votes"`
	Live      bool              `json:"live"`                 // from a watched stream rather than a REST read
	UpdatedAt *time.Time        `json:"updated_at,omitempty"` // last live snapshot
}

// WatchInfo describes a watched room
type WatchInfo struct {
	Room      feedback.RoomInfo `json:"room"`
	Since     time.Time         `json:"since"`
	Snapshots uint64            `json:"snapshots"`
	Votes     uint64            `json:"votes_queued"`
}
