// Package feedback defines the value types exchanged with a live-feedback room.
//
// The feedback package implements:
//   - Feedback, the cumulative vote tally of a room in fixed rank order
//   - Value, a single vote rank submitted by the local user
//   - RoomInfo and RoomStats, the resolved identity and summary of a room
//
// Snapshots:
//
// A Feedback value is a full snapshot, not a delta. Each snapshot received
// from the service replaces the previous one; consumers must not add them up.
//
// Vote Ranks:
//
// Ranks are ordered best to worst and travel on the wire as their ordinal:
//
//	VeryGood (A) = 0
//	Good     (B) = 1
//	Bad      (C) = 2
//	VeryBad  (D) = 3
//
// The letter constants are aliases for the same ordinals, so A == VeryGood.
//
// Usage:
//
//	v, err := feedback.ParseValue("good")
//	fb := feedback.FromValues([4]uint32{3, 5, 0, 1})
//	fmt.Println(fb.CountVotes()) // 9
package feedback
