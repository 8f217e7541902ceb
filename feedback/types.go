package feedback

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidValue = errors.New("invalid feedback value")

// Value is a single vote rank
type Value uint8

const (
	VeryGood Value = iota
	Good
	Bad
	VeryBad
)

// Letter aliases used by the service's button labels
const (
	A = VeryGood
	B = Good
	C = Bad
	D = VeryBad
)

var valueNames = [...]string{"very_good", "good", "bad", "very_bad"}

// Values lists every rank in wire order
func Values() []Value {
	return []Value{VeryGood, Good, Bad, VeryBad}
}

// Ordinal returns the wire encoding of the rank (0-3)
func (v Value) Ordinal() uint8 {
	return uint8(v)
}

// Valid reports whether v is one of the four ranks
func (v Value) Valid() bool {
	return v <= VeryBad
}

func (v Value) String() string {
	if !v.Valid() {
		return fmt.Sprintf("Value(%d)", uint8(v))
	}
	return valueNames[v]
}

// FromOrdinal converts a wire ordinal back into a rank
func FromOrdinal(n uint8) (Value, error) {
	v := Value(n)
	if !v.Valid() {
		return 0, fmt.Errorf("%w: ordinal %d", ErrInvalidValue, n)
	}
	return v, nil
}

// ParseValue accepts a rank name or its letter alias, case-insensitively.
// Dashes, spaces and underscores are interchangeable ("very-good", "Very Good").
func ParseValue(s string) (Value, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch normalized {
	case "very_good", "verygood", "a":
		return VeryGood, nil
	case "good", "b":
		return Good, nil
	case "bad", "c":
		return Bad, nil
	case "very_bad", "verybad", "d":
		return VeryBad, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidValue, s)
}

// ValueFromKey maps a keypress to a rank. Buttons are numbered 1-4 and
// lettered a-d in the order they are shown.
func ValueFromKey(key string) (Value, bool) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "1", "a":
		return VeryGood, true
	case "2", "b":
		return Good, true
	case "3", "c":
		return Bad, true
	case "4", "d":
		return VeryBad, true
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler
func (v Value) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: ordinal %d", ErrInvalidValue, uint8(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Value) UnmarshalText(text []byte) error {
	parsed, err := ParseValue(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Feedback is the cumulative vote tally of a room, best rank first
type Feedback struct {
	VeryGood uint32 `json:"very_good"`
	Good     uint32 `json:"good"`
	Bad      uint32 `json:"bad"`
	VeryBad  uint32 `json:"very_bad"`
}

// FromValues builds a snapshot from positional counters
func FromValues(values [4]uint32) Feedback {
	return Feedback{
		VeryGood: values[0],
		Good:     values[1],
		Bad:      values[2],
		VeryBad:  values[3],
	}
}

// Values returns the counters in rank order
func (f Feedback) Values() [4]uint32 {
	return [4]uint32{f.VeryGood, f.Good, f.Bad, f.VeryBad}
}

// Count returns the counter for a single rank
func (f Feedback) Count(v Value) uint32 {
	if !v.Valid() {
		return 0
	}
	return f.Values()[v]
}

// CountVotes returns the total number of votes
func (f Feedback) CountVotes() uint64 {
	return uint64(f.VeryGood) + uint64(f.Good) + uint64(f.Bad) + uint64(f.VeryBad)
}

// Share returns the fraction of votes cast for v, or 0 when nobody voted
func (f Feedback) Share(v Value) float64 {
	total := f.CountVotes()
	if total == 0 {
		return 0
	}
	return float64(f.Count(v)) / float64(total)
}

// RoomInfo is the resolved identity of a room
type RoomInfo struct {
	ID          string `json:"id"`
	ShortID     string `json:"short_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoomStats summarizes room activity
type RoomStats struct {
	ContentCount    int `json:"content_count"`
	AckCommentCount int `json:"ack_comment_count"`
	RoomUserCount   int `json:"room_user_count"`
}
