package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/livefeedback/client"
	"github.com/wricardo/mcp-training/livefeedback/feedback"
	"github.com/wricardo/mcp-training/livefeedback/service"
)

// MockBackend implements service.Backend for testing
type MockBackend struct {
	RoomInfoFunc  func(ctx context.Context, shortID string) (feedback.RoomInfo, error)
	FeedbackFunc  func(ctx context.Context, shortID string) (feedback.Feedback, error)
	RoomStatsFunc func(ctx context.Context, shortID string) (feedback.RoomStats, error)
	StreamFunc    func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error

	roomCalls   atomic.Int32
	streamCalls atomic.Int32
}

func (m *MockBackend) RoomInfo(ctx context.Context, shortID string) (feedback.RoomInfo, error) {
	m.roomCalls.Add(1)
	if m.RoomInfoFunc != nil {
		return m.RoomInfoFunc(ctx, shortID)
	}
	return feedback.RoomInfo{ID: "id-" + shortID, ShortID: shortID, Name: "Test room"}, nil
}

func (m *MockBackend) Feedback(ctx context.Context, shortID string) (feedback.Feedback, error) {
	if m.FeedbackFunc != nil {
		return m.FeedbackFunc(ctx, shortID)
	}
	return feedback.Feedback{Good: 2}, nil
}

func (m *MockBackend) RoomStats(ctx context.Context, shortID string) (feedback.RoomStats, error) {
	if m.RoomStatsFunc != nil {
		return m.RoomStatsFunc(ctx, shortID)
	}
	return feedback.RoomStats{RoomUserCount: 3}, nil
}

func (m *MockBackend) Stream(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
	m.streamCalls.Add(1)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, shortID, snapshots, votes)
	}
	defer close(snapshots)
	<-ctx.Done()
	return ctx.Err()
}

// broadcast is one call to BroadcastFeedback
type broadcast struct {
	code string
	fb   feedback.Feedback
}

type recordingBroadcaster struct {
	calls chan broadcast
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{calls: make(chan broadcast, 10)}
}

func (b *recordingBroadcaster) BroadcastFeedback(code string, fb feedback.Feedback) {
	b.calls <- broadcast{code: code, fb: fb}
}

func newTestService(t *testing.T, backend service.Backend, broadcaster service.Broadcaster) service.FeedbackService {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewFeedbackService(backend, service.Config{
		Buffer:      2,
		Broadcaster: broadcaster,
		Logger:      &logger,
	})
	t.Cleanup(svc.Close)
	return svc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoomInfoIsCached(t *testing.T) {
	backend := &MockBackend{}
	svc := newTestService(t, backend, nil)
	ctx := context.Background()

	first, err := svc.RoomInfo(ctx, "12345678")
	if err != nil {
		t.Fatalf("RoomInfo failed: %v", err)
	}
	second, err := svc.RoomInfo(ctx, " 1234 5678 ")
	if err != nil {
		t.Fatalf("RoomInfo failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected identical rooms, got %+v and %+v", first, second)
	}
	if calls := backend.roomCalls.Load(); calls != 1 {
		t.Errorf("Expected 1 backend call, got %d", calls)
	}
}

func TestRoomInfoNotFound(t *testing.T) {
	backend := &MockBackend{
		RoomInfoFunc: func(ctx context.Context, shortID string) (feedback.RoomInfo, error) {
			return feedback.RoomInfo{}, &client.Error{Kind: client.KindRoomNotFound, ShortID: shortID}
		},
	}
	svc := newTestService(t, backend, nil)

	_, err := svc.RoomInfo(context.Background(), "00000000")
	if !client.IsKind(err, client.KindRoomNotFound) {
		t.Errorf("Expected KindRoomNotFound, got %v", err)
	}

	// Failures are not cached
	svc.RoomInfo(context.Background(), "00000000")
	if calls := backend.roomCalls.Load(); calls != 2 {
		t.Errorf("Expected 2 backend calls, got %d", calls)
	}

	if _, err := svc.Watch(context.Background(), "00000000"); !client.IsKind(err, client.KindRoomNotFound) {
		t.Errorf("Expected Watch to fail with KindRoomNotFound, got %v", err)
	}
	if backend.streamCalls.Load() != 0 {
		t.Error("No stream should start for an unknown room")
	}
}

func TestFeedbackWithoutWatch(t *testing.T) {
	svc := newTestService(t, &MockBackend{}, nil)

	view, err := svc.Feedback(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}

	if view.Live {
		t.Error("Unwatched room should not report live data")
	}
	if view.Feedback != (feedback.Feedback{Good: 2}) || view.Votes != 2 {
		t.Errorf("Unexpected view %+v", view)
	}
	if view.UpdatedAt != nil {
		t.Error("REST reads carry no update time")
	}
}

func TestRoomStats(t *testing.T) {
	svc := newTestService(t, &MockBackend{}, nil)

	stats, err := svc.RoomStats(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("RoomStats failed: %v", err)
	}
	if stats.RoomUserCount != 3 {
		t.Errorf("Expected 3 users, got %d", stats.RoomUserCount)
	}
}

func TestWatchBroadcastsSnapshots(t *testing.T) {
	backend := &MockBackend{
		StreamFunc: func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
			defer close(snapshots)
			snapshots <- feedback.Feedback{VeryGood: 1, Good: 2, Bad: 3, VeryBad: 4}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestService(t, backend, broadcaster)

	room, err := svc.Watch(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if room.ID != "id-12345678" {
		t.Errorf("Unexpected room %+v", room)
	}

	select {
	case call := <-broadcaster.calls:
		if call.code != "12345678" || call.fb.CountVotes() != 10 {
			t.Errorf("Unexpected broadcast %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot was not broadcast")
	}

	waitFor(t, "live feedback", func() bool {
		view, err := svc.Feedback(context.Background(), "12345678")
		return err == nil && view.Live
	})

	view, _ := svc.Feedback(context.Background(), "12345678")
	if view.Feedback.VeryBad != 4 || view.UpdatedAt == nil {
		t.Errorf("Unexpected live view %+v", view)
	}

	watched := svc.Watched()
	if len(watched) != 1 || watched[0].Snapshots != 1 {
		t.Errorf("Unexpected watch list %+v", watched)
	}
}

func TestWatchIsIdempotent(t *testing.T) {
	backend := &MockBackend{}
	svc := newTestService(t, backend, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Watch(ctx, "12345678"); err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
	}

	waitFor(t, "stream start", func() bool { return backend.streamCalls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)

	if calls := backend.streamCalls.Load(); calls != 1 {
		t.Errorf("Expected one stream, got %d", calls)
	}
	if len(svc.Watched()) != 1 {
		t.Errorf("Expected one watched room, got %d", len(svc.Watched()))
	}
}

func TestVoteGoesThroughStream(t *testing.T) {
	received := make(chan feedback.Value, 1)
	backend := &MockBackend{
		StreamFunc: func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
			defer close(snapshots)
			for {
				select {
				case v := <-votes:
					received <- v
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
	svc := newTestService(t, backend, nil)

	if err := svc.Vote(context.Background(), "12345678", feedback.Bad); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	select {
	case v := <-received:
		if v != feedback.Bad {
			t.Errorf("Expected Bad, got %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("vote never reached the stream")
	}

	watched := svc.Watched()
	if len(watched) != 1 || watched[0].Votes != 1 {
		t.Errorf("Expected one queued vote, got %+v", watched)
	}
}

func TestVoteOnFailedStreamIsNotAccepted(t *testing.T) {
	backend := &MockBackend{
		StreamFunc: func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
			close(snapshots)
			return client.ErrStreamEnded
		},
	}
	svc := newTestService(t, backend, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := svc.Vote(ctx, "12345678", feedback.Good)
	if !errors.Is(err, service.ErrWatchEnded) {
		t.Fatalf("Expected ErrWatchEnded, got %v", err)
	}
	if !errors.Is(err, client.ErrStreamEnded) {
		t.Errorf("Expected the stream failure to be wrapped, got %v", err)
	}
}

func TestVoteInvalidValue(t *testing.T) {
	backend := &MockBackend{}
	svc := newTestService(t, backend, nil)

	err := svc.Vote(context.Background(), "12345678", feedback.Value(9))
	if !errors.Is(err, feedback.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
	if backend.streamCalls.Load() != 0 {
		t.Error("An invalid vote should not start a stream")
	}
}

func TestEndedStreamIsForgotten(t *testing.T) {
	var calls atomic.Int32
	backend := &MockBackend{
		StreamFunc: func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
			close(snapshots)
			if calls.Add(1) == 1 {
				return client.ErrStreamEnded
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	svc := newTestService(t, backend, nil)

	if _, err := svc.Watch(context.Background(), "12345678"); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	waitFor(t, "ended watch to be forgotten", func() bool { return len(svc.Watched()) == 0 })

	// A new watch opens a fresh stream
	if _, err := svc.Watch(context.Background(), "12345678"); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	waitFor(t, "second stream", func() bool { return calls.Load() == 2 })
	if len(svc.Watched()) != 1 {
		t.Error("Expected the room to be watched again")
	}
}

func TestUnwatchCancelsStream(t *testing.T) {
	cancelled := make(chan struct{})
	backend := &MockBackend{
		StreamFunc: func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
			defer close(snapshots)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}
	svc := newTestService(t, backend, nil)

	if _, err := svc.Watch(context.Background(), "12345678"); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	waitFor(t, "stream start", func() bool { return backend.streamCalls.Load() == 1 })

	if !svc.Unwatch("12345678") {
		t.Error("Unwatch should report a watched room")
	}
	if svc.Unwatch("12345678") {
		t.Error("Second Unwatch should report nothing to stop")
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("stream context was not cancelled")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	var mu sync.Mutex
	running := 0
	backend := &MockBackend{
		StreamFunc: func(ctx context.Context, shortID string, snapshots chan<- feedback.Feedback, votes <-chan feedback.Value) error {
			defer close(snapshots)
			mu.Lock()
			running++
			mu.Unlock()

			<-ctx.Done()

			mu.Lock()
			running--
			mu.Unlock()
			return ctx.Err()
		},
	}
	logger := zerolog.Nop()
	svc := service.NewFeedbackService(backend, service.Config{Logger: &logger})

	for _, code := range []string{"11111111", "22222222"} {
		if _, err := svc.Watch(context.Background(), code); err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
	}
	waitFor(t, "streams to start", func() bool { return backend.streamCalls.Load() == 2 })

	svc.Close()

	mu.Lock()
	if running != 0 {
		t.Errorf("Expected all streams stopped, %d still running", running)
	}
	mu.Unlock()

	if _, err := svc.Watch(context.Background(), "11111111"); !errors.Is(err, service.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := svc.Vote(context.Background(), "11111111", feedback.Good); !errors.Is(err, service.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
