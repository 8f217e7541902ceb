package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

var (
	ErrClosed     = errors.New("feedback service closed")
	ErrWatchEnded = errors.New("live stream of the room ended")
)

// DefaultBuffer is the capacity of snapshot channels
const DefaultBuffer = 10

// Config holds the optional collaborators of the service
type Config struct {
	// Buffer is the capacity of each watch's snapshot channel. Votes are
	// unbuffered: Vote returns once the live stream has taken the vote.
	Buffer int
	// Broadcaster receives live snapshots. Optional.
	Broadcaster Broadcaster
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// roomWatch is one live stream
type roomWatch struct {
	room   feedback.RoomInfo
	since  time.Time
	votes  chan feedback.Value
	cancel context.CancelFunc
	done   chan struct{}
	// err is why the stream ended, readable once done is closed
	err error

	mu        sync.RWMutex
	latest    feedback.Feedback
	updatedAt time.Time
	snapshots uint64
	queued    uint64
}

func (w *roomWatch) record(fb feedback.Feedback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = fb
	w.updatedAt = time.Now()
	w.snapshots++
}

func (w *roomWatch) info() WatchInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WatchInfo{
		Room:      w.room,
		Since:     w.since,
		Snapshots: w.snapshots,
		Votes:     w.queued,
	}
}

// feedbackServiceImpl implements the FeedbackService interface
type feedbackServiceImpl struct {
	backend     Backend
	broadcaster Broadcaster
	buffer      int
	logger      zerolog.Logger

	// ctx outlives requests; watches derive from it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	roomsMu sync.RWMutex
	rooms   map[string]feedback.RoomInfo

	mu      sync.Mutex
	watches map[string]*roomWatch
	closed  bool
}

// NewFeedbackService creates a new feedback service instance
func NewFeedbackService(backend Backend, config Config) FeedbackService {
	buffer := config.Buffer
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &feedbackServiceImpl{
		backend:     backend,
		broadcaster: config.Broadcaster,
		buffer:      buffer,
		logger:      logger.With().Str("module", "service").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[string]feedback.RoomInfo),
		watches:     make(map[string]*roomWatch),
	}
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

// RoomInfo resolves a room code, caching the identity
func (s *feedbackServiceImpl) RoomInfo(ctx context.Context, code string) (feedback.RoomInfo, error) {
	code = normalizeCode(code)

	s.roomsMu.RLock()
	room, ok := s.rooms[code]
	s.roomsMu.RUnlock()
	if ok {
		return room, nil
	}

	room, err := s.backend.RoomInfo(ctx, code)
	if err != nil {
		return feedback.RoomInfo{}, err
	}
	if room.ShortID == "" {
		room.ShortID = code
	}

	s.roomsMu.Lock()
	s.rooms[code] = room
	s.roomsMu.Unlock()

	return room, nil
}

// RoomStats reads the activity counters of a room
func (s *feedbackServiceImpl) RoomStats(ctx context.Context, code string) (feedback.RoomStats, error) {
	return s.backend.RoomStats(ctx, normalizeCode(code))
}

// Feedback returns the latest live snapshot of a watched room, falling back
// to a REST read when the room is not watched or nothing arrived yet.
func (s *feedbackServiceImpl) Feedback(ctx context.Context, code string) (*FeedbackView, error) {
	code = normalizeCode(code)

	if w := s.lookup(code); w != nil {
		w.mu.RLock()
		snapshots, latest, updatedAt := w.snapshots, w.latest, w.updatedAt
		w.mu.RUnlock()

		if snapshots > 0 {
			return &FeedbackView{
				Room:      code,
				Feedback:  latest,
				Votes:     latest.CountVotes(),
				Live:      true,
				UpdatedAt: &updatedAt,
			}, nil
		}
	}

	fb, err := s.backend.Feedback(ctx, code)
	if err != nil {
		return nil, err
	}

	return &FeedbackView{
		Room:     code,
		Feedback: fb,
		Votes:    fb.CountVotes(),
	}, nil
}

// Vote submits value through the room's live stream, starting one if needed
func (s *feedbackServiceImpl) Vote(ctx context.Context, code string, value feedback.Value) error {
	if !value.Valid() {
		return fmt.Errorf("%w: %d", feedback.ErrInvalidValue, value)
	}

	w, err := s.watch(ctx, normalizeCode(code))
	if err != nil {
		return err
	}

	select {
	case w.votes <- value:
		w.mu.Lock()
		w.queued++
		w.mu.Unlock()
		s.logger.Debug().Str("room", w.room.ShortID).Str("vote", value.String()).Msg("vote handed to stream")
		return nil
	case <-w.done:
		if w.err != nil && !errors.Is(w.err, ErrWatchEnded) {
			return fmt.Errorf("%w: %w", ErrWatchEnded, w.err)
		}
		return ErrWatchEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch starts the live stream of a room unless it is already running
func (s *feedbackServiceImpl) Watch(ctx context.Context, code string) (feedback.RoomInfo, error) {
	w, err := s.watch(ctx, normalizeCode(code))
	if err != nil {
		return feedback.RoomInfo{}, err
	}
	return w.room, nil
}

func (s *feedbackServiceImpl) watch(ctx context.Context, code string) (*roomWatch, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if w, ok := s.watches[code]; ok {
		s.mu.Unlock()
		return w, nil
	}
	s.mu.Unlock()

	// Resolve outside the lock; unknown rooms fail here
	room, err := s.RoomInfo(ctx, code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after reacquiring the lock
	if s.closed {
		return nil, ErrClosed
	}
	if w, ok := s.watches[code]; ok {
		return w, nil
	}

	watchCtx, cancel := context.WithCancel(s.ctx)
	w := &roomWatch{
		room:   room,
		since:  time.Now(),
		votes:  make(chan feedback.Value),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.watches[code] = w

	s.wg.Add(1)
	go s.run(watchCtx, code, w)

	s.logger.Info().Str("room", code).Str("room_id", room.ID).Msg("watching room")
	return w, nil
}

// run pumps snapshots of one watch to the broadcaster until its stream ends
func (s *feedbackServiceImpl) run(ctx context.Context, code string, w *roomWatch) {
	defer s.wg.Done()
	defer close(w.done)
	defer w.cancel()

	snapshots := make(chan feedback.Feedback, s.buffer)
	streamErr := make(chan error, 1)

	go func() {
		streamErr <- s.backend.Stream(ctx, code, snapshots, w.votes)
	}()

	for fb := range snapshots {
		w.record(fb)
		if s.broadcaster != nil {
			s.broadcaster.BroadcastFeedback(w.room.ShortID, fb)
		}
	}

	err := <-streamErr
	w.err = err
	s.forget(code, w)

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("room", code).Msg("live stream ended")
		return
	}
	s.logger.Info().Str("room", code).Msg("stopped watching room")
}

// forget removes w unless it was already replaced
func (s *feedbackServiceImpl) forget(code string, w *roomWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watches[code] == w {
		delete(s.watches, code)
	}
}

func (s *feedbackServiceImpl) lookup(code string) *roomWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches[code]
}

// Unwatch stops the live stream of a room
func (s *feedbackServiceImpl) Unwatch(code string) bool {
	code = normalizeCode(code)

	s.mu.Lock()
	w, ok := s.watches[code]
	if ok {
		delete(s.watches, code)
	}
	s.mu.Unlock()

	if ok {
		w.cancel()
	}
	return ok
}

// Watched lists the watched rooms ordered by code
func (s *feedbackServiceImpl) Watched() []WatchInfo {
	s.mu.Lock()
	watches := make([]*roomWatch, 0, len(s.watches))
	for _, w := range s.watches {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	result := make([]WatchInfo, 0, len(watches))
	for _, w := range watches {
		result = append(result, w.info())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Room.ShortID < result[j].Room.ShortID
	})
	return result
}

// Close stops every watch and waits for their streams to end
func (s *feedbackServiceImpl) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
