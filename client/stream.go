package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
	"github.com/wricardo/mcp-training/livefeedback/metrics"
	"github.com/wricardo/mcp-training/livefeedback/transport/stomp"
)

// Time allowed to write a frame to the socket.
const writeWait = 10 * time.Second

var errInvalidHandler = errors.New("client: handler has no callback or channel")

// conn is the part of *websocket.Conn a stream uses
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// stream is one live socket subscribed to one room
type stream struct {
	conn      conn
	room      feedback.RoomInfo
	userID    string
	keepAlive time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// OnFeedbackChanged streams the feedback of the room named by shortID into
// handler until the socket fails, ctx is done, or, for Exchange handlers,
// the vote channel is closed.
//
// Setup failures (room resolution, socket upgrade, CONNECT, SUBSCRIBE) are
// returned as *Error before any snapshot is delivered. A failed socket read
// returns an error wrapping ErrStreamEnded; cancellation returns ctx.Err();
// a closed vote channel returns nil. Channels passed via SendTo or Exchange
// are closed when OnFeedbackChanged returns.
func (s *Session) OnFeedbackChanged(ctx context.Context, shortID string, handler Handler) error {
	defer release(handler)
	if err := validateHandler(handler); err != nil {
		return err
	}

	st, err := s.openStream(ctx, shortID, needsUserID(handler))
	if err != nil {
		return err
	}
	return st.run(ctx, handler)
}

// RegisterFeedbackReceiver submits every vote read from votes to the room
// named by shortID. Incoming snapshots are discarded. Closing votes does not
// end the stream: it runs until the socket fails or ctx is done.
func (s *Session) RegisterFeedbackReceiver(ctx context.Context, shortID string, votes <-chan feedback.Value) error {
	if votes == nil {
		return errInvalidHandler
	}

	st, err := s.openStream(ctx, shortID, true)
	if err != nil {
		return err
	}
	return st.run(ctx, voteOnlyHandler{outgoing: votes})
}

func validateHandler(handler Handler) error {
	switch h := handler.(type) {
	case funcHandler:
		if h.fn == nil {
			return errInvalidHandler
		}
	case senderHandler:
		if h.snapshots == nil {
			return errInvalidHandler
		}
	case exchangeHandler:
		if h.snapshots == nil || h.outgoing == nil {
			return errInvalidHandler
		}
	default:
		return errInvalidHandler
	}
	return nil
}

// openStream runs the setup sequence: resolve, dial, CONNECT, SUBSCRIBE.
// Nothing is left open when it fails.
func (s *Session) openStream(ctx context.Context, shortID string, withUserID bool) (*stream, error) {
	token, err := s.requireToken("stream")
	if err != nil {
		return nil, err
	}

	room, err := s.RoomInfo(ctx, shortID)
	if err != nil {
		return nil, err
	}

	var userID string
	if withUserID {
		if userID, err = s.UserID(); err != nil {
			return nil, err
		}
	}

	c := s.client
	logger := c.logger.With().Str("room", room.ShortID).Str("room_id", room.ID).Logger()

	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	ws, resp, err := c.dialer.DialContext(ctx, c.socketURL, header)
	if err != nil {
		if resp != nil {
			return nil, &Error{Op: "open socket", Kind: KindConnection, Message: fmt.Sprintf("upgrade status %d", resp.StatusCode), Err: err}
		}
		return nil, connectionError("open socket", err)
	}

	st := &stream{
		conn:      ws,
		room:      room,
		userID:    userID,
		keepAlive: c.keepAlive,
		logger:    logger,
		metrics:   c.metrics,
	}

	if err := st.write(stomp.Connect(token).String()); err != nil {
		ws.Close()
		return nil, connectionError("connect", err)
	}
	if err := st.write(stomp.Subscribe(room.ID).String()); err != nil {
		ws.Close()
		return nil, connectionError("subscribe", err)
	}

	logger.Info().Str("url", c.socketURL).Msg("subscribed to feedback stream")
	return st, nil
}

// run is the multiplexing loop. This goroutine is the only socket writer;
// readLoop is the only reader.
func (st *stream) run(ctx context.Context, handler Handler) error {
	st.metrics.StreamStarted()
	defer st.metrics.StreamEnded()

	frames := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})

	defer st.conn.Close()
	defer close(done)

	go st.readLoop(frames, readErr, done)

	ticker := time.NewTicker(st.keepAlive)
	defer ticker.Stop()

	votes := outgoingVotes(handler)
	_, exclusive := handler.(exchangeHandler)
	_, discard := handler.(voteOnlyHandler)

	for {
		select {
		case <-ctx.Done():
			st.logger.Debug().Msg("stream cancelled")
			return ctx.Err()

		case err := <-readErr:
			st.logger.Info().Err(err).Msg("stream ended")
			return fmt.Errorf("%w: %w", ErrStreamEnded, err)

		case raw := <-frames:
			fb, ok := st.decode(raw)
			if !ok {
				continue
			}
			if discard {
				continue
			}
			if err := dispatch(ctx, handler, fb); err != nil {
				return err
			}
			st.metrics.SnapshotDelivered()

		case value, ok := <-votes:
			if !ok {
				if exclusive {
					st.logger.Debug().Msg("vote channel closed")
					return nil
				}
				votes = nil
				continue
			}
			st.sendVote(value)

		case <-ticker.C:
			st.sendKeepAlive()
		}
	}
}

// readLoop forwards text frames until a read fails. Each frame is handed
// over before the next read, so a frame read before a failure is always
// seen by run before the failure is.
func (st *stream) readLoop(frames chan<- string, readErr chan<- error, done <-chan struct{}) {
	for {
		messageType, data, err := st.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if messageType != websocket.TextMessage {
			st.metrics.FrameReceived(metrics.FrameOther)
			continue
		}

		select {
		case frames <- string(data):
		case <-done:
			return
		}
	}
}

// decode extracts a snapshot. Frames that are not MESSAGE frames are noise;
// MESSAGE frames without a usable FeedbackChanged body are dropped with a
// debug line.
func (st *stream) decode(raw string) (feedback.Feedback, bool) {
	if !stomp.IsMessage(raw) {
		st.metrics.FrameReceived(metrics.FrameOther)
		return feedback.Feedback{}, false
	}

	fb, ok := stomp.ParseFeedback(raw)
	if !ok {
		st.metrics.FrameReceived(metrics.FrameMalformed)
		st.logger.Debug().Int("bytes", len(raw)).Msg("dropping message frame without feedback payload")
		return feedback.Feedback{}, false
	}

	st.metrics.FrameReceived(metrics.FrameFeedback)
	return fb, true
}

// sendVote writes one vote. Ranks outside 0-3 are dropped unwritten.
func (st *stream) sendVote(value feedback.Value) {
	if !value.Valid() {
		st.metrics.VoteDropped()
		st.logger.Warn().Uint8("ordinal", value.Ordinal()).Msg("dropping vote with invalid rank")
		return
	}
	if err := st.write(stomp.Send(st.room.ID, st.userID, value).String()); err != nil {
		st.metrics.WriteFailed(metrics.FrameVote)
		st.logger.Warn().Err(err).Str("vote", value.String()).Msg("failed to send vote")
		return
	}
	st.metrics.VoteSent()
	st.logger.Debug().Str("vote", value.String()).Msg("vote sent")
}

func (st *stream) sendKeepAlive() {
	if err := st.write(stomp.KeepAlive); err != nil {
		st.metrics.WriteFailed(metrics.FrameKeepAlive)
		st.logger.Warn().Err(err).Msg("failed to send keep-alive")
		return
	}
	st.metrics.KeepAliveSent()
}

func (st *stream) write(frame string) error {
	if err := st.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return st.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
