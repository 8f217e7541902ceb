package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
	"github.com/wricardo/mcp-training/livefeedback/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outgoing messages buffered per viewer before it is dropped.
	sendBuffer = 64
)

// Events pushed to viewers
const (
	EventJoined       = "joined"
	EventFeedback     = "feedback"
	EventVoteAccepted = "vote_accepted"
	EventError        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The relay is meant for local viewers and the tunnel
		return true
	},
}

// Message is pushed to viewers
type Message struct {
	Room     string             `json:"room"`
	Event    string             `json:"event"`
	Feedback *feedback.Feedback `json:"feedback,omitempty"`
	Votes    uint64             `json:"votes,omitempty"`
	Viewer   string             `json:"viewer,omitempty"`
	Vote     string             `json:"vote,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// VoteRequest is what a viewer sends to vote
type VoteRequest struct {
	Vote string `json:"vote"`
}

// VoteFunc submits a vote on behalf of a viewer
type VoteFunc func(value feedback.Value) error

// Viewer is one websocket connection following one room
type Viewer struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	room   string
	onVote VoteFunc
}

// ID returns the viewer's unique id
func (v *Viewer) ID() string {
	return v.id
}

// reply is a message for a single viewer
type reply struct {
	viewer *Viewer
	data   []byte
}

// HubConfig holds the optional collaborators of a Hub
type HubConfig struct {
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Hub maintains the set of active viewers and broadcasts snapshots to them
type Hub struct {
	// Registered viewers by room code
	rooms map[string]map[*Viewer]bool

	// Outbound messages for every viewer of a room
	broadcast chan *Message

	// Outbound messages for one viewer
	replies chan reply

	// Register requests from viewers
	register chan *Viewer

	// Unregister requests from viewers
	unregister chan *Viewer

	// Closed when Run returns
	done chan struct{}

	// Viewer counts mirrored for readers outside Run
	mu     sync.RWMutex
	counts map[string]int

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewHub creates a new relay hub
func NewHub(config HubConfig) *Hub {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Hub{
		rooms:      make(map[string]map[*Viewer]bool),
		broadcast:  make(chan *Message, sendBuffer),
		replies:    make(chan reply, sendBuffer),
		register:   make(chan *Viewer),
		unregister: make(chan *Viewer),
		done:       make(chan struct{}),
		counts:     make(map[string]int),
		logger:     logger.With().Str("module", "relay").Logger(),
		metrics:    config.Metrics,
	}
}

// Run starts the hub's event loop. It returns when ctx is done, after
// disconnecting every viewer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, viewers := range h.rooms {
				for viewer := range viewers {
					h.unregisterViewer(viewer)
				}
			}
			return

		case viewer := <-h.register:
			h.registerViewer(viewer)

		case viewer := <-h.unregister:
			h.unregisterViewer(viewer)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case r := <-h.replies:
			h.deliver(r.viewer, r.data)
		}
	}
}

// ServeWS upgrades the request and attaches the viewer to room. Votes the
// viewer sends are passed to onVote, which may be nil for read-only viewers.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, room string, onVote VoteFunc) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	viewer := &Viewer{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		room:   room,
		onVote: onVote,
	}

	select {
	case h.register <- viewer:
	case <-h.done:
		conn.Close()
		return
	}

	// Start viewer goroutines
	go viewer.writePump()
	go viewer.readPump()
}

// BroadcastFeedback sends a snapshot to all viewers of a room
func (h *Hub) BroadcastFeedback(room string, fb feedback.Feedback) {
	h.Broadcast(&Message{
		Room:     room,
		Event:    EventFeedback,
		Feedback: &fb,
		Votes:    fb.CountVotes(),
	})
}

// Broadcast queues a message for all viewers of message.Room. It is dropped
// once the hub has stopped.
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Viewers returns the number of viewers following room
func (h *Hub) Viewers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[room]
}

// registerViewer adds a viewer to a room
func (h *Hub) registerViewer(viewer *Viewer) {
	if h.rooms[viewer.room] == nil {
		h.rooms[viewer.room] = make(map[*Viewer]bool)
	}
	h.rooms[viewer.room][viewer] = true
	h.updateCounts(viewer.room)

	if data, err := json.Marshal(&Message{Room: viewer.room, Event: EventJoined, Viewer: viewer.id}); err == nil {
		h.deliver(viewer, data)
	}

	h.logger.Info().Str("room", viewer.room).Str("viewer", viewer.id).
		Int("viewers", len(h.rooms[viewer.room])).Msg("viewer joined")
}

// unregisterViewer removes a viewer from a room
func (h *Hub) unregisterViewer(viewer *Viewer) {
	viewers, ok := h.rooms[viewer.room]
	if !ok {
		return
	}
	if _, ok := viewers[viewer]; !ok {
		return
	}

	delete(viewers, viewer)
	close(viewer.send)

	// Clean up empty rooms
	if len(viewers) == 0 {
		delete(h.rooms, viewer.room)
	}
	h.updateCounts(viewer.room)

	h.logger.Info().Str("room", viewer.room).Str("viewer", viewer.id).
		Int("viewers", len(viewers)).Msg("viewer left")
}

func (h *Hub) updateCounts(room string) {
	total := 0
	for _, viewers := range h.rooms {
		total += len(viewers)
	}

	h.mu.Lock()
	if n := len(h.rooms[room]); n > 0 {
		h.counts[room] = n
	} else {
		delete(h.counts, room)
	}
	h.mu.Unlock()

	h.metrics.SetRelayViewers(total)
}

// broadcastMessage sends a message to all viewers of a room
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}

	for viewer := range h.rooms[message.Room] {
		h.deliver(viewer, data)
	}
}

// deliver queues data for a registered viewer, dropping viewers that
// cannot keep up
func (h *Hub) deliver(viewer *Viewer, data []byte) {
	if !h.rooms[viewer.room][viewer] {
		return
	}
	select {
	case viewer.send <- data:
	default:
		h.logger.Warn().Str("viewer", viewer.id).Msg("viewer too slow, dropping")
		h.unregisterViewer(viewer)
	}
}

// replyTo queues a message for one viewer from outside Run
func (h *Hub) replyTo(viewer *Viewer, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case h.replies <- reply{viewer: viewer, data: data}:
	case <-h.done:
	}
}

// readPump reads votes from the connection until it closes
func (v *Viewer) readPump() {
	defer func() {
		select {
		case v.hub.unregister <- v:
		case <-v.hub.done:
		}
		v.conn.Close()
	}()

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.hub.logger.Warn().Err(err).Str("viewer", v.id).Msg("websocket error")
			}
			return
		}
		v.handleVote(data)
	}
}

func (v *Viewer) handleVote(data []byte) {
	var req VoteRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Vote == "" {
		v.hub.replyTo(v, &Message{Room: v.room, Event: EventError, Error: `expected {"vote": "<value>"}`})
		return
	}

	value, err := feedback.ParseValue(req.Vote)
	if err != nil {
		v.hub.replyTo(v, &Message{Room: v.room, Event: EventError, Error: err.Error()})
		return
	}

	if v.onVote == nil {
		v.hub.replyTo(v, &Message{Room: v.room, Event: EventError, Error: "voting is disabled"})
		return
	}

	if err := v.onVote(value); err != nil {
		v.hub.logger.Warn().Err(err).Str("viewer", v.id).Str("room", v.room).Msg("vote failed")
		v.hub.replyTo(v, &Message{Room: v.room, Event: EventError, Vote: value.String(), Error: err.Error()})
		return
	}

	v.hub.replyTo(v, &Message{Room: v.room, Event: EventVoteAccepted, Vote: value.String()})
}

// writePump pumps messages from the hub to the websocket connection
func (v *Viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case message, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
