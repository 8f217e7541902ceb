package client

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testToken builds a three-segment token whose claim carries sub
func testToken(sub string) string {
	header := base64.RawStdEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claim := base64.RawStdEncoding.EncodeToString([]byte(`{"sub":"` + sub + `","roles":["GUEST"]}`))
	return header + "." + claim + ".c2lnbmF0dXJl"
}

// fakeService emulates the REST API and the STOMP socket
type fakeService struct {
	t      *testing.T
	server *httptest.Server

	token  string
	rooms  map[string]feedback.RoomInfo
	survey []uint32
	stats  string

	// broker drives the socket after the upgrade; nil rejects upgrades
	broker func(conn *websocket.Conn)

	mu                 sync.Mutex
	membershipRequests []*http.Request
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	f := &fakeService{
		t:     t,
		token: testToken("user-1"),
		rooms: map[string]feedback.RoomInfo{
			"AB12CD34": {ID: "room-1", ShortID: "AB12CD34", Name: "Lecture"},
		},
		survey: []uint32{3, 5, 0, 1},
		stats:  `[{"stats":{"contentCount":4,"ackCommentCount":2,"roomUserCount":17}}]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login/guest", f.handleLogin)
	mux.HandleFunc("/api/room/", f.handleRoom)
	mux.HandleFunc("/api/_view/room/summary", f.handleSummary)
	mux.HandleFunc("/api/ws/websocket", f.handleSocket)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) url() string {
	return f.server.URL + "/api"
}

func (f *fakeService) newClient(t *testing.T, keepAlive time.Duration) *Client {
	t.Helper()

	logger := zerolog.Nop()
	c, err := NewClient(ClientConfig{
		APIURL:    f.url(),
		KeepAlive: keepAlive,
		Logger:    &logger,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func (f *fakeService) newSession(t *testing.T, keepAlive time.Duration) *Session {
	t.Helper()

	session, err := f.newClient(t, keepAlive).GuestLogin(t.Context())
	if err != nil {
		t.Fatalf("GuestLogin failed: %v", err)
	}
	return session
}

func (f *fakeService) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+f.token
}

func (f *fakeService) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"token": f.token})
}

func (f *fakeService) handleRoom(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/room/")

	// /room/~{shortId}/request-membership
	if strings.HasPrefix(path, "~") && strings.HasSuffix(path, "/request-membership") {
		f.mu.Lock()
		f.membershipRequests = append(f.membershipRequests, r)
		f.mu.Unlock()

		shortID := strings.TrimSuffix(strings.TrimPrefix(path, "~"), "/request-membership")
		room, ok := f.rooms[shortID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":      room.ID,
			"shortId": room.ShortID,
			"name":    room.Name,
		})
		return
	}

	// /room/{id}/survey
	if strings.HasSuffix(path, "/survey") {
		json.NewEncoder(w).Encode(f.survey)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeService) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Write([]byte(f.stats))
}

func (f *fakeService) handleSocket(w http.ResponseWriter, r *http.Request) {
	if f.broker == nil {
		http.Error(w, "no broker", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	f.broker(conn)
}

// readFrame reads one text frame, reporting failures without stopping the test
func readFrame(t *testing.T, conn *websocket.Conn) (string, bool) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("broker read failed: %v", err)
		return "", false
	}
	if messageType != websocket.TextMessage {
		t.Errorf("expected text frame, got type %d", messageType)
	}
	return string(data), true
}

// expectHandshake consumes the CONNECT and SUBSCRIBE frames
func expectHandshake(t *testing.T, conn *websocket.Conn, token, roomID string) bool {
	connect, ok := readFrame(t, conn)
	if !ok {
		return false
	}
	if !strings.HasPrefix(connect, "CONNECT\n") || !strings.Contains(connect, "token:"+token+"\n") {
		t.Errorf("unexpected first frame: %q", connect)
		return false
	}

	subscribe, ok := readFrame(t, conn)
	if !ok {
		return false
	}
	if !strings.HasPrefix(subscribe, "SUBSCRIBE\n") || !strings.Contains(subscribe, "destination:/topic/"+roomID+".feedback.stream\n") {
		t.Errorf("unexpected second frame: %q", subscribe)
		return false
	}
	return true
}

func feedbackFrame(values string) string {
	return "MESSAGE\ndestination:/topic/room-1.feedback.stream\ncontent-type:application/json\nsubscription:sub-6\nmessage-id:m-1\n\n" +
		`{"type":"FeedbackChanged","payload":{"values":` + values + `}}` + "\x00"
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Errorf("broker write failed: %v", err)
	}
}

// closeNormally sends a close frame and waits for the client to go away
func closeNormally(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
