package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
)

// Session is an authenticated client obtained from Client.GuestLogin. It is
// safe for concurrent use, including a Logout racing other operations.
//
// A zero Session, or one that has been logged out, has no token: every
// operation on it fails with KindLogin. Operations already past the token
// check when Logout runs complete with the token they read.
type Session struct {
	client *Client

	mu    sync.RWMutex
	token string
}

// requireToken fails fast when the session holds no token
func (s *Session) requireToken(op string) (string, error) {
	if s == nil || s.client == nil {
		return "", &Error{Op: op, Kind: KindLogin, Message: "not logged in"}
	}

	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", &Error{Op: op, Kind: KindLogin, Message: "not logged in"}
	}
	return token, nil
}

// Client returns the unauthenticated client the session was derived from.
func (s *Session) Client() *Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Logout discards the token and returns the unauthenticated client. It has
// no network effect. The session is unusable afterwards.
func (s *Session) Logout() *Client {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return s.client
}

type tokenClaim struct {
	Sub string `json:"sub"`
}

// UserID extracts the user id from the `sub` claim of the bearer token. The
// token must be a three-segment JWT whose middle segment is unpadded base64
// JSON. Any other shape fails with KindParse.
func (s *Session) UserID() (string, error) {
	token, err := s.requireToken("user id")
	if err != nil {
		return "", err
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return "", parseError("user id", fmt.Sprintf("token has %d segments, expected 3", len(segments)), nil)
	}

	payload, err := decodeSegment(segments[1])
	if err != nil {
		return "", parseError("user id", "unparsable token", err)
	}

	var claim tokenClaim
	if err := json.Unmarshal(payload, &claim); err != nil {
		return "", parseError("user id", "unparsable token claim", err)
	}
	if claim.Sub == "" {
		return "", parseError("user id", "token claim has no subject", nil)
	}
	return claim.Sub, nil
}

// decodeSegment decodes an unpadded base64 segment, accepting both the
// standard and the URL-safe alphabet.
func decodeSegment(segment string) ([]byte, error) {
	segment = strings.TrimRight(segment, "=")
	if data, err := base64.RawStdEncoding.DecodeString(segment); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(segment)
}

type membershipResponse struct {
	ID      string `json:"id"`
	ShortID string `json:"shortId"`
	Name    string `json:"name"`
}

// RoomInfo resolves a short room code into the room's identity by requesting
// participant membership. Repeated calls for the same code return the same
// identity while the room exists.
//
// A 404 yields KindRoomNotFound carrying shortID, any other non-200 status or
// transport failure KindConnection, and an undecodable body KindParse.
func (s *Session) RoomInfo(ctx context.Context, shortID string) (feedback.RoomInfo, error) {
	const op = "resolve room"

	token, err := s.requireToken(op)
	if err != nil {
		return feedback.RoomInfo{}, err
	}

	path := "/room/~" + url.PathEscape(shortID) + "/request-membership"
	headers := map[string]string{"ars-room-role": "PARTICIPANT"}

	resp, err := s.client.doRequest(ctx, http.MethodPost, path, token, struct{}{}, headers)
	if err != nil {
		return feedback.RoomInfo{}, connectionError(op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return feedback.RoomInfo{}, &Error{Op: op, Kind: KindRoomNotFound, ShortID: shortID}
	default:
		return feedback.RoomInfo{}, &Error{Op: op, Kind: KindConnection, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var membership membershipResponse
	if err := decodeResponse(resp.Body, &membership); err != nil {
		return feedback.RoomInfo{}, parseError(op, "", err)
	}
	if membership.ID == "" {
		return feedback.RoomInfo{}, parseError(op, "membership response has no room id", nil)
	}

	return feedback.RoomInfo{
		ID:      membership.ID,
		ShortID: membership.ShortID,
		Name:    membership.Name,
	}, nil
}

// Feedback fetches the current tally of a room over REST.
func (s *Session) Feedback(ctx context.Context, shortID string) (feedback.Feedback, error) {
	const op = "fetch feedback"

	room, err := s.RoomInfo(ctx, shortID)
	if err != nil {
		return feedback.Feedback{}, err
	}

	var values []uint32
	if err := s.getJSON(ctx, op, shortID, "/room/"+url.PathEscape(room.ID)+"/survey", &values); err != nil {
		return feedback.Feedback{}, err
	}
	if len(values) != 4 {
		return feedback.Feedback{}, parseError(op, fmt.Sprintf("expected 4 values, got %d", len(values)), nil)
	}

	return feedback.FromValues([4]uint32{values[0], values[1], values[2], values[3]}), nil
}

type summaryResponse struct {
	Stats struct {
		ContentCount    int `json:"contentCount"`
		AckCommentCount int `json:"ackCommentCount"`
		RoomUserCount   int `json:"roomUserCount"`
	} `json:"stats"`
}

// RoomStats fetches activity counters of a room.
func (s *Session) RoomStats(ctx context.Context, shortID string) (feedback.RoomStats, error) {
	const op = "fetch room stats"

	room, err := s.RoomInfo(ctx, shortID)
	if err != nil {
		return feedback.RoomStats{}, err
	}

	var summaries []summaryResponse
	path := "/_view/room/summary?ids=" + url.QueryEscape(room.ID)
	if err := s.getJSON(ctx, op, shortID, path, &summaries); err != nil {
		return feedback.RoomStats{}, err
	}
	if len(summaries) == 0 {
		return feedback.RoomStats{}, parseError(op, "empty summary response", nil)
	}

	stats := summaries[0].Stats
	return feedback.RoomStats{
		ContentCount:    stats.ContentCount,
		AckCommentCount: stats.AckCommentCount,
		RoomUserCount:   stats.RoomUserCount,
	}, nil
}

// getJSON performs an authenticated GET and decodes a 200 response into v
func (s *Session) getJSON(ctx context.Context, op, shortID, path string, v any) error {
	token, err := s.requireToken(op)
	if err != nil {
		return err
	}

	resp, err := s.client.doRequest(ctx, http.MethodGet, path, token, nil, nil)
	if err != nil {
		return connectionError(op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &Error{Op: op, Kind: KindRoomNotFound, ShortID: shortID}
	default:
		return &Error{Op: op, Kind: KindConnection, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	if err := decodeResponse(resp.Body, v); err != nil {
		return parseError(op, "", err)
	}
	return nil
}
