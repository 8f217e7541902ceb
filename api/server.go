package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/livefeedback/client"
	"github.com/wricardo/mcp-training/livefeedback/feedback"
	"github.com/wricardo/mcp-training/livefeedback/service"
	"github.com/wricardo/mcp-training/livefeedback/transport/websocket"
)

// voteTimeout bounds votes submitted by websocket viewers
const voteTimeout = 10 * time.Second

// Server represents the REST API server
type Server struct {
	service service.FeedbackService
	hub     *websocket.Hub
	router  *mux.Router
	metrics http.Handler
	logger  zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMetricsHandler replaces the default Prometheus handler on /metrics
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithLogger sets the request logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new API server
func NewServer(feedbackService service.FeedbackService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: feedbackService,
		hub:     hub,
		router:  mux.NewRouter(),
		metrics: promhttp.Handler(),
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("module", "api").Logger()

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Rooms
	api.HandleFunc("/rooms/{code}", s.handleRoomInfo).Methods("GET")
	api.HandleFunc("/rooms/{code}/feedback", s.handleFeedback).Methods("GET")
	api.HandleFunc("/rooms/{code}/stats", s.handleRoomStats).Methods("GET")
	api.HandleFunc("/rooms/{code}/vote", s.handleVote).Methods("POST")

	// Live streams
	api.HandleFunc("/watches", s.handleListWatches).Methods("GET")
	api.HandleFunc("/rooms/{code}/watch", s.handleWatch).Methods("POST")
	api.HandleFunc("/rooms/{code}/watch", s.handleUnwatch).Methods("DELETE")

	// Health
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// WebSocket relay
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Prometheus
	s.router.Handle("/metrics", s.metrics).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service and client failures to HTTP statuses
func statusFor(err error) int {
	switch {
	case client.IsKind(err, client.KindRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, feedback.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrClosed), errors.Is(err, service.ErrWatchEnded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case client.IsKind(err, client.KindConnection),
		client.IsKind(err, client.KindLogin),
		client.IsKind(err, client.KindParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	respondError(w, status, err.Error())
}

// Room Handlers

func (s *Server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	room, err := s.service.RoomInfo(r.Context(), code)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomStats(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	stats, err := s.service.RoomStats(r.Context(), code)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"room":  code,
		"stats": stats,
	})
}

// Feedback Handlers

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	view, err := s.service.Feedback(r.Context(), code)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Value == "" {
		respondError(w, http.StatusBadRequest, "value is required (very_good, good, bad, very_bad or a-d)")
		return
	}

	value, err := feedback.ParseValue(req.Value)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.Vote(r.Context(), code, value); err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"room": code,
		"vote": value.String(),
	})
}

// Watch Handlers

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	watches := s.service.Watched()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(watches),
		"watches": watches,
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	room, err := s.service.Watch(r.Context(), code)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, room)
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	if !s.service.Unwatch(code) {
		respondError(w, http.StatusNotFound, "room is not watched")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"watches": len(s.service.Watched()),
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		respondError(w, http.StatusBadRequest, "room query parameter is required")
		return
	}

	// The viewer only sees snapshots of a watched room
	room, err := s.service.Watch(r.Context(), code)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.hub.ServeWS(w, r, room.ShortID, func(value feedback.Value) error {
		ctx, cancel := context.WithTimeout(context.Background(), voteTimeout)
		defer cancel()
		return s.service.Vote(ctx, code, value)
	})
}
