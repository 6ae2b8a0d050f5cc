// Package api is the HTTP management surface: read-only inspection of the
// realtime state plus a broadcast endpoint for operational announcements.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teampulse/internal/collab"
	"teampulse/internal/database"
	"teampulse/internal/presence"
	"teampulse/internal/room"
	"teampulse/internal/stream"
	"teampulse/internal/ws"
	"teampulse/pkg/types"
)

// Server exposes the management endpoints. No business logic lives here;
// every handler reads component state or delegates one call.
type Server struct {
	registry *ws.Registry
	rooms    *room.Manager
	presence *presence.Tracker
	sessions *collab.Manager
	streams  *stream.Scheduler
	db       *database.Manager
	router   *http.ServeMux

	startedAt time.Time
}

// NewServer wires the management API to the realtime components.
func NewServer(
	registry *ws.Registry,
	rooms *room.Manager,
	tracker *presence.Tracker,
	sessions *collab.Manager,
	streams *stream.Scheduler,
	db *database.Manager,
) *Server {
	s := &Server{
		registry:  registry,
		rooms:     rooms,
		presence:  tracker,
		sessions:  sessions,
		streams:   streams,
		db:        db,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/streams", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStreams))))
	s.router.Handle("/api/broadcast", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleBroadcast))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StatsResponse summarizes the realtime state for dashboards.
type StatsResponse struct {
	ConnectedClients int       `json:"connected_clients"`
	ActiveRooms      int       `json:"active_rooms"`
	PresenceEntries  int       `json:"presence_entries"`
	ActiveSessions   int       `json:"active_sessions"`
	ActiveStreams    int       `json:"active_streams"`
	Uptime           string    `json:"uptime"`
	Timestamp        time.Time `json:"timestamp"`
}

type RoomsResponse struct {
	Rooms []RoomWithRoster `json:"rooms"`
}

type RoomWithRoster struct {
	types.Room
	Roster []types.PresenceEntry `json:"roster"`
}

type SessionsResponse struct {
	Sessions []*types.CollabSession `json:"sessions"`
}

type StreamsResponse struct {
	Streams []types.StreamSubscription `json:"streams"`
}

// BroadcastRequest pushes an operational announcement into a room.
type BroadcastRequest struct {
	TeamID    string         `json:"team_id"`
	RoomType  string         `json:"room_type"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Clients   int       `json:"clients"`
	Uptime    string    `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	json.NewEncoder(w).Encode(StatsResponse{
		ConnectedClients: s.registry.Count(),
		ActiveRooms:      s.rooms.Count(),
		PresenceEntries:  s.presence.Count(),
		ActiveSessions:   s.sessions.ActiveCount(),
		ActiveStreams:    s.streams.Count(),
		Uptime:           time.Since(s.startedAt).String(),
		Timestamp:        time.Now(),
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms := s.rooms.Rooms()
	withRosters := make([]RoomWithRoster, len(rooms))
	for i, rm := range rooms {
		withRosters[i] = RoomWithRoster{
			Room:   rm,
			Roster: s.presence.Roster(rm.ID),
		}
	}
	json.NewEncoder(w).Encode(RoomsResponse{Rooms: withRosters})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != types.SessionStatusActive && status != types.SessionStatusEnded {
		s.sendError(w, "Invalid status filter: must be active or ended", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(SessionsResponse{Sessions: s.sessions.List(status)})
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	teamID := r.URL.Query().Get("team")
	json.NewEncoder(w).Encode(StreamsResponse{Streams: s.streams.List(teamID)})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidTeamID(req.TeamID) || !types.IsValidRoomType(req.RoomType) {
		s.sendError(w, "Invalid team_id or room_type", http.StatusBadRequest)
		return
	}
	if req.EventType == "" {
		s.sendError(w, "event_type is required", http.StatusBadRequest)
		return
	}

	id := types.RoomID{TeamID: req.TeamID, RoomType: req.RoomType}
	err := s.rooms.Broadcast(id, types.NewEvent(types.EventFeed, types.FeedEventPayload{
		TeamID:   req.TeamID,
		Category: req.EventType,
		Payload:  req.Payload,
	}))
	if err == room.ErrRoomNotFound {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.sendError(w, "Broadcast failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Broadcast delivered"})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.db.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Clients:   s.registry.Count(),
		Uptime:    time.Since(s.startedAt).String(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
