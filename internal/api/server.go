package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pulsewire/internal/manager"
	"pulsewire/internal/stream"
	"pulsewire/pkg/types"
)

// Server is the management HTTP surface: room inspection, admin broadcasts,
// health, and metrics. It carries no business logic of its own; everything
// delegates to the manager and streamer.
type Server struct {
	manager  *manager.Manager
	streamer *stream.Streamer
	gatherer prometheus.Gatherer
	router   *mux.Router
	log      *zap.Logger
}

// NewServer wires the routes. gatherer may be nil, in which case the
// Prometheus scrape endpoint is not mounted.
func NewServer(mgr *manager.Manager, streamer *stream.Streamer, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		manager:  mgr,
		streamer: streamer,
		gatherer: gatherer,
		router:   mux.NewRouter(),
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rooms", s.handleListRooms).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rooms/{id}", s.handleGetRoom).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rooms/{id}/broadcast", s.handleBroadcast).Methods(http.MethodPost)
	s.router.HandleFunc("/api/metrics", s.handleMetrics).Methods(http.MethodGet)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP applies CORS headers before routing so preflight requests are
// answered even for method-restricted routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying mux so callers can mount extra handlers
// (the WebSocket endpoint) on the same listener.
func (s *Server) Router() *mux.Router {
	return s.router
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Connections map[string]int `json:"connections"`
}

type RoomSummary struct {
	RoomID          string `json:"room_id"`
	ConnectionCount int    `json:"connection_count"`
}

type RoomDetail struct {
	RoomID          string       `json:"room_id"`
	ConnectionCount int          `json:"connection_count"`
	Members         []RoomMember `json:"members"`
}

type RoomMember struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	UserRole      string    `json:"user_role,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	MessageCount  int64     `json:"message_count"`
}

// BroadcastRequest is an admin-initiated room broadcast. Known types route
// through the streamer wrappers so severity and priority mapping stay
// consistent with programmatic emitters.
type BroadcastRequest struct {
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data"`
	Severity string                 `json:"severity,omitempty"`
	Role     string                 `json:"role,omitempty"`
}

type BroadcastResponse struct {
	RoomID string `json:"room_id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Connections: s.manager.Registry().Stats(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	reg := s.manager.Registry()
	ids := reg.RoomIDs()
	rooms := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, RoomSummary{
			RoomID:          id,
			ConnectionCount: reg.CountInRoom(id),
		})
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "invalid room id", http.StatusBadRequest)
		return
	}

	members := s.manager.Registry().GetRoomConnections(roomID)
	if len(members) == 0 {
		s.sendError(w, "room not found", http.StatusNotFound)
		return
	}

	detail := RoomDetail{
		RoomID:          roomID,
		ConnectionCount: len(members),
		Members:         make([]RoomMember, 0, len(members)),
	}
	for _, m := range members {
		detail.Members = append(detail.Members, RoomMember{
			ConnectionID:  m.Meta.ConnectionID,
			UserID:        m.Meta.UserID,
			UserRole:      m.Meta.UserRole,
			ConnectedAt:   m.Meta.ConnectedAt,
			LastHeartbeat: m.Meta.LastHeartbeat,
			MessageCount:  m.Meta.MessageCount,
		})
	}
	s.sendJSON(w, http.StatusOK, detail)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "invalid room id", http.StatusBadRequest)
		return
	}

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		s.sendError(w, "message type is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch {
	case req.Role != "":
		msg := types.NewMessage(req.Type, req.Data).WithRoom(roomID)
		if err := msg.Validate(); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.manager.BroadcastToRole(roomID, req.Role, msg)
	case req.Type == types.TypeNotification:
		s.streamer.BroadcastNotification(ctx, roomID, req.Data)
	case req.Type == types.TypeAlert:
		s.streamer.BroadcastAlert(ctx, roomID, req.Severity, req.Data)
	case req.Type == types.TypeDashboardUpdate:
		s.streamer.BroadcastDashboardUpdate(ctx, roomID, req.Data)
	case req.Type == types.TypeActivity:
		s.streamer.BroadcastActivity(ctx, roomID, req.Data)
	default:
		msg := types.NewMessage(req.Type, req.Data).WithRoom(roomID)
		if err := msg.Validate(); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.manager.BroadcastToRoom(roomID, msg)
	}

	s.log.Info("admin broadcast",
		zap.String("room_id", roomID),
		zap.String("message_type", req.Type))

	s.sendJSON(w, http.StatusOK, BroadcastResponse{
		RoomID: roomID,
		Type:   req.Type,
		Status: "sent",
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.manager.Metrics(r.Context()))
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, msg string, status int) {
	s.sendJSON(w, status, ErrorResponse{Error: msg, Code: status})
}
