package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"proctordraw/internal/auth"
	"proctordraw/internal/export"
	"proctordraw/internal/ratelimit"
	"proctordraw/internal/session"
	"proctordraw/internal/websocket"
	"proctordraw/pkg/interfaces"
	"proctordraw/pkg/types"
)

// SessionService is the session manager surface used by the API.
type SessionService interface {
	interfaces.SessionManager
	Stats(ctx context.Context) (types.Stats, error)
	AssignmentFor(ctx context.Context, name string) (types.Assignment, error)
	Rooms() session.RoomPolicy
}

// HealthChecker reports store reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EventStats reports roster event counters.
type EventStats interface {
	GetStats() map[string]uint64
}

// Deps are the components served by the API. Events may be nil.
type Deps struct {
	Sessions  SessionService
	Auth      *auth.Authenticator
	Limiter   *ratelimit.RateLimiter
	Store     HealthChecker
	Registry  *websocket.Registry
	Events    EventStats
	WebSocket websocket.HandlerConfig
}

// Server is the HTTP API. It holds no domain state of its own.
type Server struct {
	sessions  SessionService
	auth      *auth.Authenticator
	limiter   *ratelimit.RateLimiter
	store     HealthChecker
	registry  *websocket.Registry
	events    EventStats
	ws        *websocket.Handler
	router    *http.ServeMux
	startedAt time.Time
}

// NewServer wires the routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		sessions:  deps.Sessions,
		auth:      deps.Auth,
		limiter:   deps.Limiter,
		store:     deps.Store,
		registry:  deps.Registry,
		events:    deps.Events,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
	}
	s.ws = websocket.NewHandler(deps.Registry, deps.Sessions, s.identify, deps.WebSocket)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/login", s.api(s.handleLogin))
	s.router.Handle("/api/rooms", s.api(s.handleRooms))
	s.router.Handle("/api/session", s.api(s.handleSession))
	s.router.Handle("/api/draw", s.api(s.handleDraw))
	s.router.Handle("/api/draw/me", s.api(s.handleMyDraw))
	s.router.Handle("/api/export", s.api(s.requireAdmin(s.handleExport)))
	s.router.Handle("/health", s.api(s.healthCheck))
	s.router.Handle("/ws", s.clientMiddleware(http.HandlerFunc(s.ws.HandleWebSocket)))
}

func (s *Server) api(handler http.HandlerFunc) http.Handler {
	return s.corsMiddleware(s.jsonMiddleware(s.clientMiddleware(handler)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RoomsResponse struct {
	Mode    string   `json:"mode"`
	Catalog []string `json:"catalog"`
}

type StartSessionRequest struct {
	Date  string   `json:"date"`
	Time  string   `json:"time"`
	Rooms []string `json:"rooms"`
}

type SessionResponse struct {
	Session     *types.Session `json:"session"`
	Assignments types.Roster   `json:"assignments"`
	Stats       types.Stats    `json:"stats"`
}

type DrawRequest struct {
	Name string `json:"name"`
}

type DrawResponse struct {
	Assignment types.Assignment `json:"assignment"`
	RoleLabel  string           `json:"role_label"`
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Database    string            `json:"database"`
	Connections map[string]int    `json:"connections"`
	Events      map[string]uint64 `json:"events,omitempty"`
	Session     *types.Stats      `json:"session,omitempty"`
	Uptime      string            `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	token, claims, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		Username:  claims.Username,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt,
	})
}

// GET /api/rooms
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	policy := s.sessions.Rooms()
	catalog := policy.Catalog
	if catalog == nil {
		catalog = []string{}
	}
	s.sendJSON(w, http.StatusOK, RoomsResponse{Mode: string(policy.Mode), Catalog: catalog})
}

// /api/session: GET current, POST start (admin), DELETE reset (admin)
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getSession(w, r)
	case http.MethodPost:
		s.requireAdmin(s.startSession)(w, r)
	case http.MethodDelete:
		s.requireAdmin(s.resetSession)(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Current(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, SessionResponse{
		Session:     snap.Session,
		Assignments: snap.Roster,
		Stats:       snap.Roster.Stats(),
	})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	started, err := s.sessions.StartSession(r.Context(), req.Date, req.Time, req.Rooms)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	roster := types.NewRoster(started)
	s.sendJSON(w, http.StatusCreated, SessionResponse{
		Session:     started,
		Assignments: roster,
		Stats:       roster.Stats(),
	})
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		s.sendError(w, "Reset requires confirm=true", http.StatusBadRequest)
		return
	}

	if err := s.sessions.ResetSession(r.Context()); err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Session reset"})
}

// POST /api/draw. The claimant name comes from the body, or from a proctor
// login when the body has none.
func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := clientIDFromContext(r.Context())
	if !s.limiter.Allow(clientID) {
		log.Printf("Draw rate limited: client=%s", clientID)
		s.sendDomainError(w, ratelimit.ErrRateLimitExceeded)
		return
	}

	var req DrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		claims, ok, err := s.optionalClaims(r)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		if ok && !claims.IsAdmin() {
			name = claims.Username
		}
	}

	assignment, err := s.sessions.Draw(r.Context(), clientID, name)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, DrawResponse{Assignment: assignment, RoleLabel: assignment.Role.Label()})
}

// GET /api/draw/me. Falls back to the proctor login's name when this
// browser has no remembered draw.
func (s *Server) handleMyDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	assignment, err := s.sessions.MyAssignment(r.Context(), clientIDFromContext(r.Context()))
	if errors.Is(err, types.ErrNotDrawn) {
		claims, ok, claimsErr := s.optionalClaims(r)
		if claimsErr != nil {
			s.sendDomainError(w, claimsErr)
			return
		}
		if ok && !claims.IsAdmin() {
			assignment, err = s.sessions.AssignmentFor(r.Context(), claims.Username)
		}
	}
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, DrawResponse{Assignment: assignment, RoleLabel: assignment.Role.Label()})
}

// GET /api/export?format=csv|json (admin)
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	exporter, err := export.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.sessions.Export(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if len(rows) == 0 {
		s.sendDomainError(w, export.ErrNothingToExport)
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exporter.FileName()))
	w.WriteHeader(http.StatusOK)
	if err := exporter.Write(w, rows); err != nil {
		log.Printf("Export failed: rows=%d: %v", len(rows), err)
		return
	}
	log.Printf("Roster exported: file=%s rows=%d", exporter.FileName(), len(rows))
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.events != nil {
		response.Events = s.events.GetStats()
	}
	if stats, err := s.sessions.Stats(ctx); err == nil {
		response.Session = &stats
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// sendError writes the uniform error body.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
		s.sendError(w, "Internal error", code)
		return
	}
	s.sendError(w, err.Error(), code)
}
