package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
)

// Config holds server configuration
type Config struct {
	Port           int
	AllowedOrigins []string // CORS and websocket origins; empty allows any origin
	Version        string   // reported by /health
}

// TokenResolver maps a bearer token to an application user.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.AppUser, error)
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *Config
	listener   net.Listener
	hub        *Hub // WebSocket Hub
	users      TokenResolver
	upgrader   websocket.Upgrader
}

// NewServer creates a new HTTP server. hub may be nil. Without users every
// websocket connection is refused.
func NewServer(cfg *Config, hub *Hub, users TokenResolver) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		config: cfg,
		hub:    hub,
		users:  users,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     srv.checkOrigin,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	// WebSocket
	if s.hub != nil {
		s.router.Get("/ws", s.serveWs)
	}

	// Health endpoint
	version := s.config.Version
	if version == "" {
		version = "dev"
	}
	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version}); err != nil {
			_ = err // Client disconnected
		}
	})
}

// serveWs authenticates the caller and attaches the connection to the hub.
// Browsers cannot set headers on a websocket handshake, so the token may
// also come as ?access_token=.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if scheme, bearer, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(bearer)
	}
	if token == "" || s.users == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.users.ResolveToken(r.Context(), token)
	if errors.Is(err, repository.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		logger.Get().Error().Err(err).Msg("resolve websocket token")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.Serve(conn, user.ID)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// checkOrigin accepts handshakes from the configured origins. Requests
// without an Origin header do not come from a browser and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origins := s.config.AllowedOrigins
	origin := r.Header.Get("Origin")
	if len(origins) == 0 || origin == "" || slices.Contains(origins, "*") {
		return true
	}
	return slices.Contains(origins, origin)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s.httpServer.Serve(listener)
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BaseURL returns the server's base URL
func (s *Server) BaseURL() string {
	if s.listener != nil {
		return fmt.Sprintf("http://%s", s.listener.Addr().String())
	}
	return fmt.Sprintf("http://localhost:%d", s.config.Port)
}

// RegisterTelegramHandler registers the login and send endpoints.
func (s *Server) RegisterTelegramHandler(handler interface{}) {
	type telegramHandler interface {
		SendCode(w http.ResponseWriter, r *http.Request)
		VerifyCode(w http.ResponseWriter, r *http.Request)
		SendSingle(w http.ResponseWriter, r *http.Request)
	}

	if h, ok := handler.(telegramHandler); ok {
		s.router.Route("/api/telegram", func(r chi.Router) {
			r.Use(middleware.Timeout(2 * time.Minute))
			r.Post("/auth/send-code", h.SendCode)
			r.Post("/code", h.VerifyCode)
			r.Post("/message/single", h.SendSingle)
		})
	}
}

// Mount attaches another handler (the OpenAPI server) under pattern.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// Router returns the underlying Chi router for external route mounting.
func (s *Server) Router() *chi.Mux {
	return s.router
}
