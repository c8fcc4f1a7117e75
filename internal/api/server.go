package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-fuego/fuego"
	"github.com/go-fuego/fuego/option"
	"github.com/go-fuego/fuego/param"

	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/logger"
)

// Server represents the Fuego API server.
type Server struct {
	fuego   *fuego.Server
	deps    *Dependencies
	cfg     *Config
	version string
	log     *logger.Logger
}

// Dependencies contains all service dependencies.
type Dependencies struct {
	Sessions   SessionStore
	Users      TokenResolver
	Broadcasts BroadcastManager
	Events     events.Publisher
}

// Config holds API server configuration.
type Config struct {
	Port        int
	Title       string
	Description string
	Version     string
	DocsTheme   string       // Scalar theme, "purple" when empty
	DocsServers []DocsServer // servers offered by the docs UI, own origin when empty
}

// NewServer creates a new Fuego API server.
func NewServer(cfg *Config, deps *Dependencies) *Server {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	s := fuego.NewServer(
		fuego.WithAddr(fmt.Sprintf(":%d", cfg.Port)),
		fuego.WithEngineOptions(
			fuego.WithOpenAPIConfig(fuego.OpenAPIConfig{
				PrettyFormatJSON: true,
				JSONFilePath:     "openapi.json",
				SwaggerURL:       "/docs",
				SpecURL:          "/openapi.json",
				UIHandler: func(specURL string) http.Handler {
					return ScalarHandler(specURL, cfg)
				},
			}),
		),
	)

	// Set OpenAPI info
	s.OpenAPI.Description().Info.Title = cfg.Title
	s.OpenAPI.Description().Info.Description = cfg.Description
	s.OpenAPI.Description().Info.Version = cfg.Version

	// Add Chi middleware (Fuego is net/http compatible)
	fuego.Use(s, middleware.RequestID)
	fuego.Use(s, middleware.RealIP)
	fuego.Use(s, middleware.Logger)
	fuego.Use(s, middleware.Recoverer)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	srv := &Server{
		fuego:   s,
		cfg:     cfg,
		deps:    deps,
		version: version,
		log:     logger.Get().Component("api"),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) registerRoutes() {
	// Health check
	fuego.Get(s.fuego, "/api/v1/health", s.healthCheck,
		option.Summary("Health Check"),
		option.Description("Returns the health status of the API"),
		option.Tags("System"),
	)

	tg := fuego.Group(s.fuego, "/api/v1/telegram")
	fuego.Use(tg, bearerAuth(s.deps.Users))

	// Sessions API
	sessions := fuego.Group(tg, "/sessions",
		option.Tags("Sessions"),
		option.Header("Authorization", "Bearer <api token>", param.Required()),
	)

	fuego.Get(sessions, "/", s.listSessions,
		option.Summary("List Linked Accounts"),
		option.Description("Returns the caller's linked Telegram accounts. Session strings are never returned."),
	)

	fuego.Delete(sessions, "/{phone}", s.deleteSession,
		option.Summary("Unlink Account"),
		option.Description("Deletes the stored session for a phone number"),
	)

	// Broadcasts API
	broadcasts := fuego.Group(tg, "/broadcasts",
		option.Tags("Broadcasts"),
		option.Header("Authorization", "Bearer <api token>", param.Required()),
	)

	fuego.Post(broadcasts, "/", s.startBroadcast,
		option.Summary("Start Broadcast"),
		option.Description("Validates the request and starts sending in the background. Progress is pushed over /ws."),
		option.DefaultStatusCode(http.StatusAccepted),
	)

	fuego.Get(broadcasts, "/", s.listBroadcasts,
		option.Summary("List Broadcasts"),
		option.Description("Returns the caller's running and recently finished broadcasts"),
	)

	fuego.Get(broadcasts, "/{id}", s.getBroadcast,
		option.Summary("Get Broadcast"),
		option.Description("Returns progress and per-group results"),
	)

	fuego.Delete(broadcasts, "/{id}", s.cancelBroadcast,
		option.Summary("Cancel Broadcast"),
		option.Description("Stops the broadcast before its next group. A send in flight completes."),
	)
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.fuego.Mux
}

// MountDocsOn mounts the OpenAPI documentation routes (/docs, /openapi.json)
// on a Chi router, rendered with the server's Config.
func (s *Server) MountDocsOn(r interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	scalarHandler := ScalarHandler("/openapi.json", s.cfg)
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		scalarHandler.ServeHTTP(w, req)
	})

	// Serve OpenAPI spec from Fuego's generated schema
	r.Get("/openapi.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		spec := s.fuego.OpenAPI.Description()
		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	})
}
