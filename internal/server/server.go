package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pavilion-trust/amg-gateway/internal/config"
	"github.com/pavilion-trust/amg-gateway/internal/gateway"
	"github.com/pavilion-trust/amg-gateway/internal/handlers"
	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/metrics"
	"github.com/pavilion-trust/amg-gateway/internal/middleware"
	"github.com/pavilion-trust/amg-gateway/internal/policy"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// Server represents the HTTP server.
type Server struct {
	*http.Server
	config *config.Config
}

// Deps collects the components New wires into routes. Grounded on the
// teacher's server.go constructor pattern, generalized from the
// credential-service dependency set to the governance pipeline.
type Deps struct {
	Adapter    storage.Adapter
	Engine     *policy.Engine
	KillSwitch *killswitch.Switch
	Builder    *gateway.Builder
	Counters   *metrics.Counters
}

// New creates a new HTTP server with all routes and middleware.
func New(cfg *config.Config, deps Deps) *Server {
	router := mux.NewRouter()

	router.Use(middleware.CORS)
	router.Use(middleware.Logging)
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery)

	memoryHandler := handlers.NewMemoryHandler(deps.Adapter, deps.Engine, deps.KillSwitch)
	agentHandler := handlers.NewAgentHandler(deps.KillSwitch)
	contextHandler := handlers.NewContextHandler(deps.Builder)
	auditHandler := handlers.NewAuditHandler(deps.Adapter)
	healthHandler := handlers.NewHealthHandler(cfg, deps.Adapter, deps.Counters)

	// Health check is unauthenticated, matching spec.md's operational
	// surface requirement that liveness checks not depend on a caller
	// holding an API key.
	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.Authentication(cfg))

	// Memory read/write path. middleware.Authentication resolves the
	// X-API-Key to a caller identity recorded as the audit actor_id; the
	// agent_id acted on is the one in the request body, and it is not
	// checked against that caller identity.
	apiRouter.HandleFunc("/memory/write", memoryHandler.HandleWrite).Methods("POST")
	apiRouter.HandleFunc("/memory/query", memoryHandler.HandleQuery).Methods("POST")
	apiRouter.HandleFunc("/context/build", contextHandler.HandleBuild).Methods("POST")

	// Kill-switch transitions require a signed actor token in addition
	// to the caller's API key, since these endpoints act on OTHER
	// agents' state rather than the caller's own.
	agentRouter := apiRouter.PathPrefix("/agent").Subrouter()
	agentRouter.Use(middleware.RequireActorToken(cfg))
	agentRouter.HandleFunc("/{id}/disable", agentHandler.HandleDisable).Methods("POST")
	agentRouter.HandleFunc("/{id}/freeze", agentHandler.HandleFreeze).Methods("POST")
	agentRouter.HandleFunc("/{id}/enable", agentHandler.HandleEnable).Methods("POST")
	agentRouter.HandleFunc("/{id}/status", agentHandler.HandleStatus).Methods("GET")
	agentRouter.HandleFunc("/shutdown", agentHandler.HandleGlobalShutdown).Methods("POST")

	apiRouter.HandleFunc("/audit/export", auditHandler.HandleExport).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{Server: srv, config: cfg}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
