package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/bus"
	"github.com/hooklens/hooklens/internal/capture"
	"github.com/hooklens/hooklens/internal/config"
	"github.com/hooklens/hooklens/internal/identity"
	"github.com/hooklens/hooklens/internal/storage"
)

type Server struct {
	cfg      config.ServerConfig
	capCfg   config.CaptureConfig
	store    storage.Storage
	bus      *bus.Bus
	pipeline *capture.Pipeline
	resolver *identity.Resolver
	router   *chi.Mux
	log      zerolog.Logger
	http     *http.Server
}

func NewServer(cfg config.ServerConfig, capCfg config.CaptureConfig, store storage.Storage, b *bus.Bus, pipeline *capture.Pipeline, resolver *identity.Resolver, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		capCfg:   capCfg,
		store:    store,
		bus:      b,
		pipeline: pipeline,
		resolver: resolver,
		log:      log,
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the assembled handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	captureHandler := NewCaptureHandler(s.pipeline, s.capCfg.MaxBodyBytes, s.log)
	epHandler := NewEndpointHandler(s.store, s.bus, s.capCfg.MaxDelay)
	reqHandler := NewRequestHandler(s.store)
	feedHandler := NewFeedHandler(s.store, s.bus, s.log)
	identityHandler := NewIdentityHandler(s.resolver)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Capture surface: any method, no identity, no CORS constraints. The
	// Authorization header here is the endpoint's own bearer token, not a
	// session.
	r.HandleFunc("/webhook/{endpointID}", captureHandler.Handle)

	// Management surface, consumed by the dashboard.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AnonymousIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(IdentityMiddleware(s.resolver))

		r.Post("/endpoints", epHandler.Create)
		r.Get("/endpoints", epHandler.List)
		r.Get("/endpoints/{id}", epHandler.Get)
		r.Patch("/endpoints/{id}", epHandler.Update)
		r.Delete("/endpoints/{id}", epHandler.Delete)

		r.Get("/endpoints/{id}/requests", reqHandler.List)
		r.Get("/endpoints/{id}/requests/{requestID}", reqHandler.Get)
		r.Delete("/endpoints/{id}/requests/{requestID}", reqHandler.Delete)

		r.Get("/endpoints/{id}/stream", feedHandler.ServeSSE)
		r.Get("/endpoints/{id}/ws", feedHandler.ServeWebSocket)

		r.Post("/identity/migrate", identityHandler.Migrate)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// No WriteTimeout: the SSE and websocket feeds are long-lived,
		// and the capture path is already bounded by the capped delay.
		WriteTimeout: 0,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
