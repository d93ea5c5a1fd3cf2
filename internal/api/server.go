// Package api exposes valuation queries, holdings CRUD and the asset catalog over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/ingestion"
	"portfolio-tracker/internal/observability"
	"portfolio-tracker/internal/storage"
	"portfolio-tracker/internal/valuation"
)

// Default server configuration.
const (
	DefaultAddr           = ":8080"
	DefaultRequestTimeout = 30 * time.Second
)

// Holdings manages a user's holding events.
type Holdings interface {
	Add(ctx context.Context, userID, assetID string, ts int64, amount float64) (*domain.HoldingEvent, error)
	Edit(ctx context.Context, userID string, eventID uuid.UUID, ts int64, amount float64) (*domain.HoldingEvent, error)
	Delete(ctx context.Context, userID string, eventID uuid.UUID) error
	List(ctx context.Context, userID, assetID string) ([]*domain.HoldingEvent, error)
}

// Valuator answers valuation queries.
type Valuator interface {
	Series(ctx context.Context, userID, assetID string) (*valuation.Series, error)
	CurrentBalance(ctx context.Context, userID string) (*valuation.Balance, error)
	CurrentHoldings(ctx context.Context, userID string) ([]domain.HoldingValue, error)
}

// StatusReporter reports the ingestion scheduler state.
type StatusReporter interface {
	Status() ingestion.Status
}

// Config holds server configuration.
type Config struct {
	Addr           string // Default: ":8080"
	RequestTimeout time.Duration
	AllowedOrigins []string // Default: all origins
	Logger         zerolog.Logger
	Holdings       Holdings
	Valuation      Valuator
	Assets         storage.AssetStore
	Catalog        *catalog.Catalog
	Scheduler      StatusReporter // optional, nil when ingestion runs elsewhere
}

// Server is the HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	holdings  Holdings
	valuation Valuator
	assets    storage.AssetStore
	catalog   *catalog.Catalog
	scheduler StatusReporter
	started   time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Logger.With().Str("component", "api").Logger(),
		holdings:  cfg.Holdings,
		valuation: cfg.Valuation,
		assets:    cfg.Assets,
		catalog:   cfg.Catalog,
		scheduler: cfg.Scheduler,
		started:   time.Now(),
	}

	s.setupMiddleware(timeout, origins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(timeout time.Duration, origins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(timeout))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Method(http.MethodGet, "/metrics", observability.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/valuation", s.handleValuation)
			r.Get("/balance", s.handleBalance)
			r.Get("/holdings", s.handleHoldings)

			r.Get("/events", s.handleListEvents)
			r.Post("/events", s.handleAddEvent)
			r.Put("/events/{eventID}", s.handleEditEvent)
			r.Delete("/events/{eventID}", s.handleDeleteEvent)
		})

		r.Get("/assets", s.handleListAssets)
		r.Get("/assets/{assetID}", s.handleGetAsset)
	})
}

// Start serves until Shutdown. Returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
