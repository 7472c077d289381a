// Package api is the HTTP surface: upload-and-generate, record CRUD, usage
// reporting and per-user API key management, all behind JWT auth.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribeworks/scribe/internal/config"
	"github.com/scribeworks/scribe/internal/pipeline"
	"github.com/scribeworks/scribe/internal/store"
)

// Generator runs one upload end to end.
type Generator interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

// Records is the store surface the handlers need.
type Records interface {
	GetReadme(ctx context.Context, id uuid.UUID, owner string) (*store.ReadmeRecord, error)
	ListReadmes(ctx context.Context, owner string) ([]store.ReadmeRecord, error)
	DeleteReadme(ctx context.Context, id uuid.UUID, owner string) error
	GetUsage(ctx context.Context, owner string) (*store.UsageStats, error)
	SaveAPIKey(ctx context.Context, owner, apiKey string) error
	GetAPIKey(ctx context.Context, owner string) (string, error)
	DeleteAPIKey(ctx context.Context, owner string) error
	DeleteAccount(ctx context.Context, owner string) (store.AccountDeletion, error)
}

const recordCacheSize = 256

type Server struct {
	router    *chi.Mux
	port      int
	generator Generator
	records   Records
	cache     *lru.Cache[uuid.UUID, *store.ReadmeRecord]
	logger    *slog.Logger

	maxUpload    int64
	defaultModel string
}

func NewServer(cfg config.Config, auth Auth, gen Generator, rec Records, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(metricsMiddleware)

	cache, _ := lru.New[uuid.UUID, *store.ReadmeRecord](recordCacheSize)

	s := &Server{
		router:       router,
		port:         cfg.Port,
		generator:    gen,
		records:      rec,
		cache:        cache,
		logger:       logger,
		maxUpload:    cfg.MaxArchiveBytes,
		defaultModel: cfg.Model,
	}

	router.Get("/health", s.health)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware())
		r.Post("/readmes", s.generate)
		r.Get("/readmes", s.listReadmes)
		r.Get("/readmes/{id}", s.getReadme)
		r.Delete("/readmes/{id}", s.deleteReadme)
		r.Get("/usage", s.usage)
		r.Put("/apikey", s.saveAPIKey)
		r.Get("/apikey", s.getAPIKey)
		r.Delete("/apikey", s.deleteAPIKey)
		r.Delete("/account", s.deleteAccount)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for embedding in a configurable http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
