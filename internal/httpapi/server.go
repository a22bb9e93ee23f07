// Package httpapi exposes the proof pipeline over HTTP: one endpoint per
// stage transition, record and proof lookups, account sync, health and
// metrics. The transition endpoints serve the cron drivers and operators;
// they are not a versioned public API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dlplabs/proof-service/internal/ingest"
	"github.com/dlplabs/proof-service/internal/pipeline"
	"github.com/dlplabs/proof-service/internal/storage"
	"github.com/dlplabs/proof-service/pkg/logger"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr string
}

// Server hosts the service's HTTP surface and implements the lifecycle
// Service contract.
type Server struct {
	cfg    Config
	orc    *pipeline.Orchestrator
	syncer *ingest.Syncer
	files  storage.FileStore
	server *http.Server
	log    *logger.Logger
	start  time.Time
}

// NewServer builds the server and its routes. registry may be nil to omit
// the metrics endpoint.
func NewServer(cfg Config, orc *pipeline.Orchestrator, syncer *ingest.Syncer, files storage.FileStore, registry *prometheus.Registry, log *logger.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	s := &Server{
		cfg:    cfg,
		orc:    orc,
		syncer: syncer,
		files:  files,
		log:    log,
		start:  time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/files/{fileId}", s.handleGetFile).Methods(http.MethodGet)
	router.HandleFunc("/files/{fileId}/proof", s.handleGetProof).Methods(http.MethodGet)
	router.HandleFunc("/files/{fileId}/generate", s.handleGenerate).Methods(http.MethodPost)
	router.HandleFunc("/files/{fileId}/submit", s.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/files/{fileId}/status", s.handlePollStatus).Methods(http.MethodPost)
	router.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Name implements the lifecycle Service contract.
func (s *Server) Name() string { return "http-server" }

// Start begins serving in the background. Listen errors after startup are
// logged, not propagated; the process keeps its other services running.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server stopped")
		}
	}()
	s.log.WithField("addr", s.cfg.ListenAddr).Info("http server started")
	return nil
}

// Stop drains in-flight requests until the context expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
