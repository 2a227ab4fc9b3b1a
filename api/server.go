// Package api provides the HTTP API server for heattopo
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gacybercenter/openstack-top-graph/db/clickhouse"
	"github.com/gacybercenter/openstack-top-graph/db/ingestion"
	"github.com/gacybercenter/openstack-top-graph/decision/pipeline"
	wire "github.com/gacybercenter/openstack-top-graph/pkg/api"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
	"github.com/gacybercenter/openstack-top-graph/pkg/platform"
)

const (
	defaultSnapshotLimit = 50
	maxSnapshotLimit     = 1000
)

// SnapshotStore is the read side of the snapshot history
type SnapshotStore interface {
	Ping(ctx context.Context) error
	ListSnapshots(ctx context.Context, limit int) ([]*clickhouse.TopologySnapshot, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*clickhouse.TopologySnapshot, error)
	KindCounts(ctx context.Context, snapshotID uuid.UUID) (map[string]int, error)
}

// Recorder stores built graphs
type Recorder interface {
	RecordGraph(ctx context.Context, in *ingestion.RecordInput) (*ingestion.RecordResult, error)
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	store      SnapshotStore
	recorder   Recorder
	config     *Config
	logger     *slog.Logger
}

// Config holds server configuration
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxRequestSize  int64
	CORSOrigins     []string
	APIKey          string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxRequestSize:  10 * 1024 * 1024, // 10MB
		CORSOrigins:     []string{"*"},
	}
}

// NewServer creates a new API server. store and recorder may be nil when no
// snapshot history is configured.
func NewServer(pipe *pipeline.Pipeline, store SnapshotStore, recorder Recorder, config *Config, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pipe == nil {
		pipe = pipeline.New(nil, logger)
	}
	return &Server{
		pipeline: pipe,
		store:    store,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/v1/graph", platform.APIKeyMiddleware(s.config.APIKey, s.handleGraph))
	mux.HandleFunc("/api/v1/snapshots", platform.APIKeyMiddleware(s.config.APIKey, s.handleListSnapshots))
	mux.HandleFunc("/api/v1/snapshots/", platform.APIKeyMiddleware(s.config.APIKey, s.handleGetSnapshot))

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = s.newHTTPServer()
	return s.serve()
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

func (s *Server) serve() error {
	s.logger.Info("heattopo API server starting", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown serves until ctx is cancelled, then drains
// in-flight requests for up to ShutdownTimeout
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	s.httpServer = s.newHTTPServer()

	errChan := make(chan error, 1)
	go func() {
		if err := s.serve(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+platform.APIKeyHeader)
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("snapshot store not ready", "error", err)
			s.jsonError(w, http.StatusServiceUnavailable, "not_ready", "database not ready")
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// =============================================================================
// GRAPH ENDPOINT
// =============================================================================

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req wire.GraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		s.jsonError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request: %v", err))
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		s.jsonError(w, http.StatusBadRequest, "invalid_request", "template is required")
		return
	}
	if req.Record && s.recorder == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "not_configured", "snapshot recording is not configured")
		return
	}

	envs := make([][]byte, len(req.Environments))
	for i, env := range req.Environments {
		envs[i] = []byte(env)
	}

	ctx := r.Context()
	result, err := s.pipeline.Run(ctx, &pipeline.Request{
		Template:     []byte(req.Template),
		Environments: envs,
		Title:        req.Name,
		Merge:        req.Merge,
		StackName:    req.StackName,
		ResolveIDs:   req.ResolveIDs,
	})
	if err != nil {
		s.pipelineError(w, err)
		return
	}

	resp := wire.GraphResponse{
		Graph:    result.Graph.Export(),
		Warnings: result.Warnings(),
	}

	if req.Record {
		rec, err := s.recorder.RecordGraph(ctx, &ingestion.RecordInput{
			Template:     req.Template,
			Environments: req.Environments,
			Merged:       req.Merge,
			StackName:    req.StackName,
			Graph:        resp.Graph,
		})
		if err != nil {
			s.logger.Error("failed to record snapshot", "error", err)
			s.jsonError(w, http.StatusInternalServerError, "record_failed", "failed to record snapshot")
			return
		}
		resp.SnapshotID = rec.SnapshotID.String()
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

// pipelineError maps build failures onto HTTP statuses
func (s *Server) pipelineError(w http.ResponseWriter, err error) {
	var topoErr *topoerrors.TopoError
	switch {
	case errors.As(err, &topoErr):
		status := http.StatusUnprocessableEntity
		switch topoErr.Code {
		case topoerrors.ErrCodeParseFailed:
			status = http.StatusBadRequest
		case topoerrors.ErrCodeResourceConflict:
			status = http.StatusConflict
		}
		s.jsonError(w, status, strings.ToLower(topoErr.Code), topoErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.jsonError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
	default:
		s.logger.Error("graph build failed", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// =============================================================================
// SNAPSHOT ENDPOINTS
// =============================================================================

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.store == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "not_configured", "snapshot store is not configured")
		return
	}

	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.jsonError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	snapshots, err := s.store.ListSnapshots(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list snapshots", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal", "failed to list snapshots")
		return
	}

	resp := wire.SnapshotList{Snapshots: make([]wire.SnapshotSummary, 0, len(snapshots))}
	for _, snap := range snapshots {
		resp.Snapshots = append(resp.Snapshots, summarize(snap))
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// SnapshotDetail is a stored snapshot with its graph
type SnapshotDetail struct {
	wire.SnapshotSummary
	Graph json.RawMessage `json:"graph,omitempty"`
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.store == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "not_configured", "snapshot store is not configured")
		return
	}

	id, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/api/v1/snapshots/"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid_request", "invalid snapshot id")
		return
	}

	ctx := r.Context()
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		s.logger.Error("failed to get snapshot", "id", id, "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal", "failed to get snapshot")
		return
	}
	if snap == nil {
		s.jsonError(w, http.StatusNotFound, "not_found", "snapshot not found")
		return
	}

	detail := SnapshotDetail{SnapshotSummary: summarize(snap)}
	if detail.Amounts, err = s.store.KindCounts(ctx, id); err != nil {
		s.logger.Error("failed to get kind counts", "id", id, "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal", "failed to get snapshot")
		return
	}
	if snap.GraphJSON != "" {
		detail.Graph = json.RawMessage(snap.GraphJSON)
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

func summarize(snap *clickhouse.TopologySnapshot) wire.SnapshotSummary {
	return wire.SnapshotSummary{
		ID:           snap.ID.String(),
		Title:        snap.Title,
		TemplateHash: snap.TemplateHash,
		NodeCount:    snap.NodeCount,
		LinkCount:    snap.LinkCount,
		Merged:       snap.Merged,
		CreatedAt:    snap.CreatedAt,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, code, message string) {
	s.jsonResponse(w, status, wire.ErrorResponse{
		Error:   code,
		Message: message,
	})
}
