// Package api exposes the indexer's operator controls and read views over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nodeIndexer/internal/indexer"
	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
)

const (
	defaultFailedLimit = 100
	shutdownTimeout    = 10 * time.Second
)

// Operator is the control surface of one indexer service.
type Operator interface {
	Contract() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (indexer.Status, error)
	Stats(ctx context.Context) (model.Stats, error)
	Backfill(ctx context.Context, from uint64, to *uint64) (indexer.BackfillResult, error)
	RetryFailed(ctx context.Context, limit int) (indexer.RetryResult, error)
}

// Reader is the read side of the store the API serves.
type Reader interface {
	storage.DomainStore
	ListFailedLogs(ctx context.Context, contract string, limit int) ([]model.FailedLog, error)
}

// Server is the admin HTTP server.
type Server struct {
	operator Operator
	reader   Reader
	logger   *zap.Logger
	router   *chi.Mux
	server   *http.Server
}

// NewServer builds the router. gatherer backs /metrics; nil uses the
// default registry.
func NewServer(addr string, operator Operator, reader Reader, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		operator: operator,
		reader:   reader,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/nodes", s.handleNodes)
	s.router.Get("/nodes/{nodeID}", s.handleNode)
	s.router.Get("/revenue", s.handleRevenue)
	s.router.Get("/failed", s.handleFailed)

	s.router.Post("/start", s.handleStart)
	s.router.Post("/stop", s.handleStop)
	s.router.Post("/backfill", s.handleBackfill)
	s.router.Post("/retry", s.handleRetry)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Warn("http request", fields...)
			return
		}
		s.logger.Debug("http request", fields...)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.operator.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.operator.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.reader.ListNodes(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.reader.GetNode(r.Context(), chi.URLParam(r, "nodeID"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleRevenue(w http.ResponseWriter, r *http.Request) {
	dists, err := s.reader.ListRevenueDistributions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, dists)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultFailedLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	failed, err := s.reader.ListFailedLogs(r.Context(), s.operator.Contract(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, failed)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.operator.Start(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.operator.Stop(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	fromRaw := r.URL.Query().Get("from")
	if fromRaw == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("from is required"))
		return
	}
	from, err := strconv.ParseUint(fromRaw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
		return
	}

	var to *uint64
	if toRaw := r.URL.Query().Get("to"); toRaw != "" {
		value, err := strconv.ParseUint(toRaw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
			return
		}
		if value < from {
			s.writeError(w, http.StatusBadRequest, errors.New("to must be >= from"))
			return
		}
		to = &value
	}

	result, err := s.operator.Backfill(r.Context(), from, to)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.operator.RetryFailed(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
