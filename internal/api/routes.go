package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
	"github.com/MaximeMichaud/oura-dashboard/internal/metrics"
	"github.com/MaximeMichaud/oura-dashboard/internal/store"
	"github.com/MaximeMichaud/oura-dashboard/internal/sync"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Syncer is the orchestrator surface the API drives.
type Syncer interface {
	SyncAll(ctx context.Context, only string) (sync.Result, error)
	Running() bool
	LastResult() *sync.Result
}

// Reader is the read side of the sync bookkeeping.
type Reader interface {
	ListWatermarks(ctx context.Context) ([]*store.Watermark, error)
	ListHistory(ctx context.Context, endpoint string, limit, offset int) ([]*store.HistoryEntry, error)
}

type Handler struct {
	ctx       context.Context
	syncer    Syncer
	reader    Reader
	registry  *endpoint.Registry
	authToken string
	fatal     chan<- error

	wg gosync.WaitGroup
}

// NewHandler builds the API. Passes triggered over HTTP run under ctx. When a
// triggered pass finds the token expired the error is offered on fatal, which
// may be nil.
func NewHandler(ctx context.Context, syncer Syncer, reader Reader, registry *endpoint.Registry, authToken string, fatal chan<- error) *Handler {
	return &Handler{
		ctx:       ctx,
		syncer:    syncer,
		reader:    reader,
		registry:  registry,
		authToken: authToken,
		fatal:     fatal,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/endpoints", h.ListEndpoints)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/log", h.GetSyncLog)
		r.Get("/sync/history", h.GetSyncHistory)
	})

	return r
}

// Wait blocks until passes started through TriggerSync have returned or ctx
// expires.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) reportFatal(err error) {
	if h.fatal == nil {
		return
	}
	select {
	case h.fatal <- err:
	default:
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type endpointInfo struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Table      string   `json:"table"`
	PrimaryKey string   `json:"primary_key"`
	Columns    []string `json:"columns"`
}

func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.List()
	out := make([]endpointInfo, len(descs))
	for i, d := range descs {
		out[i] = endpointInfo{Name: d.Name, Path: d.Path, Table: d.Table, PrimaryKey: d.PrimaryKey, Columns: d.Columns}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	only := r.URL.Query().Get("endpoint")
	if only != "" {
		if _, err := h.registry.Lookup(only); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	if h.syncer.Running() {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.syncer.SyncAll(h.ctx, only)
		switch {
		case errors.Is(err, sync.ErrTokenExpired):
			logger.Log.Error("Triggered sync stopped: token expired", zap.Error(err))
			h.reportFatal(err)
		case err != nil:
			logger.Log.Error("Triggered sync failed", zap.Error(err))
		case res.Skipped:
			logger.Log.Info("Triggered sync skipped")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type statusResponse struct {
	Running    bool         `json:"running"`
	LastResult *sync.Result `json:"last_result"`
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Running:    h.syncer.Running(),
		LastResult: h.syncer.LastResult(),
	})
}

func (h *Handler) GetSyncLog(w http.ResponseWriter, r *http.Request) {
	marks, err := h.reader.ListWatermarks(r.Context())
	if err != nil {
		logger.Log.Error("Failed to list sync log", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read sync log")
		return
	}
	if marks == nil {
		marks = []*store.Watermark{}
	}
	writeJSON(w, http.StatusOK, marks)
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultHistoryLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxHistoryLimit)
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	entries, err := h.reader.ListHistory(r.Context(), q.Get("endpoint"), limit, offset)
	if err != nil {
		logger.Log.Error("Failed to list sync history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read sync history")
		return
	}
	if entries == nil {
		entries = []*store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires "Authorization: Bearer <token>" when a token is
// configured.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs each request through zap and counts it by route.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status)
		logger.Log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
