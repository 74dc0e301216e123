// Package api exposes the watchlist, price history and reconciliation over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/report"
	"github.com/sells-group/cardwatch/internal/store"
)

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (*model.ReconciliationResult, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store  store.Store
	runner Runner
}

// NewServer creates a Server.
func NewServer(st store.Store, runner Runner) *Server {
	return &Server{store: st, runner: runner}
}

// Handler builds the router. An empty allowedOrigins list allows any origin.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/watchlist", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleAdd)
		r.Get("/{name}", s.handleGet)
		r.Delete("/{name}", s.handleRemove)
		r.Get("/{name}/history", s.handleHistory)
	})
	r.Post("/check", s.handleCheck)

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// nameParam returns the decoded {name} segment. Card names may contain
// slashes ("Fire // Ice"), which clients must percent-encode. chi routes on
// RawPath when it is set, so only then is the segment still escaped.
func nameParam(r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		var err error
		if name, err = url.PathUnescape(name); err != nil {
			return "", false
		}
	}
	if name == "" {
		return "", false
	}
	return name, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		zap.L().Error("api: list watchlist", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list watchlist")
		return
	}
	if entries == nil {
		entries = []model.WatchlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name, ok := nameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid name")
		return
	}
	entry, err := s.store.Get(r.Context(), name)
	if err != nil {
		zap.L().Error("api: get entry", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load entry")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req model.NewEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	res, err := s.store.Add(r.Context(), req)
	if err != nil {
		zap.L().Error("api: add entry", zap.String("name", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add entry")
		return
	}
	if res == store.AddResultAlreadyExists {
		writeError(w, http.StatusConflict, store.ErrAlreadyExists.Error())
		return
	}

	entry, err := s.store.Get(r.Context(), req.Name)
	if err != nil || entry == nil {
		writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name, "status": res.String()})
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name, ok := nameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid name")
		return
	}
	removed, err := s.store.Remove(r.Context(), name)
	if err != nil {
		zap.L().Error("api: remove entry", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove entry")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name, ok := nameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid name")
		return
	}

	limit := store.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	obs, err := s.store.HistoryFor(r.Context(), name, limit)
	if err != nil {
		zap.L().Error("api: price history", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if obs == nil {
		obs = []model.PriceObservation{}
	}
	writeJSON(w, http.StatusOK, obs)
}

type checkResponse struct {
	Result  *model.ReconciliationResult `json:"result"`
	Report  string                      `json:"report"`
	Summary string                      `json:"summary"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(r.Context())
	if err != nil {
		zap.L().Error("api: price check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "price check failed")
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		Result:  res,
		Report:  report.Format(res, res.CheckpointBefore),
		Summary: report.Summary(res),
	})
}
