package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"calagg/internal/aggregate"
	"calagg/internal/cache"
	"calagg/internal/config"
	appLog "calagg/internal/log"
	"calagg/internal/metrics"
	"calagg/internal/present"
	"calagg/internal/window"
)

// Server exposes aggregated calendars over HTTP.
type Server struct {
	cfg     *config.Config
	agg     *aggregate.Aggregator
	opts    present.Options
	store   cache.Store
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// NewServer constructs a new Server. A nil store disables caching; a nil
// metrics hides /metrics.
func NewServer(cfg *config.Config, agg *aggregate.Aggregator, store cache.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		agg:     agg,
		opts:    present.OptionsFromConfig(cfg),
		store:   store,
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calagg", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, s *Server) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// noDataResponse is returned when no source produced data.
type noDataResponse struct {
	Error    string                    `json:"error"`
	Failures []aggregate.SourceFailure `json:"failures,omitempty"`
}

// handleEvents returns the aggregated payload.
//
// GET /api/events?layout=week
//   - layout: one of the layout modes; defaults to the configured one.
//
// Rendered payloads are cached per layout for cache.ttl; the cron refresh
// keeps the default layout warm.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	mode := s.agg.Settings().Layout
	if q := r.URL.Query().Get("layout"); q != "" {
		m, err := window.ParseMode(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	if body, ok := s.cached(ctx, mode); ok {
		writeRawJSON(w, http.StatusOK, body)
		return
	}

	body, err := s.render(ctx, mode)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

// handleRefresh drops cached payloads and recomputes the default layout.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store != nil {
		if err := s.store.Purge(r.Context()); err != nil {
			appLog.Error("api refresh: cache purge failed", err)
		}
	}
	body, err := s.render(r.Context(), s.agg.Settings().Layout)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

// Refresh recomputes the configured layout into the cache. It is the
// scheduler's job.
func (s *Server) Refresh(ctx context.Context) error {
	_, err := s.render(ctx, s.agg.Settings().Layout)
	return err
}

func cacheKey(mode window.Mode) string {
	return "events:" + string(mode)
}

func (s *Server) cached(ctx context.Context, mode window.Mode) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	body, ok, err := s.store.Get(ctx, cacheKey(mode))
	if err != nil {
		// A broken cache degrades to recomputing.
		appLog.Warn("api events: cache read failed", "err", err)
		return nil, false
	}
	s.metrics.CacheLookup(ok)
	return body, ok
}

// render runs one aggregation for mode, encodes it and stores it.
func (s *Server) render(ctx context.Context, mode window.Mode) ([]byte, error) {
	res, err := s.agg.Run(ctx, aggregate.Request{Layout: mode})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(present.Build(res, s.opts))
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, cacheKey(mode), body); err != nil {
			appLog.Warn("api events: cache write failed", "err", err)
		}
	}
	return body, nil
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var nd *aggregate.NoDataError
	switch {
	case errors.As(err, &nd):
		writeJSON(w, http.StatusServiceUnavailable, noDataResponse{Error: aggregate.ErrNoData.Error(), Failures: nd.Failures})
	case errors.Is(err, aggregate.ErrNoSources):
		writeJSON(w, http.StatusServiceUnavailable, noDataResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is listening.
		appLog.Debug("api events: request cancelled")
	default:
		appLog.Error("api events: aggregation failed", err)
		writeError(w, http.StatusInternalServerError, "failed to aggregate events")
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
