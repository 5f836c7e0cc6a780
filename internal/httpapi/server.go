// Package httpapi serves the session query surface, health and Prometheus
// metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/portfolio"
	"github.com/rustyeddy/riskbook/position"
)

// Server is a read-only JSON API over a session manager.
type Server struct {
	httpServer *http.Server
	manager    *portfolio.Manager
	log        zerolog.Logger
	startedAt  time.Time
}

// New creates a server bound to addr. gatherer backs /metrics.
func New(addr string, m *portfolio.Manager, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		manager:   m,
		log:       log.With().Str("component", "httpapi").Logger(),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /api/sessions/{id}/positions/{symbol}", s.handlePosition)
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/sessions/{id}/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/sessions/{id}/margin", s.handleMargin)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api server")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError maps the error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, position.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, position.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, position.ErrNotAllowed):
		code = http.StatusConflict
	default:
		s.log.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// GET /api/sessions lists loaded session ids and uptime.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"sessions": s.manager.Sessions(),
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	ps, err := s.manager.OpenPositions(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, ps)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.manager.Position(r.PathValue("id"), market.NormalizeSymbol(r.PathValue("symbol")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, p)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Snapshot(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, snap)
}

// GET /api/sessions/{id}/history?limit=n returns saved snapshots, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, errors.Join(errors.New("limit must be a non-negative integer"), position.ErrInvalidInput))
			return
		}
		limit = n
	}
	p, err := s.manager.Session(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	snaps, err := p.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, snaps)
}

// GET /api/sessions/{id}/statistics?from=RFC3339&to=RFC3339
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.manager.Session(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, p.Statistics(from, to))
}

func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request) {
	m, err := s.manager.MarginStatus(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, m)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.Join(err, position.ErrInvalidInput)
	}
	return t, nil
}
