// Package api serves the engine's books, states and session journal over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/amirphl/bookstream/internal/exchange"
	"github.com/amirphl/bookstream/internal/impact"
	"github.com/amirphl/bookstream/internal/journal"
	"github.com/amirphl/bookstream/internal/market"
	"github.com/amirphl/bookstream/internal/metrics"
)

// DefaultEventWindow is the /events lookback when no since parameter is given.
const DefaultEventWindow = 24 * time.Hour

// Engine is the read side of exchange.Engine.
type Engine interface {
	Book(venue market.Venue) (market.Book, error)
	Status() []exchange.VenueStatus
	Ready() bool
}

type Server struct {
	engine  Engine
	journal journal.Journaler
	logger  zerolog.Logger
	mux     *http.ServeMux
	now     func() time.Time
}

// New builds the router. A nil registry disables /metrics and a nil
// journaler serves an empty /events.
func New(engine Engine, j journal.Journaler, reg *prometheus.Registry, logger zerolog.Logger) *Server {
	if j == nil {
		j = journal.Nop{}
	}
	s := &Server{
		engine:  engine,
		journal: j,
		logger:  logger.With().Str("component", "api").Logger(),
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.mux.HandleFunc("GET /books/{venue}", s.handleBook)
	s.mux.HandleFunc("GET /states", s.handleStates)
	s.mux.HandleFunc("GET /impact/{venue}", s.handleImpact)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	if reg != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(reg))
	}
	return s
}

// Handler returns the router wrapped in the request id and logging middleware.
func (s *Server) Handler() http.Handler {
	return RequestID(Logger(s.logger)(s.mux))
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API | listening")
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

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	venue, ok := s.venue(w, r)
	if !ok {
		return
	}
	b, err := s.engine.Book(venue)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("depth must be a non-negative integer"))
			return
		}
		b.Bids, b.Asks = truncate(b.Bids, n), truncate(b.Asks, n)
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

type impactResponse struct {
	Venue market.Venue `json:"venue"`
	Side  impact.Side  `json:"side"`
	Type  impact.Type  `json:"type"`
	impact.Metrics
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	venue, ok := s.venue(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	o, err := impact.NewOrder(q.Get("side"), q.Get("qty"), q.Get("price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.engine.Book(venue)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, impactResponse{
		Venue:   venue,
		Side:    o.Side,
		Type:    o.Type,
		Metrics: impact.Estimate(b, o),
	})
}

type eventView struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId"`
	Venue       string         `json:"venue"`
	Symbol      string         `json:"symbol,omitempty"`
	Attempt     int            `json:"attempt,omitempty"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end := s.now()
	start := end.Add(-DefaultEventWindow)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &start}, {"until", &end}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New(p.name+" must be an RFC3339 time"))
			return
		}
		*p.dst = t
	}

	events, err := s.journal.GetEvents(r.Context(), q.Get("type"), start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("API | failed to read journal")
		writeError(w, http.StatusInternalServerError, errors.New("journal unavailable"))
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			Time:        e.Time,
			Type:        e.Type,
			SessionID:   e.SessionID.String(),
			Venue:       e.Venue,
			Symbol:      e.Symbol,
			Attempt:     e.Attempt,
			Description: e.Description,
			Data:        e.Data,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Ready() {
		writeError(w, http.StatusServiceUnavailable, errors.New("no venue is streaming"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) venue(w http.ResponseWriter, r *http.Request) (market.Venue, bool) {
	v, err := market.ParseVenue(r.PathValue("venue"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return v, true
}

func truncate(side market.Side, n int) market.Side {
	if len(side) > n {
		return side[:n]
	}
	return side
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
