// Package server exposes the dashboard state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stockdash/internal/quotefeed"
	"stockdash/internal/telemetry"
	"stockdash/internal/view"
)

// maxDemoSymbols bounds the symbols query of the demo endpoint.
const maxDemoSymbols = 100

// Dashboard is the state holder behind the API; *quotefeed.Poller
// implements it.
type Dashboard interface {
	State() quotefeed.State
	Refresh(ctx context.Context) quotefeed.State
	Symbols() []string
}

// Server serves the dashboard API.
type Server struct {
	dash  Dashboard
	gen   *quotefeed.Generator
	log   *slog.Logger
	wait  time.Duration
	cycle time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRefreshTimeout is how long POST /api/refresh waits for the cycle
// before answering with the current state. The cycle itself keeps running.
// Defaults to 15s.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.wait = d
		}
	}
}

// WithCycleTimeout bounds a manually triggered cycle. It should be at least
// the feed's CycleBudget; zero leaves the cycle bounded only by the feed's
// own per-attempt timeouts.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.cycle = d
		}
	}
}

// New returns a server over dash. gen serves demo snapshots; nil means a
// generator on the default random source.
func New(dash Dashboard, gen *quotefeed.Generator, opts ...Option) *Server {
	if gen == nil {
		gen = quotefeed.NewGenerator(nil)
	}
	s := &Server{dash: dash, gen: gen, log: slog.Default(), wait: 15 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router with middleware applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.APIRequestMetricsMiddleware)
	r.Use(withJSONHeaders, withGzip, recoverPanic(s.log), limitBody)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/debug/vars", expvar.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/symbols", s.handleSymbols)
		r.Get("/quotes", s.handleQuotes)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/demo", s.handleDemo)
	})
	return r
}

type quotesResponse struct {
	Quotes       []view.Row     `json:"quotes"`
	UsedFallback bool           `json:"usedFallback"`
	Advisory     string         `json:"advisory,omitempty"`
	Loading      bool           `json:"loading"`
	UpdatedAt    *time.Time     `json:"updatedAt,omitempty"`
	Cycle        string         `json:"cycle,omitempty"`
	Summary      view.Summary   `json:"summary"`
	Sort         view.SortState `json:"sort"`
	Query        string         `json:"query,omitempty"`
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": s.dash.Symbols()})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	sortState, err := parseSort(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, buildResponse(s.dash.State(), r.URL.Query().Get("q"), sortState))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sortState, err := parseSort(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// the cycle is shared with the ticker, so the request must not cancel it
	ctx := context.WithoutCancel(r.Context())
	cancel := context.CancelFunc(func() {})
	if s.cycle > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cycle)
	}
	done := make(chan quotefeed.State, 1)
	go func() {
		defer cancel()
		done <- s.dash.Refresh(ctx)
	}()

	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case st := <-done:
		writeJSON(w, http.StatusOK, buildResponse(st, r.URL.Query().Get("q"), sortState))
	case <-timer.C:
		s.log.Info("manual refresh still running, returning current state")
		writeJSON(w, http.StatusAccepted, buildResponse(s.dash.State(), r.URL.Query().Get("q"), sortState))
	case <-r.Context().Done():
	}
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	symbols := s.dash.Symbols()
	if q := strings.TrimSpace(r.URL.Query().Get("symbols")); q != "" {
		symbols = splitCSV(q)
	}
	if len(symbols) > maxDemoSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max 100)")
		return
	}
	now := time.Now().UTC()
	st := quotefeed.State{
		Quotes:       s.gen.Snapshot(symbols),
		UsedFallback: true,
		Advisory:     quotefeed.DemoAdvisory,
		UpdatedAt:    now,
	}
	writeJSON(w, http.StatusOK, buildResponse(st, "", view.DefaultSort()))
}

func parseSort(r *http.Request) (view.SortState, error) {
	q := r.URL.Query()
	f, err := view.ParseField(q.Get("sort"))
	if err != nil {
		return view.SortState{}, err
	}
	o, err := view.ParseOrder(q.Get("order"))
	if err != nil {
		return view.SortState{}, err
	}
	return view.SortState{Field: f, Order: o}, nil
}

func buildResponse(st quotefeed.State, term string, sortState view.SortState) quotesResponse {
	rows := view.Filter(st.Quotes, term)
	view.Sort(rows, sortState)
	resp := quotesResponse{
		Quotes:       view.Rows(rows),
		UsedFallback: st.UsedFallback,
		Advisory:     st.Advisory,
		Loading:      st.Loading,
		Cycle:        st.Cycle,
		Summary:      view.Summarize(st.Quotes),
		Sort:         sortState,
		Query:        strings.TrimSpace(term),
	}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Error: message})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
