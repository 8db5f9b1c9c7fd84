package telemetry

import (
	"expvar"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

var (
	quoteAttemptsTotal       = expvar.NewInt("quote_attempts_total")
	quoteRetriesTotal        = expvar.NewInt("quote_retries_total")
	symbolFallbacksTotal     = expvar.NewInt("quote_symbol_fallbacks_total")
	symbolFallbacksBySymbol  = expvar.NewMap("quote_symbol_fallbacks_by_symbol")
	batchFallbacksTotal      = expvar.NewInt("quote_batch_fallbacks_total")
	refreshCyclesTotal       = expvar.NewInt("refresh_cycles_total")
	refreshLatencyMsTotal    = expvar.NewInt("refresh_latency_ms_total")
	apiRequestsTotal         = expvar.NewInt("api_requests_total")
	apiRequestsErrorsTotal   = expvar.NewInt("api_requests_errors_total")
	apiRequestLatencyMsTotal = expvar.NewInt("api_request_latency_ms_total")
	apiRequestsByRoute       = expvar.NewMap("api_requests_by_route")
	apiRequestErrorsByRoute  = expvar.NewMap("api_request_errors_by_route")
)

// Expvar records feed events into process-wide expvar counters,
// served at /debug/vars.
type Expvar struct{}

func (Expvar) Attempt(string) { quoteAttemptsTotal.Add(1) }

func (Expvar) Retry(string) { quoteRetriesTotal.Add(1) }

func (Expvar) SymbolFallback(symbol string) {
	symbolFallbacksTotal.Add(1)
	symbolFallbacksBySymbol.Add(symbol, 1)
}

func (Expvar) BatchFallback() { batchFallbacksTotal.Add(1) }

func (Expvar) RefreshCycle(d time.Duration) {
	refreshCyclesTotal.Add(1)
	refreshLatencyMsTotal.Add(d.Milliseconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// APIRequestMetricsMiddleware records request volume, error rate, and latency.
func APIRequestMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		key := strings.TrimSpace(r.Method + " " + requestRoute(r))
		apiRequestsTotal.Add(1)
		apiRequestsByRoute.Add(key, 1)
		if recorder.status >= http.StatusBadRequest {
			apiRequestsErrorsTotal.Add(1)
			apiRequestErrorsByRoute.Add(key, 1)
		}
		apiRequestLatencyMsTotal.Add(time.Since(start).Milliseconds())
	})
}

func requestRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return strings.TrimSpace(r.URL.Path)
}
