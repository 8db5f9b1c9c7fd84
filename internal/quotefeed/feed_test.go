package quotefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockdash/internal/httpx"
	"stockdash/internal/provider"
	"stockdash/internal/provider/finnhub"
)

// fakeSource answers from fn and counts calls per symbol.
type fakeSource struct {
	fn      func(ctx context.Context, symbol string, call int) (provider.RawQuote, error)
	pingErr error

	mu    sync.Mutex
	calls map[string]int
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Quote(ctx context.Context, symbol string) (provider.RawQuote, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[symbol]++
	n := s.calls[symbol]
	s.mu.Unlock()
	return s.fn(ctx, symbol, n)
}

func (s *fakeSource) Ping(context.Context) error { return s.pingErr }

func (s *fakeSource) Calls(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

type recordingMetrics struct {
	attempts, retries, symbolFallbacks, batchFallbacks atomic.Int32
}

func (m *recordingMetrics) Attempt(string)        { m.attempts.Add(1) }
func (m *recordingMetrics) Retry(string)          { m.retries.Add(1) }
func (m *recordingMetrics) SymbolFallback(string) { m.symbolFallbacks.Add(1) }
func (m *recordingMetrics) BatchFallback()        { m.batchFallbacks.Add(1) }

func ptr(v float64) *float64 { return &v }

func live(price, change, pct, prev float64) provider.RawQuote {
	return provider.RawQuote{Current: ptr(price), Change: ptr(change), PercentChange: ptr(pct), PreviousClose: ptr(prev)}
}

func newTestFeed(src provider.Source, m Metrics) *Feed {
	return New(src, Config{
		Retry:          RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		AttemptTimeout: time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:        m,
	})
}

func inSyntheticRange(t *testing.T, q Quote) {
	t.Helper()
	require.True(t, q.Synthetic, "expected synthetic quote: %+v", q)
	require.True(t, q.Price >= 50 && q.Price < 250, "price %v", q.Price)
	require.True(t, q.Change >= -5 && q.Change < 5, "change %v", q.Change)
	require.True(t, q.ChangePercent >= -2.5 && q.ChangePercent < 2.5, "changePercent %v", q.ChangePercent)
}

func TestFetchOne_Normalizes(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(_ context.Context, symbol string, _ int) (provider.RawQuote, error) {
		require.Equal(t, "AAPL", symbol)
		return live(261.74, -0.48, -0.183, 262.22), nil
	}}

	q, err := newTestFeed(src, &recordingMetrics{}).FetchOne(t.Context(), " aapl")
	require.NoError(t, err)
	require.Equal(t, Quote{Symbol: "AAPL", Price: 261.74, Change: -0.48, ChangePercent: -0.183}, q)
}

func TestFetchOne_MissingFieldsAreZero(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return provider.RawQuote{PreviousClose: ptr(12)}, nil
	}}

	q, err := newTestFeed(src, &recordingMetrics{}).FetchOne(t.Context(), "IBM")
	require.NoError(t, err)
	require.Equal(t, Quote{Symbol: "IBM"}, q)
}

func TestFetchOne_NoDataNotRetried(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return live(0, 0, 0, 0), nil
	}}
	m := &recordingMetrics{}

	_, err := newTestFeed(src, m).FetchOne(t.Context(), "zzzz")

	require.ErrorIs(t, err, ErrNoData)
	require.False(t, errors.Is(err, ErrFetchFailed))
	var nd *NoDataError
	require.ErrorAs(t, err, &nd)
	require.Equal(t, "ZZZZ", nd.Symbol)
	require.Equal(t, 1, src.Calls("ZZZZ"))
	require.Zero(t, m.retries.Load())
}

func TestFetchOne_EmptyPayloadIsNoData(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return provider.RawQuote{}, nil
	}}
	_, err := newTestFeed(src, &recordingMetrics{}).FetchOne(t.Context(), "ZZZZ")
	require.ErrorIs(t, err, ErrNoData)
}

func TestFetchOne_FailsTwiceThenSucceeds(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(_ context.Context, _ string, call int) (provider.RawQuote, error) {
		if call <= 2 {
			return provider.RawQuote{}, errors.New("dial tcp: connection refused")
		}
		return live(100, 1, 1, 99), nil
	}}
	m := &recordingMetrics{}

	q, err := newTestFeed(src, m).FetchOne(t.Context(), "MSFT")

	require.NoError(t, err)
	require.InDelta(t, 100.0, q.Price, 1e-9)
	require.Equal(t, 3, src.Calls("MSFT"))
	require.Equal(t, int32(3), m.attempts.Load())
	require.Equal(t, int32(2), m.retries.Load())
}

func TestFetchOne_ExhaustsBudget(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return provider.RawQuote{}, &finnhub.StatusError{Code: http.StatusBadGateway}
	}}

	_, err := newTestFeed(src, &recordingMetrics{}).FetchOne(t.Context(), "MSFT")

	require.ErrorIs(t, err, ErrFetchFailed)
	require.False(t, errors.Is(err, ErrNoData))
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, 3, ne.Attempts)
	require.Equal(t, "MSFT", ne.Symbol)
	var se *finnhub.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 3, src.Calls("MSFT"))
}

func TestFetchOne_MalformedNotRetried(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return provider.RawQuote{}, fmt.Errorf("decoding quote response: %w", provider.ErrMalformed)
	}}

	_, err := newTestFeed(src, &recordingMetrics{}).FetchOne(t.Context(), "GOOGL")
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, 1, src.Calls("GOOGL"))
}

func TestFetchOne_AttemptTimeout(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(ctx context.Context, _ string, _ int) (provider.RawQuote, error) {
		<-ctx.Done()
		return provider.RawQuote{}, ctx.Err()
	}}
	f := New(src, Config{
		Retry:          RetryPolicy{Attempts: 2, Delay: time.Millisecond},
		AttemptTimeout: 20 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:        &recordingMetrics{},
	})

	_, err := f.FetchOne(t.Context(), "AMZN")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, 2, src.Calls("AMZN"))
}

func TestFetchOne_NilSource(t *testing.T) {
	t.Parallel()

	_, err := newTestFeed(nil, &recordingMetrics{}).FetchOne(t.Context(), "AAPL")
	require.ErrorIs(t, err, ErrFetchFailed)
	require.ErrorIs(t, err, ErrBatchUnavailable)
}

func TestFetchAll_OnePerSymbolInOrder(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(_ context.Context, symbol string, _ int) (provider.RawQuote, error) {
		return live(float64(len(symbol))*10, 1, 1, 1), nil
	}}
	symbols := []string{"nvda", "A", "GOOGL", "meta"}

	snap := newTestFeed(src, &recordingMetrics{}).FetchAll(t.Context(), symbols)

	require.Equal(t, []string{"NVDA", "A", "GOOGL", "META"}, snap.Symbols())
	require.InDelta(t, 40.0, snap[0].Price, 1e-9)
	require.InDelta(t, 10.0, snap[1].Price, 1e-9)
	require.Zero(t, snap.SyntheticCount())
}

func TestFetchAll_Empty(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		t.Fatal("no fetch expected")
		return provider.RawQuote{}, nil
	}}
	snap := newTestFeed(src, &recordingMetrics{}).FetchAll(t.Context(), nil)
	require.Empty(t, snap)
}

func TestFetchAll_InvalidSymbolGetsSyntheticQuote(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(_ context.Context, symbol string, _ int) (provider.RawQuote, error) {
		if symbol == "ZZZZ" {
			// the payload an unknown ticker produces
			return provider.RawQuote{Current: ptr(0), PreviousClose: ptr(0), High: ptr(0), Low: ptr(0), Open: ptr(0)}, nil
		}
		return live(261.74, -0.48, -0.18, 262.22), nil
	}}
	m := &recordingMetrics{}

	snap := newTestFeed(src, m).FetchAll(t.Context(), []string{"AAPL", "ZZZZ"})

	require.Len(t, snap, 2)
	require.Equal(t, Quote{Symbol: "AAPL", Price: 261.74, Change: -0.48, ChangePercent: -0.18}, snap[0])
	require.Equal(t, "ZZZZ", snap[1].Symbol)
	inSyntheticRange(t, snap[1])
	require.Equal(t, int32(1), m.symbolFallbacks.Load())
	require.Zero(t, m.batchFallbacks.Load())
}

func TestFetchAll_EveryFailureIsSubstituted(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(_ context.Context, symbol string, _ int) (provider.RawQuote, error) {
		switch symbol {
		case "BAD1":
			return provider.RawQuote{}, errors.New("timeout")
		case "BAD2":
			return provider.RawQuote{}, nil
		case "BAD3":
			return provider.RawQuote{}, fmt.Errorf("x: %w", provider.ErrMalformed)
		}
		return live(10, 0, 0, 10), nil
	}}

	snap := newTestFeed(src, &recordingMetrics{}).FetchAll(t.Context(), []string{"BAD1", "OK", "BAD2", "BAD3"})

	require.Equal(t, []string{"BAD1", "OK", "BAD2", "BAD3"}, snap.Symbols())
	for _, i := range []int{0, 2, 3} {
		inSyntheticRange(t, snap[i])
	}
	require.False(t, snap[1].Synthetic)
}

func TestFetchAll_RunsConcurrently(t *testing.T) {
	t.Parallel()

	delays := map[string]time.Duration{
		"AAPL": 100 * time.Millisecond,
		"MSFT": 150 * time.Millisecond,
		"NVDA": 200 * time.Millisecond,
		"TSLA": 200 * time.Millisecond,
	}
	src := &fakeSource{fn: func(ctx context.Context, symbol string, _ int) (provider.RawQuote, error) {
		select {
		case <-time.After(delays[symbol]):
		case <-ctx.Done():
			return provider.RawQuote{}, ctx.Err()
		}
		return live(1, 0, 0, 1), nil
	}}

	start := time.Now()
	snap := newTestFeed(src, &recordingMetrics{}).FetchAll(t.Context(), []string{"AAPL", "MSFT", "NVDA", "TSLA"})
	elapsed := time.Since(start)

	require.Len(t, snap, 4)
	require.Zero(t, snap.SyntheticCount())
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	// sequential would take 650ms
	require.Less(t, elapsed, 450*time.Millisecond)
}

func TestFetchAll_RetryDelayDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	var fastDone atomic.Int64
	start := time.Now()
	src := &fakeSource{fn: func(_ context.Context, symbol string, call int) (provider.RawQuote, error) {
		if symbol == "SLOW" && call < 3 {
			return provider.RawQuote{}, errors.New("reset")
		}
		if symbol == "FAST" {
			fastDone.Store(int64(time.Since(start)))
		}
		return live(1, 0, 0, 1), nil
	}}
	f := New(src, Config{
		Retry:   RetryPolicy{Attempts: 3, Delay: 150 * time.Millisecond},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: &recordingMetrics{},
	})

	snap := f.FetchAll(t.Context(), []string{"SLOW", "FAST"})

	require.Zero(t, snap.SyntheticCount())
	require.Less(t, time.Duration(fastDone.Load()), 100*time.Millisecond)
	require.Equal(t, 3, src.Calls("SLOW"))
}

func TestFetchSnapshotWithFallback_PartialFailureIsSilent(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(_ context.Context, symbol string, _ int) (provider.RawQuote, error) {
		if symbol == "ZZZZ" {
			return provider.RawQuote{}, nil
		}
		return live(5, 0, 0, 5), nil
	}}
	m := &recordingMetrics{}

	snap, usedFallback := newTestFeed(src, m).FetchSnapshotWithFallback(t.Context(), []string{"AAPL", "ZZZZ"})

	require.False(t, usedFallback)
	require.Len(t, snap, 2)
	require.Equal(t, 1, snap.SyntheticCount())
	require.Equal(t, int32(1), m.symbolFallbacks.Load())
	require.Zero(t, m.batchFallbacks.Load())
}

func TestFetchSnapshotWithFallback_AllSymbolsFailingIsStillNotBatchFallback(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return provider.RawQuote{}, nil
	}}
	snap, usedFallback := newTestFeed(src, &recordingMetrics{}).FetchSnapshotWithFallback(t.Context(), DefaultSymbols())
	require.False(t, usedFallback)
	require.Equal(t, 8, snap.SyntheticCount())
}

func TestFetchSnapshotWithFallback_SourceUnreachable(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		pingErr: errors.New("dial tcp: network is unreachable"),
		fn: func(context.Context, string, int) (provider.RawQuote, error) {
			t.Fatal("no per-symbol fetch expected")
			return provider.RawQuote{}, nil
		},
	}
	m := &recordingMetrics{}

	snap, usedFallback := newTestFeed(src, m).FetchSnapshotWithFallback(t.Context(), DefaultSymbols())

	require.True(t, usedFallback)
	require.Equal(t, DefaultSymbols(), snap.Symbols())
	for _, q := range snap {
		inSyntheticRange(t, q)
	}
	require.Equal(t, int32(1), m.batchFallbacks.Load())
	require.Zero(t, m.symbolFallbacks.Load())
}

func TestFetchSnapshotWithFallback_NoSourceOrCanceled(t *testing.T) {
	t.Parallel()

	snap, usedFallback := newTestFeed(nil, &recordingMetrics{}).FetchSnapshotWithFallback(t.Context(), []string{"AAPL"})
	require.True(t, usedFallback)
	require.Len(t, snap, 1)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return live(1, 0, 0, 1), nil
	}}
	snap, usedFallback = newTestFeed(src, &recordingMetrics{}).FetchSnapshotWithFallback(ctx, []string{"AAPL", "MSFT"})
	require.True(t, usedFallback)
	require.Equal(t, 2, snap.SyntheticCount())
}

func TestFetchSnapshotWithFallback_NetworkFullyUnreachable(t *testing.T) {
	t.Parallel()

	// a server that is gone: every connection is refused
	ts := httptest.NewServer(http.NotFoundHandler())
	deadURL := ts.URL + "/api/v1"
	ts.Close()

	client, err := finnhub.NewAPIClient("sandbox",
		finnhub.WithBaseURL(deadURL),
		finnhub.WithHTTPClient(httpx.New(time.Second)),
	)
	require.NoError(t, err)

	snap, usedFallback := newTestFeed(client, &recordingMetrics{}).FetchSnapshotWithFallback(t.Context(), DefaultSymbols())

	require.True(t, usedFallback)
	require.Len(t, snap, 8)
	require.Equal(t, DefaultSymbols(), snap.Symbols())
	for _, q := range snap {
		inSyntheticRange(t, q)
	}
}

func TestFetchSnapshotWithFallback_LiveFinnhub(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Header.Get("X-Finnhub-Token") != "sandbox" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = io.WriteString(w, `{"c":261.74,"d":-0.48,"dp":-0.183,"h":263.31,"l":260.68,"o":261.07,"pc":262.22,"t":1727467200}`)
		default:
			_, _ = io.WriteString(w, `{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`)
		}
	}))
	defer ts.Close()

	client, err := finnhub.NewAPIClient("sandbox",
		finnhub.WithBaseURL(ts.URL),
		finnhub.WithHTTPClient(httpx.New(time.Second)),
	)
	require.NoError(t, err)

	snap, usedFallback := newTestFeed(client, &recordingMetrics{}).FetchSnapshotWithFallback(t.Context(), []string{"AAPL", "ZZZZ"})

	require.False(t, usedFallback)
	require.Equal(t, Quote{Symbol: "AAPL", Price: 261.74, Change: -0.48, ChangePercent: -0.183}, snap[0])
	require.Equal(t, "ZZZZ", snap[1].Symbol)
	inSyntheticRange(t, snap[1])
}

func TestFeed_CycleBudget(t *testing.T) {
	t.Parallel()

	require.Equal(t, 42*time.Second, New(nil, Config{}).CycleBudget())

	f := New(nil, Config{
		Retry:          RetryPolicy{Attempts: 3, Delay: 10 * time.Millisecond},
		AttemptTimeout: 100 * time.Millisecond,
	})
	require.Equal(t, 420*time.Millisecond, f.CycleBudget())
}

func TestFeed_DefaultMetricsDiscard(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fn: func(context.Context, string, int) (provider.RawQuote, error) {
		return provider.RawQuote{}, errors.New("down")
	}}
	f := New(src, Config{
		Retry:  RetryPolicy{Attempts: 2, Delay: time.Millisecond},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	snap := f.FetchAll(t.Context(), []string{"AAPL"})

	require.IsType(t, nopMetrics{}, f.metrics)
	require.Equal(t, 1, snap.SyntheticCount())
}
