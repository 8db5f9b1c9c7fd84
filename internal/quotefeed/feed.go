package quotefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"stockdash/internal/provider"
)

// Metrics receives feed events. Per-symbol and whole-batch fallbacks are
// reported separately so they can be told apart.
type Metrics interface {
	Attempt(symbol string)
	Retry(symbol string)
	SymbolFallback(symbol string)
	BatchFallback()
}

type nopMetrics struct{}

func (nopMetrics) Attempt(string)        {}
func (nopMetrics) Retry(string)          {}
func (nopMetrics) SymbolFallback(string) {}
func (nopMetrics) BatchFallback()        {}

// Config tunes a Feed. Zero fields take defaults.
type Config struct {
	Retry RetryPolicy
	// AttemptTimeout bounds each request to the source. Defaults to 10s.
	AttemptTimeout time.Duration
	Generator      *Generator
	Logger         *slog.Logger
	// Metrics defaults to discarding events.
	Metrics Metrics
}

// Feed fetches snapshots from a quote source. It keeps no state between
// calls and is safe for concurrent use.
type Feed struct {
	src     provider.Source
	retry   RetryPolicy
	timeout time.Duration
	gen     *Generator
	log     *slog.Logger
	metrics Metrics
}

// New returns a feed over src. A nil src makes every batch fall back to
// synthetic data.
func New(src provider.Source, cfg Config) *Feed {
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.Generator == nil {
		cfg.Generator = NewGenerator(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Feed{
		src:     src,
		retry:   cfg.Retry,
		timeout: cfg.AttemptTimeout,
		gen:     cfg.Generator,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// CycleBudget is the longest FetchSnapshotWithFallback can take: the
// reachability probe plus every attempt timing out, with the delays
// between them.
func (f *Feed) CycleBudget() time.Duration {
	n := max(f.retry.Attempts, 1)
	return f.timeout + time.Duration(n)*f.timeout + time.Duration(n-1)*f.retry.Delay
}

// Generator exposes the feed's synthetic quote generator for demo mode.
func (f *Feed) Generator() *Generator { return f.gen }

// FetchOne fetches and normalizes a live quote. Transport failures are
// retried per the feed's policy; the result is a *NetworkError once the
// budget is spent, or a *NoDataError when the source has nothing for the
// symbol.
func (f *Feed) FetchOne(ctx context.Context, symbol string) (Quote, error) {
	sym := Canonical(symbol)
	if f.src == nil {
		return Quote{}, &NetworkError{Symbol: sym, Err: ErrBatchUnavailable}
	}

	policy := f.retry
	policy.OnRetry = func(attempt int, err error) {
		f.metrics.Retry(sym)
		f.log.Warn("quote request failed, retrying",
			"symbol", sym, "attempt", attempt, "remaining", f.retry.Attempts-attempt, "error", err)
	}

	var raw provider.RawQuote
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		f.metrics.Attempt(sym)
		actx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		q, err := f.src.Quote(actx, sym)
		if err != nil {
			return err
		}
		raw = q
		return nil
	})
	if err != nil {
		return Quote{}, &NetworkError{Symbol: sym, Attempts: attempts, Err: err}
	}
	return normalize(sym, raw)
}

// FetchAll fetches every symbol concurrently. A symbol whose fetch fails
// for any reason gets a synthetic quote instead, so the result always has
// one quote per input symbol, in input order.
func (f *Feed) FetchAll(ctx context.Context, symbols []string) Snapshot {
	out := make(Snapshot, len(symbols))
	var g errgroup.Group
	for i, s := range symbols {
		g.Go(func() error {
			q, err := f.FetchOne(ctx, s)
			if err != nil {
				f.metrics.SymbolFallback(Canonical(s))
				f.log.Warn("using synthetic quote for symbol", "symbol", Canonical(s), "error", err)
				q = f.gen.Quote(s)
			}
			out[i] = q
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FetchSnapshotWithFallback returns a fully synthetic snapshot and true
// when the source cannot be used at all. Otherwise it returns FetchAll's
// result and false, however many symbols FetchAll had to substitute.
func (f *Feed) FetchSnapshotWithFallback(ctx context.Context, symbols []string) (Snapshot, bool) {
	if err := f.Available(ctx); err != nil {
		f.metrics.BatchFallback()
		f.log.Warn("quote source unavailable, using synthetic snapshot", "symbols", len(symbols), "error", err)
		return f.gen.Snapshot(symbols), true
	}
	return f.FetchAll(ctx, symbols), false
}

// Available reports whether a batch fetch can run: a source is configured,
// the caller's context is live, and the source answers its reachability
// probe when it has one. Errors wrap ErrBatchUnavailable.
func (f *Feed) Available(ctx context.Context) error {
	if f.src == nil {
		return fmt.Errorf("%w: no source configured", ErrBatchUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBatchUnavailable, err)
	}
	if p, ok := f.src.(provider.Pinger); ok {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if err := p.Ping(pctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBatchUnavailable, f.src.Name(), err)
		}
	}
	return nil
}

func normalize(symbol string, raw provider.RawQuote) (Quote, error) {
	if value(raw.Current) == 0 && value(raw.PreviousClose) == 0 {
		return Quote{}, &NoDataError{Symbol: symbol}
	}
	return Quote{
		Symbol:        symbol,
		Price:         value(raw.Current),
		Change:        value(raw.Change),
		ChangePercent: value(raw.PercentChange),
	}, nil
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
