// Package app assembles the quote source and feed from configuration.
package app

import (
	"fmt"
	"log/slog"

	"stockdash/internal/config"
	"stockdash/internal/httpx"
	"stockdash/internal/provider"
	"stockdash/internal/provider/cache"
	"stockdash/internal/provider/finnhub"
	"stockdash/internal/quotefeed"
	"stockdash/internal/telemetry"
)

// NewSource builds the Finnhub client, wrapped in a response cache when
// one is configured.
func NewSource(cfg config.Config) (provider.Source, error) {
	client, err := finnhub.NewAPIClient(
		cfg.Finnhub.APIKey,
		finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
		finnhub.WithHTTPClient(httpx.New(cfg.AttemptTimeout())),
	)
	if err != nil {
		return nil, fmt.Errorf("finnhub client: %w", err)
	}
	var src provider.Source = client
	if ttl := cfg.CacheTTL(); ttl > 0 {
		src = &cache.Provider{P: src, TTL: ttl, MaxItems: cfg.Cache.MaxItems}
	}
	return src, nil
}

// NewFeed builds a feed over NewSource.
func NewFeed(cfg config.Config, log *slog.Logger) (*quotefeed.Feed, error) {
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}
	return quotefeed.New(src, quotefeed.Config{
		Retry:          cfg.RetryPolicy(),
		AttemptTimeout: cfg.AttemptTimeout(),
		Logger:         log,
		Metrics:        telemetry.Expvar{},
	}), nil
}
