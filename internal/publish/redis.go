// Package publish mirrors the poller's latest state into Redis so other
// processes can read current quotes without calling the quote API.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"stockdash/internal/quotefeed"
)

// StateKey holds the whole latest dashboard state.
const StateKey = "quotes:latest"

// QuoteKey is the key a symbol's latest quote is stored under.
func QuoteKey(symbol string) string {
	return "quote:" + quotefeed.Canonical(symbol)
}

// Store is the subset of *redis.Client the publisher uses.
type Store interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Publisher writes each published state to a Store. Only the latest value
// is kept; entries expire after TTL so a stopped poller leaves no stale data.
type Publisher struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

func New(store Store, ttl time.Duration, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{store: store, ttl: ttl, log: log}
}

// Dial connects to Redis at addr and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Publish stores every quote under QuoteKey and the full state under
// StateKey. It attempts every write and returns all failures joined.
func (p *Publisher) Publish(ctx context.Context, s quotefeed.State) error {
	var errs []error
	for _, q := range s.Quotes {
		if err := p.set(ctx, QuoteKey(q.Symbol), q); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.set(ctx, StateKey, s); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Listener adapts Publish for quotefeed.WithListener. Failures are logged.
func (p *Publisher) Listener() quotefeed.Listener {
	return func(ctx context.Context, s quotefeed.State) {
		if err := p.Publish(ctx, s); err != nil {
			p.log.Error("publishing quotes to redis", "cycle", s.Cycle, "error", err)
		}
	}
}

func (p *Publisher) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := p.store.Set(ctx, key, b, p.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
