package cache

import (
	"context"
	"sync"
	"time"

	"stockdash/internal/provider"
)

// entry stores a cached quote for a single symbol with expiry.
type entry struct {
	expiresAt time.Time
	quote     provider.RawQuote
}

// Provider caches successful quotes per symbol for a TTL.
// Failures are never cached, so a retry always reaches the upstream.
type Provider struct {
	P        provider.Source
	TTL      time.Duration
	MaxItems int

	mu    sync.RWMutex
	items map[string]entry // key: symbol
}

func (c *Provider) Name() string { return c.P.Name() }

// Quote returns the cached quote when still valid, otherwise asks the
// wrapped source and stores the result.
func (c *Provider) Quote(ctx context.Context, symbol string) (provider.RawQuote, error) {
	if c.TTL <= 0 {
		return c.P.Quote(ctx, symbol)
	}

	now := time.Now()
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.quote, nil
	}

	q, err := c.P.Quote(ctx, symbol)
	if err != nil {
		return provider.RawQuote{}, err
	}

	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[symbol] = entry{expiresAt: now.Add(c.TTL), quote: q}
	// best-effort cap cache size: expired first, then arbitrary
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if k != symbol {
				delete(c.items, k)
			}
		}
	}
	c.mu.Unlock()
	return q, nil
}

// Ping forwards to the wrapped source when it supports reachability checks.
func (c *Provider) Ping(ctx context.Context) error {
	if p, ok := c.P.(provider.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Len reports the number of cached symbols, expired or not.
func (c *Provider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
