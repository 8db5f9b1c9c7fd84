package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"stockdash/internal/provider"
)

// Quote is the payload of GET /quote.
//
//	{"c":261.74,"d":-0.48,"dp":-0.183,"h":263.31,"l":260.68,"o":261.07,"pc":262.22,"t":1727467200}
//
// Unknown symbols come back with zeros and nulls rather than an error status.
type Quote struct {
	Current       *float64 `json:"c"`
	Change        *float64 `json:"d"`
	PercentChange *float64 `json:"dp"`
	High          *float64 `json:"h"`
	Low           *float64 `json:"l"`
	Open          *float64 `json:"o"`
	PreviousClose *float64 `json:"pc"`
	Timestamp     *int64   `json:"t"`
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate limited"
	}
	if e.Body != "" {
		return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// GetQuote retrieves the current quote for a single symbol.
func (c *APIClient) GetQuote(ctx context.Context, symbol string, opts ...APIClientOption) (*Quote, error) {
	var override = &APIClient{
		name:       c.name,
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
	}
	for _, opt := range opts {
		opt(override)
	}

	query := url.Values{}
	query.Set("symbol", symbol)

	u := fmt.Sprintf("%s/quote?%s", strings.TrimRight(override.baseURL, "/"), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header
	req.Header.Set("Accept", "application/json")

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var quote Quote
	if err := json.NewDecoder(res.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decoding quote response: %w: %w", provider.ErrMalformed, err)
	}
	return &quote, nil
}

// Quote implements provider.Source.
func (c *APIClient) Quote(ctx context.Context, symbol string) (provider.RawQuote, error) {
	q, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return provider.RawQuote{}, err
	}
	raw := provider.RawQuote{
		Current:       q.Current,
		Change:        q.Change,
		PercentChange: q.PercentChange,
		High:          q.High,
		Low:           q.Low,
		Open:          q.Open,
		PreviousClose: q.PreviousClose,
	}
	if q.Timestamp != nil {
		raw.Timestamp = *q.Timestamp
	}
	return raw, nil
}

// Ping reports whether the API host answers at all. Any HTTP response,
// whatever its status, counts as reachable.
func (c *APIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", c.baseURL, err)
	}
	_ = res.Body.Close()
	return nil
}
