package provider

import (
	"context"
	"errors"
)

// ErrMalformed marks a response that arrived but could not be decoded.
// Sources wrap decode failures with it so callers can skip retrying them.
var ErrMalformed = errors.New("malformed response")

// RawQuote is the un-normalized quote payload returned by a Source.
// Nil fields were absent (or null) in the upstream response.
type RawQuote struct {
	Current       *float64
	Change        *float64
	PercentChange *float64
	High          *float64
	Low           *float64
	Open          *float64
	PreviousClose *float64
	Timestamp     int64
}

// Source fetches a single symbol's quote from an upstream API.
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string) (RawQuote, error)
}

// Pinger is implemented by sources that can cheaply report whether
// the upstream is reachable at all.
type Pinger interface {
	Ping(ctx context.Context) error
}
