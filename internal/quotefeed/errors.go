package quotefeed

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches a NetworkError.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrNoData matches a NoDataError.
	ErrNoData = errors.New("no data for symbol")
	// ErrBatchUnavailable means the quote source cannot be used at all.
	ErrBatchUnavailable = errors.New("quote source unavailable")
)

// NetworkError is returned by FetchOne once the retry budget is spent,
// or immediately for failures that retrying cannot fix.
type NetworkError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch failed for %s after %d attempt(s): %v", e.Symbol, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrFetchFailed }

// NoDataError is returned when the upstream answered but had neither a
// current price nor a previous close for the symbol.
type NoDataError struct {
	Symbol string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data available for symbol: %s", e.Symbol)
}

func (e *NoDataError) Is(target error) bool { return target == ErrNoData }
