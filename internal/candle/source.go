// Package candle supplies ordered candle streams per (symbol, timeframe),
// abstracting whichever concrete broker or mock backs it.
package candle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smc-engine/smcengine/internal/models"
)

// ErrSourceNotReady is returned when a source is queried before it has
// completed its startup handshake.
var ErrSourceNotReady = errors.New("candle source is not ready")

// Quote is the latest trade price for a symbol.
type Quote struct {
	Symbol     string
	Price      float64
	ChangePct  float64
	Timestamp  time.Time
}

// Source supplies finalized candles and live quotes for a symbol. The
// core never assumes which concrete implementation backs it.
type Source interface {
	// FetchCandles returns up to lookback candles for (symbol, timeframe),
	// sorted by timestamp ascending, contiguous at the timeframe's interval.
	FetchCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]models.Candle, error)

	// LatestQuote returns the most recent trade price for symbol.
	LatestQuote(ctx context.Context, symbol string) (Quote, error)

	// IsReady reports whether the source has completed its startup
	// handshake and can serve requests.
	IsReady() bool
}

// TransientError wraps a retryable failure (network blip, 5xx) from a
// Source. Callers retry with backoff.
type TransientError struct {
	Symbol string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("candle source transient error for %s: %v", e.Symbol, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError wraps a non-retryable authentication failure. Scanning
// continues for other symbols; the affected symbol's stored signal is
// not rewritten and is reported stale once it is older than three scan
// intervals. Nothing marks it stale on the auth failure itself.
type AuthError struct {
	Symbol string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("candle source authentication required for %s: %v", e.Symbol, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CandleSourceError wraps any other source failure that is neither
// transient nor an auth failure.
type CandleSourceError struct {
	Symbol string
	Err    error
}

func (e *CandleSourceError) Error() string {
	return fmt.Sprintf("candle source error for %s: %v", e.Symbol, e.Err)
}

func (e *CandleSourceError) Unwrap() error { return e.Err }

// TimeframeInterval maps the fixed timeframe tokens (spec.md §4.F) to
// their bar interval.
func TimeframeInterval(timeframe string) (time.Duration, bool) {
	switch timeframe {
	case "5m":
		return 5 * time.Minute, true
	case "15m":
		return 15 * time.Minute, true
	case "30m":
		return 30 * time.Minute, true
	case "1h":
		return time.Hour, true
	case "2h":
		return 2 * time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	default:
		return 0, false
	}
}
