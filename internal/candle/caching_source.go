package candle

import (
	"context"
	"sync"
	"time"

	"github.com/smc-engine/smcengine/internal/models"
)

type cacheKey struct {
	symbol    string
	timeframe string
	lookback  int
}

type cacheEntry struct {
	candles   []models.Candle
	fetchedAt time.Time
}

// CachingSource wraps a Source with a short TTL cache, absorbing bursts
// of per-timeframe fetches for the same symbol within one scan tick
// (the Batch Aggregator calls FetchCandles once per timeframe per
// symbol, and a retry on one timeframe should not re-hit the network
// for timeframes it already has fresh data for).
type CachingSource struct {
	inner Source
	ttl   time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// NewCachingSource wraps inner with a cache of the given TTL.
func NewCachingSource(inner Source, ttl time.Duration) *CachingSource {
	return &CachingSource{
		inner: inner,
		ttl:   ttl,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// FetchCandles returns a cached result if one is fresh, otherwise
// delegates to the wrapped source and caches the result.
func (c *CachingSource) FetchCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]models.Candle, error) {
	key := cacheKey{symbol: symbol, timeframe: timeframe, lookback: lookback}

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		out := make([]models.Candle, len(entry.candles))
		copy(out, entry.candles)
		return out, nil
	}

	candles, err := c.inner.FetchCandles(ctx, symbol, timeframe, lookback)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{candles: candles, fetchedAt: time.Now()}
	c.mu.Unlock()

	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// LatestQuote always delegates; quotes are not cached.
func (c *CachingSource) LatestQuote(ctx context.Context, symbol string) (Quote, error) {
	return c.inner.LatestQuote(ctx, symbol)
}

// IsReady delegates to the wrapped source.
func (c *CachingSource) IsReady() bool {
	return c.inner.IsReady()
}
