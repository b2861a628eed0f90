package candle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/smc-engine/smcengine/internal/models"
)

// MockSource is a deterministic synthetic candle generator used in
// tests and local development. Each symbol gets its own seeded random
// walk so repeated runs with the same seed produce identical series.
type MockSource struct {
	mu       sync.Mutex
	rng      map[string]*rand.Rand
	basePx   map[string]float64
	seed     int64
	ready    bool
}

// NewMockSource creates a mock source seeded from seed. The same seed
// always produces the same candle series for a given symbol.
func NewMockSource(seed int64) *MockSource {
	return &MockSource{
		rng:    make(map[string]*rand.Rand),
		basePx: make(map[string]float64),
		seed:   seed,
		ready:  true,
	}
}

func (m *MockSource) symbolRand(symbol string) *rand.Rand {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rng[symbol]
	if !ok {
		seed := m.seed
		for _, c := range symbol {
			seed = seed*31 + int64(c)
		}
		r = rand.New(rand.NewSource(seed))
		m.rng[symbol] = r
		m.basePx[symbol] = 100.0 + r.Float64()*200.0
	}
	return r
}

// FetchCandles returns lookback synthetic candles for (symbol, timeframe).
func (m *MockSource) FetchCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]models.Candle, error) {
	interval, ok := TimeframeInterval(timeframe)
	if !ok {
		return nil, &CandleSourceError{Symbol: symbol, Err: fmt.Errorf("unknown timeframe %q", timeframe)}
	}
	if lookback <= 0 {
		return nil, nil
	}

	r := m.symbolRand(symbol)

	m.mu.Lock()
	price := m.basePx[symbol]
	m.mu.Unlock()

	now := time.Now().UTC().Truncate(interval)
	candles := make([]models.Candle, 0, lookback)
	start := now.Add(-time.Duration(lookback) * interval)

	for i := 0; i < lookback; i++ {
		open := price
		change := (r.Float64() - 0.5) * open * 0.01
		close := open + change
		if close < 1.0 {
			close = 1.0
		}
		high := open
		if close > high {
			high = close
		}
		high += r.Float64() * open * 0.002
		low := open
		if close < low {
			low = close
		}
		low -= r.Float64() * open * 0.002
		if low < 0 {
			low = 0
		}
		volume := 1000 + r.Float64()*5000

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Timestamp: start.Add(time.Duration(i) * interval),
		})

		price = close
	}

	m.mu.Lock()
	m.basePx[symbol] = price
	m.mu.Unlock()

	return candles, nil
}

// LatestQuote returns the most recent synthetic price for symbol.
func (m *MockSource) LatestQuote(ctx context.Context, symbol string) (Quote, error) {
	r := m.symbolRand(symbol)

	m.mu.Lock()
	prev := m.basePx[symbol]
	change := (r.Float64() - 0.5) * prev * 0.005
	price := prev + change
	if price < 1.0 {
		price = 1.0
	}
	m.basePx[symbol] = price
	m.mu.Unlock()

	changePct := 0.0
	if prev > 0 {
		changePct = (price - prev) / prev * 100
	}

	return Quote{
		Symbol:    symbol,
		Price:     price,
		ChangePct: changePct,
		Timestamp: time.Now().UTC(),
	}, nil
}

// IsReady always returns true for the mock source.
func (m *MockSource) IsReady() bool {
	return m.ready
}
