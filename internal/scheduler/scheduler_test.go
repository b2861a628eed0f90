package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/aggregate"
	"github.com/smc-engine/smcengine/internal/candle"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/internal/store"
)

type stubSource struct {
	candles map[string][]models.Candle
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubSource) FetchCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]models.Candle, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.candles[timeframe], nil
}

func (s *stubSource) LatestQuote(ctx context.Context, symbol string) (candle.Quote, error) {
	return candle.Quote{}, nil
}

func (s *stubSource) IsReady() bool { return true }

func trendingCandles(n int, base float64) []models.Candle {
	candles := make([]models.Candle, n)
	now := time.Now().UTC()
	price := base
	for i := 0; i < n; i++ {
		candles[i] = models.Candle{
			Symbol:    "TEST",
			Timeframe: "5m",
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    1000,
			Timestamp: now.Add(time.Duration(i) * 5 * time.Minute),
		}
		price += 0.2
	}
	return candles
}

func TestScheduler_TickPublishesSignal(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}
	params.MinMatches = 0

	source := &stubSource{candles: map[string][]models.Candle{"5m": trendingCandles(60, 100)}}
	dest := store.New(120 * time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = time.Hour
	cfg.MaxConcurrentSymbols = 2

	sched := New(cfg, []string{"AAPL"}, source, dest, params, nil)
	sched.tick(context.Background())

	assert.GreaterOrEqual(t, source.calls, 1)
	stats := sched.Stats()
	assert.Equal(t, int64(1), stats.ScanCycles)
	assert.Equal(t, int64(1), stats.SymbolsScanned)
}

func TestScheduler_FailingSymbolRecordsBackoff(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}

	source := &stubSource{err: errors.New("boom")}
	dest := store.New(120 * time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = 10 * time.Second

	sched := New(cfg, []string{"BADSYM"}, source, dest, params, nil)
	sched.tick(context.Background())

	stats := sched.Stats()
	require.Equal(t, int64(1), stats.SymbolErrors)
	assert.True(t, sched.onBackoff("BADSYM"), "a failing symbol should be skipped on its immediate next tick")
}

func TestScheduler_StopDrainsCleanly(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}

	source := &stubSource{candles: map[string][]models.Candle{"5m": trendingCandles(60, 100)}}
	dest := store.New(time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = 50 * time.Millisecond

	sched := New(cfg, []string{"AAPL"}, source, dest, params, nil)
	sched.Start()
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	assert.GreaterOrEqual(t, sched.Stats().ScanCycles, int64(1))
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) OnWrite(ctx context.Context, signal models.InstrumentSignal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func TestScheduler_NotifiesOnPublishedSignal(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}
	params.MinMatches = 0

	source := &stubSource{candles: map[string][]models.Candle{"5m": trendingCandles(60, 100)}}
	dest := store.New(120 * time.Second)
	notifier := &countingNotifier{}

	cfg := DefaultConfig()
	cfg.ScanInterval = time.Hour

	sched := New(cfg, []string{"AAPL"}, source, dest, params, notifier)
	sched.tick(context.Background())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, 1, notifier.count)
}

func TestScheduler_RescanTriggersImmediateTick(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}

	source := &stubSource{candles: map[string][]models.Candle{"5m": trendingCandles(60, 100)}}
	dest := store.New(time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = time.Hour

	sched := New(cfg, []string{"AAPL"}, source, dest, params, nil)
	sched.Start()
	defer sched.Stop()

	time.Sleep(20 * time.Millisecond)
	sched.Rescan(context.Background())
	time.Sleep(20 * time.Millisecond)

	assert.GreaterOrEqual(t, sched.Stats().ScanCycles, int64(2))
}

func TestScheduler_SlowWorkerDiscardedPastSoftDeadline(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}
	params.MinMatches = 0

	source := &stubSource{
		candles: map[string][]models.Candle{"5m": trendingCandles(60, 100)},
		delay:   100 * time.Millisecond,
	}
	dest := store.New(120 * time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = 50 * time.Millisecond // interval minus 1s is not positive, so the soft deadline falls back to the 50ms interval, shorter than the 100ms fetch delay

	sched := New(cfg, []string{"AAPL"}, source, dest, params, nil)
	sched.tick(context.Background())

	_, ok := dest.Get("AAPL")
	assert.False(t, ok, "a worker cancelled by its soft deadline must not publish a partial result")
}

func TestScheduler_FetchCandlesRespectsFiveSecondTimeout(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}

	source := &stubSource{delay: 10 * time.Millisecond}
	dest := store.New(120 * time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = time.Hour

	sched := New(cfg, []string{"AAPL"}, source, dest, params, nil)

	start := time.Now()
	sched.scanSymbol(context.Background(), "AAPL")
	assert.Less(t, time.Since(start), candleFetchTimeout, "fetch should complete well under its 5s timeout")
}

func TestScheduler_NextScanInShrinksAfterTick(t *testing.T) {
	params := aggregate.DefaultParams()
	params.Timeframes = []string{"5m"}

	source := &stubSource{candles: map[string][]models.Candle{"5m": trendingCandles(60, 100)}}
	dest := store.New(time.Second)

	cfg := DefaultConfig()
	cfg.ScanInterval = time.Minute

	sched := New(cfg, []string{"AAPL"}, source, dest, params, nil)
	sched.tick(context.Background())

	next := sched.NextScanIn()
	assert.Greater(t, next, time.Duration(0))
	assert.LessOrEqual(t, next, cfg.ScanInterval)
}
