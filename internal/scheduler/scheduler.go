// Package scheduler runs the periodic scan cycle: one tick per
// scanInterval, fanning out one independent unit of work per symbol
// under a bounded concurrency limit, writing results to the Signal
// Store (spec.md §4.G).
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smc-engine/smcengine/internal/aggregate"
	"github.com/smc-engine/smcengine/internal/candle"
	"github.com/smc-engine/smcengine/internal/metrics"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/internal/store"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// Notifier is fed every signal the scheduler writes to the store, the
// seam the alert generator hangs off of.
type Notifier interface {
	OnWrite(ctx context.Context, signal models.InstrumentSignal)
}

// Config holds the scheduler's tunables.
type Config struct {
	ScanInterval         time.Duration
	MaxConcurrentSymbols int
	CandlesPerTimeframe  int
}

// candleFetchTimeout bounds every individual FetchCandles call.
const candleFetchTimeout = 5 * time.Second

// workerDeadlineMargin is subtracted from ScanInterval to derive a
// symbol worker's soft deadline: it must finish with at least this much
// room before the next tick starts.
const workerDeadlineMargin = time.Second

// DefaultConfig mirrors the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:         120 * time.Second,
		MaxConcurrentSymbols: 8,
		CandlesPerTimeframe:  200,
	}
}

// Stats mirrors the teacher's ScanLoopStats shape, retargeted to the
// scheduler's own counters.
type Stats struct {
	ScanCycles     int64
	SymbolsScanned int64
	SymbolErrors   int64
	SignalsPublished int64
}

// Scheduler periodically fans candle fetch + aggregate + store-write
// work out across the symbol universe under a bounded worker pool.
type Scheduler struct {
	cfg      Config
	source   candle.Source
	store    *store.Store
	params   aggregate.Params
	symbols  []string
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats

	rescan chan context.Context

	lastScanMu sync.RWMutex
	lastScan   time.Time

	backoffMu sync.Mutex
	backoff   map[string]time.Duration
}

// New builds a Scheduler over symbols, pulling candles from source and
// publishing assembled signals into dest. notifier may be nil if no
// alert generation is wired up.
func New(cfg Config, symbols []string, source candle.Source, dest *store.Store, params aggregate.Params, notifier Notifier) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		store:    dest,
		params:   params,
		symbols:  symbols,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
		rescan:   make(chan context.Context, 1),
		backoff:  make(map[string]time.Duration),
	}
}

// Start launches the periodic loop in the background.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the loop and waits for the in-flight tick to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Rescan forces the next tick to run immediately instead of waiting for
// the ticker, per spec.md's POST /rescan. The triggering request's
// correlation id (see pkg/logger.WithTraceID, set by
// internal/api's request-id middleware) is carried over onto the
// scheduler's own lifetime context, so the forced tick's alerts can be
// traced back to the request that asked for it without the tick being
// cancelled once the HTTP response returns.
func (s *Scheduler) Rescan(ctx context.Context) {
	traceID := logger.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	tickCtx := logger.WithTraceID(s.ctx, traceID)

	select {
	case s.rescan <- tickCtx:
	default:
	}
}

// LastScan returns the time the most recently completed tick finished.
func (s *Scheduler) LastScan() time.Time {
	s.lastScanMu.RLock()
	defer s.lastScanMu.RUnlock()
	return s.lastScan
}

// NextScanIn returns the time remaining until the next scheduled tick,
// floored at zero.
func (s *Scheduler) NextScanIn() time.Duration {
	next := s.LastScan().Add(s.cfg.ScanInterval)
	remaining := time.Until(next)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stats returns a copy of the scheduler's running counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		ScanCycles:       atomic.LoadInt64(&s.stats.ScanCycles),
		SymbolsScanned:   atomic.LoadInt64(&s.stats.SymbolsScanned),
		SymbolErrors:     atomic.LoadInt64(&s.stats.SymbolErrors),
		SignalsPublished: atomic.LoadInt64(&s.stats.SignalsPublished),
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.tick(logger.WithTraceID(s.ctx, uuid.NewString()))

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(logger.WithTraceID(s.ctx, uuid.NewString()))
		case tickCtx := <-s.rescan:
			s.tick(tickCtx)
		}
	}
}

// tick fans the symbol universe out across a bounded worker pool. A
// fresh tick is never started concurrently with a prior one still
// running: the ticker itself enforces that, since tick() blocks until
// every unit finishes or the scheduler's context is cancelled — a
// still-running unit is abandoned (not waited on) once the context is
// cancelled, matching spec.md §4.G's "superseded units terminate
// without publishing." Each worker additionally gets its own soft
// deadline of ScanInterval minus one second; a worker still running past
// that point is signalled to stop via its context and its partial
// result is discarded rather than written to the store.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	atomic.AddInt64(&s.stats.ScanCycles, 1)
	metrics.ScanCyclesTotal.Inc()

	workerDeadline := s.cfg.ScanInterval - workerDeadlineMargin
	if workerDeadline <= 0 {
		workerDeadline = s.cfg.ScanInterval
	}

	sem := make(chan struct{}, s.cfg.MaxConcurrentSymbols)
	var wg sync.WaitGroup

	for _, symbol := range s.symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.onBackoff(symbol) {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			workerCtx, cancel := context.WithTimeout(ctx, workerDeadline)
			defer cancel()
			s.scanSymbol(workerCtx, symbol)
		}(symbol)
	}

	wg.Wait()

	s.lastScanMu.Lock()
	s.lastScan = time.Now()
	s.lastScanMu.Unlock()

	metrics.ScanDuration.Observe(time.Since(start).Seconds())
}

func (s *Scheduler) scanSymbol(ctx context.Context, symbol string) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	atomic.AddInt64(&s.stats.SymbolsScanned, 1)

	candlesByTf := make(aggregate.CandlesByTimeframe, len(s.params.Timeframes))
	var currentPrice float64

	for _, tf := range s.params.Timeframes {
		candles, err := s.fetchCandles(ctx, symbol, tf)
		if err != nil {
			s.recordFailure(symbol, err)
			return
		}
		candlesByTf[tf] = candles
		if len(candles) > 0 {
			currentPrice = candles[len(candles)-1].Close
		}
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	signal, ok, err := aggregate.Assemble(symbol, currentPrice, candlesByTf, s.params)
	if err != nil {
		s.recordFailure(symbol, err)
		return
	}
	s.clearBackoff(symbol)

	if !ok {
		return
	}

	signal.UpdatedAt = time.Now()
	s.store.Put(signal)
	atomic.AddInt64(&s.stats.SignalsPublished, 1)
	metrics.SignalsPublishedTotal.Inc()
	metrics.FVGsTracked.WithLabelValues(symbol).Set(float64(signal.TotalFVGs))

	if s.notifier != nil {
		s.notifier.OnWrite(ctx, signal)
	}
}

// fetchCandles wraps a single FetchCandles call in its own 5s deadline,
// independent of the worker's overall soft deadline.
func (s *Scheduler) fetchCandles(ctx context.Context, symbol, timeframe string) ([]models.Candle, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, candleFetchTimeout)
	defer cancel()
	return s.source.FetchCandles(fetchCtx, symbol, timeframe, s.cfg.CandlesPerTimeframe)
}

func (s *Scheduler) recordFailure(symbol string, err error) {
	atomic.AddInt64(&s.stats.SymbolErrors, 1)
	metrics.SymbolErrorsTotal.WithLabelValues(symbol).Inc()
	logger.Warn("scheduler: symbol scan failed, backing off",
		logger.String("symbol", symbol),
		logger.ErrorField(err),
	)

	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()
	next := s.backoff[symbol] * 2
	if next == 0 {
		next = s.cfg.ScanInterval
	}
	// bounded at the tick interval: a symbol never sits out more than one
	// extra cycle regardless of how many consecutive failures it racks up.
	if next > s.cfg.ScanInterval {
		next = s.cfg.ScanInterval
	}
	s.backoff[symbol] = next
}

func (s *Scheduler) clearBackoff(symbol string) {
	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()
	delete(s.backoff, symbol)
}

// onBackoff reports whether symbol should be skipped this tick because
// it is still inside its retry backoff window, decrementing the
// remaining window by one tick period each time it is consulted.
func (s *Scheduler) onBackoff(symbol string) bool {
	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()

	remaining, onBackoff := s.backoff[symbol]
	if !onBackoff || remaining <= 0 {
		return false
	}
	s.backoff[symbol] = remaining - s.cfg.ScanInterval
	return true
}
