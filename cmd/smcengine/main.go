package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smc-engine/smcengine/internal/aggregate"
	"github.com/smc-engine/smcengine/internal/alertgen"
	"github.com/smc-engine/smcengine/internal/analyzer"
	"github.com/smc-engine/smcengine/internal/api"
	"github.com/smc-engine/smcengine/internal/bus"
	"github.com/smc-engine/smcengine/internal/candle"
	"github.com/smc-engine/smcengine/internal/config"
	"github.com/smc-engine/smcengine/internal/fvg"
	"github.com/smc-engine/smcengine/internal/scheduler"
	"github.com/smc-engine/smcengine/internal/store"
	"github.com/smc-engine/smcengine/internal/structure"
	"github.com/smc-engine/smcengine/internal/wsgateway"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// Exit codes, spec.md §6: 0 normal, 64 config invalid, 69 provider
// authentication required, 70 unexpected internal error.
const (
	exitConfigInvalid = 64
	exitAuthRequired  = 69
	exitInternalError = 70
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitInternalError)
	}
	defer logger.Sync()

	logger.Info("Starting market-structure engine",
		logger.String("environment", cfg.Environment),
		logger.Int("symbols", len(cfg.Symbols)),
		logger.Int("scan_interval_seconds", cfg.ScanIntervalSeconds),
	)

	redisClient, err := bus.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Error("Failed to initialize Redis client", logger.ErrorField(err))
		var authErr *bus.AuthError
		if errors.As(err, &authErr) {
			os.Exit(exitAuthRequired)
		}
		os.Exit(exitInternalError)
	}
	defer redisClient.Close()

	alertBus := bus.New()

	consumer := bus.NewRedisConsumer(redisClient, cfg.Redis.FilteredStreamName, cfg.Redis.ConsumerGroup, "smcengine-"+uuid.NewString(), alertBus)
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go consumer.Run(consumerCtx)

	publisher := bus.NewRedisPublisher(redisClient, cfg.Redis.FilteredStreamName)
	generator := alertgen.New(alertgen.DefaultParams(), publisher)

	candleSource := candle.NewCachingSource(candle.NewMockSource(time.Now().UnixNano()), 30*time.Second)

	signalStore := store.New(cfg.ScanInterval())

	aggregateParams := aggregate.Params{
		Timeframes:           cfg.Timeframes,
		MinMatches:           cfg.MinMatchingTimeframes,
		FarProximitySentinel: 100,
		Analyzer: analyzer.Params{
			Structure: structure.Params{
				BosThresholdPct:         cfg.BOSThresholdPct,
				ChochThresholdPct:       cfg.CHOCHThresholdPct,
				MinStructureDistancePct: cfg.MinStructureDistancePct,
				StructureLockBars:       cfg.StructureLockBars,
			},
			FVG: fvg.Params{
				MinSizePct: cfg.MinFVGSizePct,
				PruneBars:  cfg.FVGPruneBars,
				// BarInterval here only backs tokens
				// aggregate.analyzerParamsFor doesn't recognize;
				// Assemble overrides it for every known timeframe
				// (5m included) before calling the analyzer.
				BarInterval: 5 * time.Minute,
			},
		},
	}

	schedulerCfg := scheduler.Config{
		ScanInterval:         cfg.ScanInterval(),
		MaxConcurrentSymbols: cfg.MaxConcurrentSymbols,
		CandlesPerTimeframe:  200,
	}

	sched := scheduler.New(schedulerCfg, cfg.Symbols, candleSource, signalStore, aggregateParams, generator)
	sched.Start()
	defer sched.Stop()

	hub := wsgateway.NewHub(cfg.API, alertBus)
	if err := hub.Start(); err != nil {
		logger.Error("Failed to start streaming hub", logger.ErrorField(err))
		os.Exit(exitInternalError)
	}
	defer hub.Stop()

	signals := api.NewSignalHandler(signalStore, sched)
	alerts := api.NewAlertHandler(alertBus)
	health := api.NewHealthHandler(candleSource)

	handler := api.Routes(signals, alerts, health, func(w http.ResponseWriter, r *http.Request) {
		handleStream(hub, w, r)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: handler,
	}

	go func() {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start HTTP server", logger.ErrorField(err))
			os.Exit(exitInternalError)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down market-structure engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}
	cancelConsumer()
	alertBus.Close()

	logger.Info("Market-structure engine stopped")
}

// handleStream upgrades the request to a WebSocket and registers it
// with the hub, optionally filtered to a single symbol.
func handleStream(hub *wsgateway.Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", logger.ErrorField(err))
		return
	}

	connectionID := uuid.NewString()
	symbol := r.URL.Query().Get("symbol")
	wsConn := wsgateway.NewConnection(connectionID, conn, symbol)

	hub.Register(wsConn)

	logger.Info("WebSocket connection established",
		logger.String("connection_id", connectionID),
		logger.String("symbol_filter", symbol),
		logger.String("remote_addr", r.RemoteAddr),
	)
}
