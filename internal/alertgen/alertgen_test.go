package alertgen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/pkg/logger"
)

type capturingPublisher struct {
	alerts []models.Alert
	err    error
}

func (p *capturingPublisher) Publish(ctx context.Context, alert models.Alert) error {
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, alert)
	return nil
}

func TestGenerator_FirstWriteNeverAlerts(t *testing.T) {
	pub := &capturingPublisher{}
	g := New(DefaultParams(), pub)

	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", UpdatedAt: time.Now()})
	assert.Empty(t, pub.alerts)
}

func TestGenerator_BOSEntryOnProximityCross(t *testing.T) {
	pub := &capturingPublisher{}
	g := New(DefaultParams(), pub)

	now := time.Now()
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol: "AAPL", AvgProximityPct: 5, UpdatedAt: now,
	})
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol: "AAPL", AvgProximityPct: 1, UpdatedAt: now.Add(time.Minute),
	})

	require.Len(t, pub.alerts, 1)
	assert.Equal(t, models.AlertBOSEntry, pub.alerts[0].Type)
	assert.Equal(t, models.PriorityHigh, pub.alerts[0].Priority)
}

func TestGenerator_CarriesTraceIDFromContext(t *testing.T) {
	pub := &capturingPublisher{}
	g := New(DefaultParams(), pub)

	ctx := logger.WithTraceID(context.Background(), "req-123")
	now := time.Now()
	g.OnWrite(ctx, models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 5, UpdatedAt: now})
	g.OnWrite(ctx, models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 1, UpdatedAt: now.Add(time.Minute)})

	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "req-123", pub.alerts[0].TraceID)
}

func TestGenerator_DedupSuppressesWithinWindow(t *testing.T) {
	pub := &capturingPublisher{}
	params := DefaultParams()
	params.DedupWindow = time.Hour
	g := New(params, pub)

	now := time.Now()
	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 5, UpdatedAt: now})
	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 1, UpdatedAt: now.Add(time.Minute)})
	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 5, UpdatedAt: now.Add(2 * time.Minute)})
	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 1, UpdatedAt: now.Add(3 * time.Minute)})

	assert.Len(t, pub.alerts, 1, "second BOS_ENTRY within the dedup window must be suppressed")
}

func TestGenerator_BOSBreakOnNeutralTransition(t *testing.T) {
	pub := &capturingPublisher{}
	g := New(DefaultParams(), pub)

	now := time.Now()
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol: "AAPL", OverallStructure: models.StructureBullish, UpdatedAt: now,
	})
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol: "AAPL", OverallStructure: models.StructureNeutral, UpdatedAt: now.Add(time.Minute),
	})

	require.Len(t, pub.alerts, 1)
	assert.Equal(t, models.AlertBOSBreak, pub.alerts[0].Type)
}

func TestGenerator_TrendChangeRequiresCHOCH(t *testing.T) {
	pub := &capturingPublisher{}
	g := New(DefaultParams(), pub)

	now := time.Now()
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol: "AAPL", OverallStructure: models.StructureBullish, UpdatedAt: now,
	})
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol:           "AAPL",
		OverallStructure: models.StructureBearishCHOCH,
		UpdatedAt:        now.Add(time.Minute),
		TimeframeEntries: []models.TimeframeEntry{
			{
				Timeframe: "5m",
				Snapshot: models.StructureSnapshot{
					LastEvent: &models.StructureEvent{Kind: models.CHOCH, Direction: models.Bearish},
				},
			},
		},
	})

	require.Len(t, pub.alerts, 1)
	assert.Equal(t, models.AlertTrendChange, pub.alerts[0].Type)
}

func TestGenerator_FVGMitigatedWhenGapDisappears(t *testing.T) {
	pub := &capturingPublisher{}
	g := New(DefaultParams(), pub)

	now := time.Now()
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol: "AAPL",
		UpdatedAt: now,
		TimeframeEntries: []models.TimeframeEntry{
			{
				Timeframe: "5m",
				Snapshot: models.StructureSnapshot{
					ActiveFVGs: []models.FairValueGap{{ID: "gap-1"}},
				},
			},
		},
	})
	g.OnWrite(context.Background(), models.InstrumentSignal{
		Symbol:    "AAPL",
		UpdatedAt: now.Add(time.Minute),
		TimeframeEntries: []models.TimeframeEntry{
			{
				Timeframe: "5m",
				Snapshot:  models.StructureSnapshot{ActiveFVGs: nil},
			},
		},
	})

	require.Len(t, pub.alerts, 1)
	assert.Equal(t, models.AlertFVGMitigated, pub.alerts[0].Type)
}

func TestGenerator_PublishErrorDoesNotMarkFired(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("publish failed")}
	g := New(DefaultParams(), pub)

	now := time.Now()
	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 5, UpdatedAt: now})
	g.OnWrite(context.Background(), models.InstrumentSignal{Symbol: "AAPL", AvgProximityPct: 1, UpdatedAt: now.Add(time.Minute)})

	assert.False(t, g.suppressed("AAPL", models.AlertBOSEntry))
}
