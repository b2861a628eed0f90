// Package alertgen diffs consecutive InstrumentSignal writes per symbol
// and emits the alerts spec.md §4.I defines, de-duplicated and
// published to the Redis stream the Subscription Bus consumes from.
package alertgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smc-engine/smcengine/internal/metrics"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// Params holds the diff-rule thresholds (spec.md §4.I).
type Params struct {
	FarProximityPct  float64
	NearProximityPct float64
	DedupWindow      time.Duration
}

// DefaultParams returns the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		FarProximityPct:  3,
		NearProximityPct: 2,
		DedupWindow:      time.Minute,
	}
}

// Publisher delivers a generated alert onto the Subscription Bus's
// transport. Implemented by internal/bus's Redis Streams publisher.
type Publisher interface {
	Publish(ctx context.Context, alert models.Alert) error
}

// dedupKey identifies a (symbol, type) pair for the one-minute
// suppression window.
type dedupKey struct {
	Symbol string
	Type   models.AlertType
}

// Generator maintains the previous InstrumentSignal per symbol and
// diffs every new write against it, mirroring
// internal/alert/cooldown.go's CheckAndSetCooldown gate, generalized
// from a single per-rule TTL key to four independent diff rules.
type Generator struct {
	params    Params
	publisher Publisher

	mu   sync.Mutex
	prev map[string]models.InstrumentSignal

	dedupMu sync.Mutex
	dedup   map[dedupKey]time.Time
}

// New creates a Generator publishing through publisher.
func New(params Params, publisher Publisher) *Generator {
	return &Generator{
		params:    params,
		publisher: publisher,
		prev:      make(map[string]models.InstrumentSignal),
		dedup:     make(map[dedupKey]time.Time),
	}
}

// OnWrite is called every time the Signal Store is written for symbol
// with its new signal; it diffs against the last seen signal for that
// symbol and publishes any alerts the diff rules produce.
func (g *Generator) OnWrite(ctx context.Context, signal models.InstrumentSignal) {
	g.mu.Lock()
	previous, hadPrevious := g.prev[signal.Symbol]
	g.prev[signal.Symbol] = signal
	g.mu.Unlock()

	if !hadPrevious {
		return
	}

	for _, alert := range g.diff(previous, signal) {
		if g.suppressed(alert.Symbol, alert.Type) {
			continue
		}
		alert.ID = uuid.NewString()
		alert.EmittedAt = time.Now()
		alert.TraceID = logger.GetTraceID(ctx)
		if err := alert.Validate(); err != nil {
			logger.Warn("alertgen: dropping invalid alert",
				logger.String("symbol", alert.Symbol),
				logger.ErrorField(err),
			)
			continue
		}
		if err := g.publisher.Publish(ctx, alert); err != nil {
			logger.Warn("alertgen: failed to publish alert",
				logger.String("symbol", alert.Symbol),
				logger.String("type", string(alert.Type)),
				logger.ErrorField(err),
			)
			continue
		}
		g.markFired(alert.Symbol, alert.Type)
		metrics.AlertsEmittedTotal.WithLabelValues(string(alert.Type)).Inc()
	}
}

func (g *Generator) diff(prev, curr models.InstrumentSignal) []models.Alert {
	var alerts []models.Alert

	if a, ok := g.bosEntry(prev, curr); ok {
		alerts = append(alerts, a)
	}
	if a, ok := g.bosBreak(prev, curr); ok {
		alerts = append(alerts, a)
	}
	if a, ok := g.trendChange(prev, curr); ok {
		alerts = append(alerts, a)
	}
	alerts = append(alerts, g.fvgMitigated(prev, curr)...)

	return alerts
}

// bosEntry fires when proximity crosses from far to near.
func (g *Generator) bosEntry(prev, curr models.InstrumentSignal) (models.Alert, bool) {
	if prev.AvgProximityPct > g.params.FarProximityPct && curr.AvgProximityPct <= g.params.NearProximityPct {
		return models.Alert{
			Symbol:   curr.Symbol,
			Type:     models.AlertBOSEntry,
			Priority: models.PriorityHigh,
			Message:  fmt.Sprintf("%s entered proximity of a break level (%.2f%%)", curr.Symbol, curr.AvgProximityPct),
		}, true
	}
	return models.Alert{}, false
}

// bosBreak fires when the top-timeframe structure flips to Neutral, or
// the event timestamp advances with a direction flip.
func (g *Generator) bosBreak(prev, curr models.InstrumentSignal) (models.Alert, bool) {
	wentNeutral := prev.OverallStructure != models.StructureNeutral && curr.OverallStructure == models.StructureNeutral
	directionFlipped := structureAdvancedWithFlip(prev, curr)

	if wentNeutral || directionFlipped {
		return models.Alert{
			Symbol:   curr.Symbol,
			Type:     models.AlertBOSBreak,
			Priority: models.PriorityHigh,
			Message:  fmt.Sprintf("%s structure break: %s", curr.Symbol, curr.LatestEventDescr),
		}, true
	}
	return models.Alert{}, false
}

func structureAdvancedWithFlip(prev, curr models.InstrumentSignal) bool {
	prevAt, prevOK := topEventTime(prev)
	currAt, currOK := topEventTime(curr)
	if !prevOK || !currOK || !currAt.After(prevAt) {
		return false
	}
	prevBullish := prev.OverallStructure == models.StructureBullish || prev.OverallStructure == models.StructureBullishCHOCH
	prevBearish := prev.OverallStructure == models.StructureBearish || prev.OverallStructure == models.StructureBearishCHOCH
	currBullish := curr.OverallStructure == models.StructureBullish || curr.OverallStructure == models.StructureBullishCHOCH
	currBearish := curr.OverallStructure == models.StructureBearish || curr.OverallStructure == models.StructureBearishCHOCH

	return (prevBullish && currBearish) || (prevBearish && currBullish)
}

// topEventTime returns the last event's timestamp on the entry
// OverallStructure is taken from (the valid entry with the highest
// confidence), and false if there is none.
func topEventTime(signal models.InstrumentSignal) (time.Time, bool) {
	var top *models.TimeframeEntry
	for i := range signal.TimeframeEntries {
		e := &signal.TimeframeEntries[i]
		if e.HasValidSignal && e.Snapshot.LastEvent != nil && (top == nil || e.Snapshot.Confidence > top.Snapshot.Confidence) {
			top = e
		}
	}
	if top == nil {
		return time.Time{}, false
	}
	return top.Snapshot.LastEvent.Timestamp, true
}

// trendChange fires when overallStructure changed and at least one
// timeframe shows a CHOCH as its last event in the new snapshot.
func (g *Generator) trendChange(prev, curr models.InstrumentSignal) (models.Alert, bool) {
	if prev.OverallStructure == curr.OverallStructure {
		return models.Alert{}, false
	}

	chochSeen := false
	for _, entry := range curr.TimeframeEntries {
		if entry.Snapshot.LastEvent != nil && entry.Snapshot.LastEvent.Kind == models.CHOCH {
			chochSeen = true
			break
		}
	}
	if !chochSeen {
		return models.Alert{}, false
	}

	return models.Alert{
		Symbol:   curr.Symbol,
		Type:     models.AlertTrendChange,
		Priority: models.PriorityMedium,
		Message:  fmt.Sprintf("%s trend changed to %s", curr.Symbol, curr.OverallStructure),
	}, true
}

// fvgMitigated emits one alert per gap that was in a timeframe's active
// set in prev and is absent from that timeframe's active set in curr.
// Gaps are matched by direction and creation time, since each analysis
// run assigns fresh IDs. Any absence counts as mitigation: a gap that
// left the active set through pruning or the five-entry cap is reported
// the same way.
func (g *Generator) fvgMitigated(prev, curr models.InstrumentSignal) []models.Alert {
	gapKey := func(f models.FairValueGap) string {
		return fmt.Sprintf("%d|%d", f.Direction, f.CreatedAt.UnixNano())
	}
	prevByTf := make(map[string]map[string]bool, len(prev.TimeframeEntries))
	for _, entry := range prev.TimeframeEntries {
		ids := make(map[string]bool, len(entry.Snapshot.ActiveFVGs))
		for _, f := range entry.Snapshot.ActiveFVGs {
			ids[gapKey(f)] = true
		}
		prevByTf[entry.Timeframe] = ids
	}

	var alerts []models.Alert
	for _, entry := range curr.TimeframeEntries {
		prevIDs := prevByTf[entry.Timeframe]
		if prevIDs == nil {
			continue
		}
		currIDs := make(map[string]bool, len(entry.Snapshot.ActiveFVGs))
		for _, f := range entry.Snapshot.ActiveFVGs {
			currIDs[gapKey(f)] = true
		}
		for id := range prevIDs {
			if !currIDs[id] {
				alerts = append(alerts, models.Alert{
					Symbol:   curr.Symbol,
					Type:     models.AlertFVGMitigated,
					Priority: models.PriorityMedium,
					Message:  fmt.Sprintf("%s FVG on %s was mitigated", curr.Symbol, entry.Timeframe),
				})
			}
		}
	}
	return alerts
}

func (g *Generator) suppressed(symbol string, alertType models.AlertType) bool {
	key := dedupKey{Symbol: symbol, Type: alertType}

	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	last, fired := g.dedup[key]
	return fired && time.Since(last) < g.params.DedupWindow
}

func (g *Generator) markFired(symbol string, alertType models.AlertType) {
	key := dedupKey{Symbol: symbol, Type: alertType}

	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()
	g.dedup[key] = time.Now()
}
