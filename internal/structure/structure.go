// Package structure implements the Break-of-Structure / Change-of-
// Character state machine: given a candle window and its swing points,
// it derives the current structural interpretation with noise
// thresholds, minimum-distance, and lock-bar hysteresis.
package structure

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// ErrInvertedOHLC is raised when a candle fails the OHLC invariant;
// the caller aborts the current tick for that symbol.
var ErrInvertedOHLC = errors.New("structure: inverted OHLC candle")

// Params holds the state machine's tunable thresholds (spec.md §4.C).
type Params struct {
	BosThresholdPct         float64
	ChochThresholdPct       float64
	MinStructureDistancePct float64
	StructureLockBars       int
}

// DefaultParams returns the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		BosThresholdPct:         0.3,
		ChochThresholdPct:       0.5,
		MinStructureDistancePct: 1.0,
		StructureLockBars:       5,
	}
}

// Result is the structural read-out of one Run over a candle window.
type Result struct {
	Events        []models.StructureEvent
	Current       models.CurrentStructure
	LastEvent     *models.StructureEvent
	Confidence    float64
	TrendStrength float64
}

// Run walks candles in order, applying swings as reference levels, and
// returns every BOS/CHOCH emitted plus the resulting current structure,
// confidence and trend strength. Pure: no state survives past the call.
func Run(candles []models.Candle, swings []models.SwingPoint, lookback int, params Params) (Result, error) {
	if len(candles) == 0 {
		return Result{Current: models.StructureNeutral}, nil
	}

	sortedSwings := make([]models.SwingPoint, len(swings))
	copy(sortedSwings, swings)
	sort.Slice(sortedSwings, func(i, j int) bool { return sortedSwings[i].Index < sortedSwings[j].Index })

	var events []models.StructureEvent
	lockUntil := 0

	var lastBullishBOS, lastBearishBOS *models.StructureEvent
	bearishActive := false
	bullishActive := false

	start := lookback
	if start < 1 {
		start = 1
	}

	lastTimestamp := candles[start-1].Timestamp

	for i := start; i < len(candles); i++ {
		c := candles[i]

		if err := c.Validate(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvertedOHLC, err)
		}

		if i > 0 && !c.Timestamp.After(lastTimestamp) {
			logger.Warn("structure: dropping candle with non-monotonic timestamp",
				logger.String("symbol", c.Symbol),
				logger.Time("timestamp", c.Timestamp),
			)
			continue
		}
		lastTimestamp = c.Timestamp

		if i < lockUntil {
			continue
		}

		lastHigh := latestSwingBefore(sortedSwings, i, models.SwingHigh)
		lastLow := latestSwingBefore(sortedSwings, i, models.SwingLow)

		var chochEvent, bosEvent *models.StructureEvent

		if bearishActive && lastHigh != nil {
			threshold := lastHigh.Price * (1 + params.ChochThresholdPct/100)
			if c.Close > threshold && farEnough(c.Close, lastBearishBOS, params.MinStructureDistancePct, lastHigh.Price) {
				ev := newEvent(models.CHOCH, models.Bullish, c.Close, lastHigh.Price, c.Timestamp)
				chochEvent = &ev
			}
		}
		if bullishActive && lastLow != nil {
			threshold := lastLow.Price * (1 - params.ChochThresholdPct/100)
			if c.Close < threshold && farEnough(c.Close, lastBullishBOS, params.MinStructureDistancePct, lastLow.Price) {
				ev := newEvent(models.CHOCH, models.Bearish, c.Close, lastLow.Price, c.Timestamp)
				chochEvent = &ev
			}
		}

		if chochEvent == nil {
			if lastHigh != nil {
				threshold := lastHigh.Price * (1 + params.BosThresholdPct/100)
				if c.Close > threshold && farEnough(c.Close, lastBearishBOS, params.MinStructureDistancePct, lastHigh.Price) {
					ev := newEvent(models.BOS, models.Bullish, c.Close, lastHigh.Price, c.Timestamp)
					bosEvent = &ev
				}
			}
			if bosEvent == nil && lastLow != nil {
				threshold := lastLow.Price * (1 - params.BosThresholdPct/100)
				if c.Close < threshold && farEnough(c.Close, lastBullishBOS, params.MinStructureDistancePct, lastLow.Price) {
					ev := newEvent(models.BOS, models.Bearish, c.Close, lastLow.Price, c.Timestamp)
					bosEvent = &ev
				}
			}
		}

		// CHOCH takes precedence over BOS in the same candle (spec.md §4.C.5).
		switch {
		case chochEvent != nil:
			events = append(events, *chochEvent)
			lockUntil = i + params.StructureLockBars
			if chochEvent.Direction == models.Bullish {
				bearishActive = false
				bullishActive = true
				lastBullishBOS = chochEvent
			} else {
				bullishActive = false
				bearishActive = true
				lastBearishBOS = chochEvent
			}
		case bosEvent != nil:
			events = append(events, *bosEvent)
			lockUntil = i + params.StructureLockBars
			if bosEvent.Direction == models.Bullish {
				bullishActive = true
				lastBullishBOS = bosEvent
			} else {
				bearishActive = true
				lastBearishBOS = bosEvent
			}
		}
	}

	result := Result{Events: events}
	result.Current, result.LastEvent = currentStructure(events)
	result.Confidence = confidence(events)
	result.TrendStrength = trendStrength(candles)

	return result, nil
}

// newEvent builds a StructureEvent, deriving significance from the
// invariant significance = Major ⇔ |breakPrice − brokenLevel| / brokenLevel ≥ 1%.
func newEvent(kind models.StructureKind, direction models.Direction, breakPrice, brokenLevel float64, ts time.Time) models.StructureEvent {
	significance := models.Minor
	if brokenLevel != 0 {
		delta := breakPrice - brokenLevel
		if delta < 0 {
			delta = -delta
		}
		if delta/brokenLevel >= 0.01 {
			significance = models.Major
		}
	}
	return models.StructureEvent{
		Kind:         kind,
		Direction:    direction,
		BreakPrice:   breakPrice,
		BrokenLevel:  brokenLevel,
		Timestamp:    ts,
		Significance: significance,
	}
}

// latestSwingBefore returns the most recent swing of kind with index < i,
// or nil if none exists.
func latestSwingBefore(swings []models.SwingPoint, i int, kind models.SwingKind) *models.SwingPoint {
	var latest *models.SwingPoint
	for idx := range swings {
		s := swings[idx]
		if s.Kind != kind || s.Index >= i {
			continue
		}
		if latest == nil || s.Index > latest.Index {
			latest = &swings[idx]
		}
	}
	return latest
}

// farEnough checks the minimum-structure-distance rule: the new break
// must be far enough from any prior opposite-direction BOS.
func farEnough(breakPrice float64, oppositeBOS *models.StructureEvent, minDistancePct, referencePrice float64) bool {
	if oppositeBOS == nil {
		return true
	}
	distance := breakPrice - oppositeBOS.BreakPrice
	if distance < 0 {
		distance = -distance
	}
	return distance > referencePrice*minDistancePct/100
}

// currentStructure derives CurrentStructure from the most recent event.
func currentStructure(events []models.StructureEvent) (models.CurrentStructure, *models.StructureEvent) {
	if len(events) == 0 {
		return models.StructureNeutral, nil
	}
	last := events[len(events)-1]
	switch {
	case last.Kind == models.BOS && last.Direction == models.Bullish:
		return models.StructureBullish, &last
	case last.Kind == models.BOS && last.Direction == models.Bearish:
		return models.StructureBearish, &last
	case last.Kind == models.CHOCH && last.Direction == models.Bullish:
		return models.StructureBullishCHOCH, &last
	default:
		return models.StructureBearishCHOCH, &last
	}
}

// confidence = clamp(50 + 10*|last5Events| + 15*majorCount +
// 20*(sameDirectionCount/last5Count), 0, 100).
func confidence(events []models.StructureEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	last5 := events
	if len(last5) > 5 {
		last5 = last5[len(last5)-5:]
	}

	lastDirection := last5[len(last5)-1].Direction
	majorCount := 0
	sameDirectionCount := 0
	for _, e := range last5 {
		if e.Significance == models.Major {
			majorCount++
		}
		if e.Direction == lastDirection {
			sameDirectionCount++
		}
	}

	score := 50.0 + 10.0*float64(len(last5)) + 15.0*float64(majorCount) +
		20.0*(float64(sameDirectionCount)/float64(len(last5)))

	return clamp(score, 0, 100)
}

// trendStrength over the last 20 candles = clamp(bullishCandlePct +
// 5*(avgCandleBodySize/lastClose*100), 0, 100).
func trendStrength(candles []models.Candle) float64 {
	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	if len(window) == 0 {
		return 0
	}

	bullish := 0
	var bodySum float64
	for _, c := range window {
		if c.Close > c.Open {
			bullish++
		}
		body := c.Close - c.Open
		if body < 0 {
			body = -body
		}
		bodySum += body
	}

	bullishPct := float64(bullish) / float64(len(window)) * 100
	avgBody := bodySum / float64(len(window))

	lastClose := window[len(window)-1].Close
	if lastClose == 0 {
		return clamp(bullishPct, 0, 100)
	}

	score := bullishPct + 5*(avgBody/lastClose*100)
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
