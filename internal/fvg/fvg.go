// Package fvg detects three-candle Fair Value Gap imbalances, scores
// them, tracks mitigation, and prunes stale or low-quality entries.
package fvg

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/smc-engine/smcengine/internal/models"
)

// Params holds the tracker's tunable thresholds (spec.md §4.D).
type Params struct {
	MinSizePct  float64
	PruneBars   int
	BarInterval time.Duration
}

// DefaultParams returns the spec's documented defaults for a 5-minute
// timeframe; callers on other timeframes override BarInterval.
func DefaultParams() Params {
	return Params{
		MinSizePct:  0.2,
		PruneBars:   50,
		BarInterval: 5 * time.Minute,
	}
}

// Detect scans candles for three-candle imbalances, applies mitigation
// against every later candle, and prunes stale/low-quality entries.
// Pure: returns a fresh slice, never mutates candles or a prior result.
func Detect(candles []models.Candle, structureEvents []models.StructureEvent, params Params) []models.FairValueGap {
	n := len(candles)
	if n < 3 {
		return nil
	}

	var gaps []models.FairValueGap

	for i := 2; i < n; i++ {
		if gap, ok := newBullishGap(candles, i, params.MinSizePct); ok {
			gaps = append(gaps, gap)
			continue
		}
		if gap, ok := newBearishGap(candles, i, params.MinSizePct); ok {
			gaps = append(gaps, gap)
		}
	}

	applyMitigation(gaps, candles)
	scoreQuality(gaps, candles, structureEvents)

	latest := candles[n-1].Timestamp
	gaps = prune(gaps, latest, params)

	return gaps
}

// ActiveFVGs returns the newest <=5 unmitigated gaps, sorted by
// timestamp descending, per spec.md §4.D.
func ActiveFVGs(gaps []models.FairValueGap) []models.FairValueGap {
	var active []models.FairValueGap
	for _, g := range gaps {
		if !g.Mitigated {
			active = append(active, g)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	if len(active) > 5 {
		active = active[:5]
	}
	return active
}

func newBullishGap(candles []models.Candle, i int, minSizePct float64) (models.FairValueGap, bool) {
	upper := candles[i].Low
	lower := candles[i-2].High
	if lower >= upper {
		return models.FairValueGap{}, false
	}
	sizePct := sizePercent(upper, lower, candles[i-1].Close)
	if sizePct < minSizePct {
		return models.FairValueGap{}, false
	}
	return models.FairValueGap{
		ID:         uuid.NewString(),
		Direction:  models.Bullish,
		UpperBound: upper,
		LowerBound: lower,
		SizePct:    sizePct,
		CreatedAt:  candles[i].Timestamp,
	}, true
}

func newBearishGap(candles []models.Candle, i int, minSizePct float64) (models.FairValueGap, bool) {
	upper := candles[i-2].Low
	lower := candles[i].High
	if lower >= upper {
		return models.FairValueGap{}, false
	}
	sizePct := sizePercent(upper, lower, candles[i-1].Close)
	if sizePct < minSizePct {
		return models.FairValueGap{}, false
	}
	return models.FairValueGap{
		ID:         uuid.NewString(),
		Direction:  models.Bearish,
		UpperBound: upper,
		LowerBound: lower,
		SizePct:    sizePct,
		CreatedAt:  candles[i].Timestamp,
	}, true
}

func sizePercent(upper, lower, referenceClose float64) float64 {
	if referenceClose == 0 {
		return 0
	}
	return (upper - lower) / referenceClose * 100
}

// applyMitigation walks candles after each gap's creation and flips it
// to mitigated the first time price trades back through the gap. Never
// unmitigates (spec.md §8 invariant #4).
func applyMitigation(gaps []models.FairValueGap, candles []models.Candle) {
	for gi := range gaps {
		g := &gaps[gi]
		for _, c := range candles {
			if !c.Timestamp.After(g.CreatedAt) {
				continue
			}
			mitigated := false
			switch g.Direction {
			case models.Bullish:
				mitigated = c.Low <= g.LowerBound
			case models.Bearish:
				mitigated = c.High >= g.UpperBound
			}
			if mitigated {
				ts := c.Timestamp
				g.Mitigated = true
				g.MitigatedAt = &ts
				break
			}
		}
	}
}

// scoreQuality computes each gap's 0-100 quality score from size,
// proximity to a structure break of either direction, and recency.
func scoreQuality(gaps []models.FairValueGap, candles []models.Candle, events []models.StructureEvent) {
	if len(candles) == 0 {
		return
	}
	latestTimestamp := candles[len(candles)-1].Timestamp
	barDelta := barInterval(candles)

	for gi := range gaps {
		g := &gaps[gi]
		score := sizeScore(g.SizePct)

		g.NearStructure = nearStructure(g, events, barDelta)
		if g.NearStructure {
			score += 30
		}

		score += recencyScore(g.CreatedAt, latestTimestamp, barDelta)
		g.QualityScore = score
	}
}

func sizeScore(sizePct float64) float64 {
	switch {
	case sizePct >= 1.0:
		return 40
	case sizePct >= 0.7:
		return 30
	case sizePct >= 0.5:
		return 20
	case sizePct >= 0.3:
		return 10
	default:
		return 0
	}
}

func recencyScore(createdAt, latest time.Time, barDelta time.Duration) float64 {
	if barDelta <= 0 {
		return 0
	}
	barsAgo := latest.Sub(createdAt) / barDelta
	switch {
	case barsAgo <= 5:
		return 30
	case barsAgo <= 10:
		return 20
	case barsAgo <= 20:
		return 10
	default:
		return 0
	}
}

// nearStructure reports whether the gap was created within 3 bars of a
// BOS/CHOCH event on the same timeframe, per spec.md §4.D. Direction is
// not part of the test: a reversal gap immediately after a break still
// counts.
func nearStructure(g *models.FairValueGap, events []models.StructureEvent, barDelta time.Duration) bool {
	if barDelta <= 0 {
		return false
	}
	for _, e := range events {
		delta := g.CreatedAt.Sub(e.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= 3*barDelta {
			return true
		}
	}
	return false
}

// barInterval infers the series' bar spacing from the first two
// candles; falls back to zero if there are fewer than two.
func barInterval(candles []models.Candle) time.Duration {
	if len(candles) < 2 {
		return 0
	}
	return candles[1].Timestamp.Sub(candles[0].Timestamp)
}

// prune drops FVGs older than 50*barInterval or scoring below 20.
func prune(gaps []models.FairValueGap, latest time.Time, params Params) []models.FairValueGap {
	if params.BarInterval <= 0 {
		return nil
	}
	horizon := time.Duration(params.PruneBars) * params.BarInterval
	var kept []models.FairValueGap
	for _, g := range gaps {
		age := latest.Sub(g.CreatedAt)
		if age > horizon {
			continue
		}
		if g.QualityScore < 20 {
			continue
		}
		kept = append(kept, g)
	}
	return kept
}

// Describe renders a short human-readable summary for logging/alerts.
func Describe(g models.FairValueGap) string {
	return fmt.Sprintf("%s FVG [%.2f, %.2f] quality=%.0f", g.Direction, g.LowerBound, g.UpperBound, g.QualityScore)
}
