// Package aggregate assembles per-timeframe analyzer snapshots into a
// single cross-timeframe InstrumentSignal per symbol, and ranks a batch
// of instrument signals for publication.
package aggregate

import (
	"sort"

	"github.com/smc-engine/smcengine/internal/analyzer"
	"github.com/smc-engine/smcengine/internal/candle"
	"github.com/smc-engine/smcengine/internal/models"
)

// Timeframes is the fixed set the aggregator evaluates per symbol
// (spec.md §4.F); extendable via Params.Timeframes.
var Timeframes = []string{"5m", "15m", "30m", "1h", "2h", "4h"}

// Params holds the cross-timeframe assembly thresholds.
type Params struct {
	Timeframes        []string
	MinMatches        int
	FarProximitySentinel float64
	Analyzer          analyzer.Params
}

// DefaultParams mirrors the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		Timeframes:           Timeframes,
		MinMatches:           2,
		FarProximitySentinel: 100,
		Analyzer:             analyzer.DefaultParams(),
	}
}

// CandlesByTimeframe supplies the candle window for each timeframe the
// aggregator will analyze for one symbol.
type CandlesByTimeframe map[string][]models.Candle

// Assemble runs the analyzer over every configured timeframe for symbol
// and folds the results into an InstrumentSignal. ok is false if the
// instrument does not meet minMatches and should be excluded from
// publishable output (spec.md §4.F).
func Assemble(symbol string, currentPrice float64, candles CandlesByTimeframe, params Params) (models.InstrumentSignal, bool, error) {
	entries := make([]models.TimeframeEntry, 0, len(params.Timeframes))

	for _, tf := range params.Timeframes {
		snapshot, err := analyzer.Analyze(tf, candles[tf], analyzerParamsFor(tf, params.Analyzer))
		if err != nil {
			return models.InstrumentSignal{}, false, err
		}

		proximityPct := params.FarProximitySentinel
		if snapshot.LastEvent != nil && currentPrice != 0 {
			proximityPct = absPct(currentPrice-snapshot.LastEvent.BreakPrice, currentPrice)
		}

		hasValidSignal := snapshot.CurrentStructure != models.StructureNeutral &&
			snapshot.LastEvent != nil &&
			snapshot.Confidence > 50

		entries = append(entries, models.TimeframeEntry{
			Timeframe:      tf,
			Snapshot:       snapshot,
			HasValidSignal: hasValidSignal,
			ProximityPct:   proximityPct,
		})
	}

	matching := matchingTimeframes(entries)
	if matching < params.MinMatches {
		return models.InstrumentSignal{}, false, nil
	}

	signal := models.InstrumentSignal{
		Symbol:             symbol,
		CurrentPrice:       currentPrice,
		TimeframeEntries:   entries,
		MatchingTimeframes: matching,
		TotalFVGs:          totalFVGs(entries),
	}
	signal.OverallStructure, signal.LatestEventDescr = overallStructure(entries)
	signal.MeanConfidence = meanConfidence(entries)
	signal.AvgProximityPct = meanProximity(entries)

	return signal, true, nil
}

// analyzerParamsFor copies base and overrides its FVG.BarInterval to tf's
// actual bar spacing, so the FVG pruning horizon (50*BarInterval,
// internal/fvg's prune) is computed per timeframe instead of every
// timeframe inheriting whatever single interval the caller configured
// for the fastest one. Unrecognized tokens fall back to base's interval
// unchanged.
func analyzerParamsFor(tf string, base analyzer.Params) analyzer.Params {
	if interval, ok := candle.TimeframeInterval(tf); ok {
		base.FVG.BarInterval = interval
	}
	return base
}

func matchingTimeframes(entries []models.TimeframeEntry) int {
	count := 0
	for _, e := range entries {
		if e.HasValidSignal {
			count++
		}
	}
	return count
}

func totalFVGs(entries []models.TimeframeEntry) int {
	total := 0
	for _, e := range entries {
		total += len(e.Snapshot.ActiveFVGs)
	}
	return total
}

// overallStructure takes the current structure of the valid entry with
// the highest confidence (spec.md §4.F: "Rank timeframe entries by
// confidence descending; overallStructure is taken from the top.").
func overallStructure(entries []models.TimeframeEntry) (models.CurrentStructure, string) {
	var top *models.TimeframeEntry
	for i := range entries {
		e := &entries[i]
		if !e.HasValidSignal {
			continue
		}
		if top == nil || e.Snapshot.Confidence > top.Snapshot.Confidence {
			top = e
		}
	}
	if top == nil {
		return models.StructureNeutral, ""
	}
	descr := ""
	if top.Snapshot.LastEvent != nil {
		descr = top.Snapshot.LastEvent.Describe()
	}
	return top.Snapshot.CurrentStructure, descr
}

func meanConfidence(entries []models.TimeframeEntry) float64 {
	sum, n := 0.0, 0
	for _, e := range entries {
		if !e.HasValidSignal {
			continue
		}
		sum += e.Snapshot.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanProximity(entries []models.TimeframeEntry) float64 {
	sum, n := 0.0, 0
	for _, e := range entries {
		if !e.HasValidSignal {
			continue
		}
		sum += e.ProximityPct
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func absPct(delta, base float64) float64 {
	if delta < 0 {
		delta = -delta
	}
	return delta / base * 100
}

// SortBatch orders signals by matchingTimeframes desc, then
// meanConfidence desc (spec.md §4.F).
func SortBatch(signals []models.InstrumentSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].MatchingTimeframes != signals[j].MatchingTimeframes {
			return signals[i].MatchingTimeframes > signals[j].MatchingTimeframes
		}
		return signals[i].MeanConfidence > signals[j].MeanConfidence
	})
}
