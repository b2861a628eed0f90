// Package analyzer composes the swing, structure, and FVG detectors
// into the single per-timeframe read performed on every scan tick.
package analyzer

import (
	"github.com/smc-engine/smcengine/internal/fvg"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/internal/structure"
	"github.com/smc-engine/smcengine/internal/swing"
)

// MinCandles is L0+3, the minimum window required before the analyzer
// stops returning the neutral default (spec.md §4.E).
const MinCandles = swing.BaseLookback + 3

// Params bundles every tunable threshold the B/C/D stages need.
type Params struct {
	Structure structure.Params
	FVG       fvg.Params
}

// DefaultParams mirrors structure.DefaultParams and fvg.DefaultParams.
func DefaultParams() Params {
	return Params{
		Structure: structure.DefaultParams(),
		FVG:       fvg.DefaultParams(),
	}
}

// Analyze runs swing detection (B), the structure state machine (C),
// and FVG tracking (D) in order over candles and returns the resulting
// snapshot for timeframe. Pure function of its inputs; owns no mutable
// state across calls so it is safe to call concurrently for distinct
// symbols (spec.md §4.E).
func Analyze(timeframe string, candles []models.Candle, params Params) (models.StructureSnapshot, error) {
	if len(candles) < MinCandles {
		return models.NeutralSnapshot(timeframe), nil
	}

	swings := swing.Detect(candles)
	lookback := swing.AdaptiveLookback(candles)

	structResult, err := structure.Run(candles, swings, lookback, params.Structure)
	if err != nil {
		return models.StructureSnapshot{}, err
	}

	gaps := fvg.Detect(candles, structResult.Events, params.FVG)
	active := fvg.ActiveFVGs(gaps)

	return models.StructureSnapshot{
		Timeframe:        timeframe,
		CurrentStructure: structResult.Current,
		LastEvent:        structResult.LastEvent,
		ActiveFVGs:       active,
		TrendStrength:    structResult.TrendStrength,
		Confidence:       structResult.Confidence,
	}, nil
}
