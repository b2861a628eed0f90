// Package swing detects local price extremes (swing highs/lows) from a
// candle window using an adaptive lookback driven by recent volatility.
package swing

import (
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"

	"github.com/smc-engine/smcengine/internal/models"
)

// BaseLookback is L0, the default swing lookback before volatility
// adjustment (spec.md §4.B).
const BaseLookback = 20

const (
	atrPeriod        = 14
	meanPricePeriod  = 20
	swingMarginPct   = 0.1
	minLookback      = 5
	maxLookback      = 30
)

// Detect returns swings found in candles, sorted by index ascending.
// Deterministic given the same slice; never mutates candles.
func Detect(candles []models.Candle) []models.SwingPoint {
	n := len(candles)
	if n == 0 {
		return nil
	}

	lookback := AdaptiveLookback(candles)

	var swings []models.SwingPoint
	for i := lookback; i <= n-1-lookback; i++ {
		if i < 0 {
			continue
		}
		if isSwingHigh(candles, i, lookback) {
			swings = append(swings, models.SwingPoint{
				Index:     i,
				Price:     candles[i].High,
				Kind:      models.SwingHigh,
				Timestamp: candles[i].Timestamp,
			})
		}
		if isSwingLow(candles, i, lookback) {
			swings = append(swings, models.SwingPoint{
				Index:     i,
				Price:     candles[i].Low,
				Kind:      models.SwingLow,
				Timestamp: candles[i].Timestamp,
			})
		}
	}

	return swings
}

func isSwingHigh(candles []models.Candle, i, lookback int) bool {
	high := candles[i].High
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i || j < 0 || j >= len(candles) {
			continue
		}
		if high < candles[j].High*(1+swingMarginPct/100) {
			return false
		}
	}
	return true
}

func isSwingLow(candles []models.Candle, i, lookback int) bool {
	low := candles[i].Low
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i || j < 0 || j >= len(candles) {
			continue
		}
		if low > candles[j].Low*(1-swingMarginPct/100) {
			return false
		}
	}
	return true
}

// AdaptiveLookback computes L = clamp(floor(L0 * f(vRatio)), 5, 30)
// where vRatio = ATR(14) / mean((H+L+C)/3 over 20) * 100. Detect uses it
// internally to size its swing-high/low window; callers downstream of
// Detect (internal/structure's Run) use the same L as their starting
// index so they never evaluate candles Detect hasn't had a chance to
// mark swings over yet.
func AdaptiveLookback(candles []models.Candle) int {
	atr, meanPrice := volatilityInputs(candles)
	if meanPrice <= 0 {
		return BaseLookback
	}

	vRatio := atr / meanPrice * 100

	f := 1.0
	switch {
	case vRatio < 1:
		f = 0.5
	case vRatio > 3:
		f = 1.5
	}

	l := int(float64(BaseLookback) * f)
	if l < minLookback {
		l = minLookback
	}
	if l > maxLookback {
		l = maxLookback
	}
	return l
}

// volatilityInputs computes ATR(14) and the mean typical price over the
// last 20 candles via techan, mirroring the way the teacher's
// TechanCalculator feeds bars into a shared techan.TimeSeries and reads
// the indicator back by index.
func volatilityInputs(candles []models.Candle) (atr, meanPrice float64) {
	series := techan.NewTimeSeries()
	for _, c := range candles {
		period := techan.NewTimePeriod(c.Timestamp, time.Minute)
		tc := techan.NewCandle(period)
		tc.OpenPrice = big.NewDecimal(c.Open)
		tc.MaxPrice = big.NewDecimal(c.High)
		tc.MinPrice = big.NewDecimal(c.Low)
		tc.ClosePrice = big.NewDecimal(c.Close)
		tc.Volume = big.NewDecimal(c.Volume)
		series.AddCandle(tc)
	}

	lastIndex := series.LastIndex()
	if lastIndex < 0 {
		return 0, 0
	}

	atrIndicator := techan.NewAverageTrueRangeIndicator(series, atrPeriod)
	atr = atrIndicator.Calculate(lastIndex).Float()

	typicalPrice := techan.NewTypicalPriceIndicator(series)
	meanIndicator := techan.NewSimpleMovingAverage(typicalPrice, meanPricePeriod)
	meanPrice = meanIndicator.Calculate(lastIndex).Float()

	return atr, meanPrice
}
