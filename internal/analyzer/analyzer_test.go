package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/models"
)

func randomWalkCandles(n int, base float64) []models.Candle {
	candles := make([]models.Candle, n)
	now := time.Now().UTC()
	price := base
	for i := 0; i < n; i++ {
		high := price + 0.5
		low := price - 0.5
		candles[i] = models.Candle{
			Symbol:    "TEST",
			Timeframe: "5m",
			Open:      price,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000,
			Timestamp: now.Add(time.Duration(i) * 5 * time.Minute),
		}
		price += 0.1
	}
	return candles
}

func TestAnalyze_TooFewCandlesReturnsNeutral(t *testing.T) {
	candles := randomWalkCandles(MinCandles-1, 100)
	snap, err := Analyze("5m", candles, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, models.NeutralSnapshot("5m"), snap)
}

func TestAnalyze_ComposesAllStages(t *testing.T) {
	candles := randomWalkCandles(60, 100)
	candles[22].High = 130
	candles[22].Low = 129.5
	candles[22].Close = 130
	candles[22].Open = 129.5

	snap, err := Analyze("5m", candles, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "5m", snap.Timeframe)
	assert.GreaterOrEqual(t, snap.TrendStrength, 0.0)
	assert.LessOrEqual(t, snap.TrendStrength, 100.0)
	assert.LessOrEqual(t, len(snap.ActiveFVGs), 5)
}

func TestAnalyze_PropagatesInvalidCandleError(t *testing.T) {
	candles := randomWalkCandles(60, 100)
	candles[40].Low = 9999
	_, err := Analyze("5m", candles, DefaultParams())
	assert.Error(t, err)
}
