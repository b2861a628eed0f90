package swing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/models"
)

func flatCandles(n int, base float64) []models.Candle {
	candles := make([]models.Candle, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		candles[i] = models.Candle{
			Symbol:    "TEST",
			Timeframe: "5m",
			Open:      base,
			High:      base + 0.1,
			Low:       base - 0.1,
			Close:     base,
			Volume:    1000,
			Timestamp: now.Add(time.Duration(i) * 5 * time.Minute),
		}
	}
	return candles
}

func TestDetect_EmptyInput(t *testing.T) {
	assert.Nil(t, Detect(nil))
}

func TestDetect_IsOrderInvariantToAppending(t *testing.T) {
	candles := flatCandles(60, 100)
	candles[30].High = 120
	candles[30].Low = 119

	base := Detect(candles[:55])
	extended := Detect(candles)

	baseKeys := make(map[int]bool)
	for _, s := range base {
		baseKeys[s.Index] = true
	}
	for idx := range baseKeys {
		found := false
		for _, s := range extended {
			if s.Index == idx {
				found = true
				break
			}
		}
		assert.True(t, found, "swing at index %d must survive appending more candles", idx)
	}
}

func TestDetect_FindsObviousSwingHigh(t *testing.T) {
	candles := flatCandles(41, 100)
	candles[20].High = 150
	candles[20].Low = 99.9

	swings := Detect(candles)
	require.NotEmpty(t, swings)

	foundHigh := false
	for _, s := range swings {
		if s.Index == 20 && s.Kind == models.SwingHigh {
			foundHigh = true
			assert.Equal(t, 150.0, s.Price)
		}
	}
	assert.True(t, foundHigh)
}

func TestDetect_SortedByIndexAscending(t *testing.T) {
	candles := flatCandles(81, 100)
	candles[20].High = 140
	candles[20].Low = 99.9
	candles[60].High = 100.1
	candles[60].Low = 60

	swings := Detect(candles)
	for i := 1; i < len(swings); i++ {
		assert.LessOrEqual(t, swings[i-1].Index, swings[i].Index)
	}
}
