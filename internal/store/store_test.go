package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/models"
)

func TestStore_PutAndGet(t *testing.T) {
	s := New(120 * time.Second)

	signal := models.InstrumentSignal{
		Symbol:    "AAPL",
		UpdatedAt: time.Now(),
	}
	s.Put(signal)

	got, ok := s.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.False(t, got.Stale)
}

func TestStore_GetMissingSymbol(t *testing.T) {
	s := New(120 * time.Second)
	_, ok := s.Get("MSFT")
	assert.False(t, ok)
}

func TestStore_MarksStale(t *testing.T) {
	s := New(1 * time.Second)

	s.Put(models.InstrumentSignal{
		Symbol:    "TSLA",
		UpdatedAt: time.Now().Add(-10 * time.Second),
	})

	got, ok := s.Get("TSLA")
	require.True(t, ok)
	assert.True(t, got.Stale)
}

func TestStore_ListSubstringSearch(t *testing.T) {
	s := New(120 * time.Second)
	s.Put(models.InstrumentSignal{Symbol: "AAPL", UpdatedAt: time.Now()})
	s.Put(models.InstrumentSignal{Symbol: "MSFT", UpdatedAt: time.Now()})
	s.Put(models.InstrumentSignal{Symbol: "GOOGL", UpdatedAt: time.Now()})

	results := s.List(Filter{Search: "aa"})
	require.Len(t, results, 1)
	assert.Equal(t, "AAPL", results[0].Symbol)
}

func TestStore_ListResolvesIndexAlias(t *testing.T) {
	s := New(120 * time.Second)
	s.Put(models.InstrumentSignal{Symbol: "BANKNIFTY", UpdatedAt: time.Now()})
	s.Put(models.InstrumentSignal{Symbol: "NIFTY", UpdatedAt: time.Now()})

	results := s.List(Filter{Search: "bank nifty"})
	require.Len(t, results, 1)
	assert.Equal(t, "BANKNIFTY", results[0].Symbol)
}

func TestStore_ListFiltersByStructureAndProximity(t *testing.T) {
	s := New(120 * time.Second)
	near := 1.0
	s.Put(models.InstrumentSignal{
		Symbol:           "NEAR",
		UpdatedAt:        time.Now(),
		OverallStructure: models.StructureBullish,
		AvgProximityPct:  0.5,
	})
	s.Put(models.InstrumentSignal{
		Symbol:           "FAR",
		UpdatedAt:        time.Now(),
		OverallStructure: models.StructureBullish,
		AvgProximityPct:  5.0,
	})
	s.Put(models.InstrumentSignal{
		Symbol:           "BEARISH",
		UpdatedAt:        time.Now(),
		OverallStructure: models.StructureBearish,
		AvgProximityPct:  0.5,
	})

	bullish := models.Bullish
	results := s.List(Filter{ProximityMaxPct: &near, Direction: &bullish})
	require.Len(t, results, 1)
	assert.Equal(t, "NEAR", results[0].Symbol)
}

func TestStore_Symbols(t *testing.T) {
	s := New(120 * time.Second)
	s.Put(models.InstrumentSignal{Symbol: "A", UpdatedAt: time.Now()})
	s.Put(models.InstrumentSignal{Symbol: "B", UpdatedAt: time.Now()})

	symbols := s.Symbols()
	assert.ElementsMatch(t, []string{"A", "B"}, symbols)
}
