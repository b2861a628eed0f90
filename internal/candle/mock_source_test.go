package candle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSource_FetchCandles_Deterministic(t *testing.T) {
	s1 := NewMockSource(42)
	s2 := NewMockSource(42)

	c1, err := s1.FetchCandles(context.Background(), "AAPL", "5m", 30)
	require.NoError(t, err)
	c2, err := s2.FetchCandles(context.Background(), "AAPL", "5m", 30)
	require.NoError(t, err)

	require.Equal(t, len(c1), len(c2))
	for i := range c1 {
		assert.Equal(t, c1[i].Open, c2[i].Open)
		assert.Equal(t, c1[i].Close, c2[i].Close)
		assert.True(t, c1[i].Timestamp.Equal(c2[i].Timestamp))
	}
}

func TestMockSource_FetchCandles_OrderedAndValid(t *testing.T) {
	s := NewMockSource(7)
	candles, err := s.FetchCandles(context.Background(), "MSFT", "15m", 50)
	require.NoError(t, err)
	require.Len(t, candles, 50)

	for i, c := range candles {
		require.NoError(t, c.Validate())
		if i > 0 {
			assert.True(t, c.Timestamp.After(candles[i-1].Timestamp))
		}
	}
}

func TestMockSource_FetchCandles_UnknownTimeframe(t *testing.T) {
	s := NewMockSource(1)
	_, err := s.FetchCandles(context.Background(), "AAPL", "3m", 10)
	require.Error(t, err)
}

func TestCachingSource_ZeroTTLRefetchesFromInner(t *testing.T) {
	inner := NewMockSource(99)
	cached := NewCachingSource(inner, 0)

	first, err := cached.FetchCandles(context.Background(), "TSLA", "5m", 20)
	require.NoError(t, err)

	// Zero TTL means every fetch goes to inner, so a second fetch won't
	// equal the first byte-for-byte (the random walk has advanced); both
	// still carry the requested number of candles.
	second, err := cached.FetchCandles(context.Background(), "TSLA", "5m", 20)
	require.NoError(t, err)
	assert.Len(t, second, len(first))
}
