package candles

import (
	"sort"
	"time"

	"github.com/opentradelab/turtle-backtest/internal/types"
)

// MemorySource serves candles from an in-memory slice. It holds pre-bucketed
// candles and only answers requests at the interval each candle was stored
// at. Used by tests and small scripted runs.
type MemorySource struct {
	candles []types.Candle
}

// NewMemorySource creates a source over the given candles. The input is
// copied and sorted by time.
func NewMemorySource(candles []types.Candle) *MemorySource {
	sorted := make([]types.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	return &MemorySource{candles: sorted}
}

// Add appends more candles to the source, keeping time order.
func (m *MemorySource) Add(candles ...types.Candle) {
	m.candles = append(m.candles, candles...)
	sort.Slice(m.candles, func(i, j int) bool {
		return m.candles[i].Time.Before(m.candles[j].Time)
	})
}

// GetCandles implements Source.
func (m *MemorySource) GetCandles(pair types.Pair, from, to time.Time, intervalHours int) ([]types.Candle, error) {
	var result []types.Candle

	for _, candle := range m.candles {
		if candle.Pair != pair || candle.IntervalHours != intervalHours {
			continue
		}

		if candle.Time.Before(from) || candle.Time.After(to) {
			continue
		}

		result = append(result, candle)
	}

	return result, nil
}

// Count implements Source.
func (m *MemorySource) Count(pair types.Pair, from, to time.Time, intervalHours int) (int, error) {
	matched, err := m.GetCandles(pair, from, to, intervalHours)
	if err != nil {
		return 0, err
	}

	return len(matched), nil
}

// Close implements Source.
func (m *MemorySource) Close() error {
	return nil
}
