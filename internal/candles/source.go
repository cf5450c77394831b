// Package candles provides read access to historical OHLCV data. The trading
// core only sees the Source interface; where the candles physically live is
// an implementation detail of the source.
package candles

import (
	"time"

	"github.com/opentradelab/turtle-backtest/internal/types"
)

// Source serves candle series for a pair at a requested interval. Returned
// series are ordered by time ascending with no duplicate timestamps, and the
// range is inclusive on both ends.
type Source interface {
	// GetCandles returns all candles for the pair between from and to,
	// aggregated into buckets of intervalHours.
	GetCandles(pair types.Pair, from, to time.Time, intervalHours int) ([]types.Candle, error)

	// Count returns the number of candles GetCandles would return for the
	// same arguments without materializing them.
	Count(pair types.Pair, from, to time.Time, intervalHours int) (int, error)

	// Close releases the underlying storage.
	Close() error
}
