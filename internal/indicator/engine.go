// Package indicator computes rolling technical measures over an ordered
// candle series. The engine keeps a cursor into the series being walked and
// transparently fetches older history from the candle source when a window
// reaches further back than the loaded buffer.
package indicator

import (
	"time"

	"go.uber.org/zap"

	"github.com/opentradelab/turtle-backtest/internal/candles"
	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/types"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// Engine exposes rolling-window statistics over a candle series.
//
// Windows are exclusive of the cursor candle: a request of length N at
// cursor i covers the N candles immediately before bar i. The decision made
// on a bar therefore only sees completed history, never the bar itself.
//
// When a window needs more bars than the buffer holds, the engine prepends
// exactly the shortfall from the source and grows an accumulated offset so
// the same horizon never re-triggers a fetch. The offset only grows, keeping
// already-computed values for visited bars stable.
type Engine struct {
	source candles.Source
	logger *logger.Logger

	pair          types.Pair
	intervalHours int

	candles []types.Candle
	cursor  int
	offset  int
}

// NewEngine creates an engine over the series a run will walk. The series is
// the engine's working buffer; backfilled history is prepended to it.
func NewEngine(source candles.Source, logger *logger.Logger, pair types.Pair, intervalHours int, series []types.Candle) *Engine {
	buffer := make([]types.Candle, len(series))
	copy(buffer, series)

	return &Engine{
		source:        source,
		logger:        logger,
		pair:          pair,
		intervalHours: intervalHours,
		candles:       buffer,
	}
}

// Seek positions the cursor at index i of the walked series. The effective
// buffer index is i plus the accumulated backfill offset.
func (e *Engine) Seek(i int) {
	e.cursor = i
}

// Offset returns the accumulated backfill offset.
func (e *Engine) Offset() int {
	return e.offset
}

// Highest returns the maximum close over the last length candles before the
// cursor.
func (e *Engine) Highest(length int) (float64, error) {
	window, err := e.window(length)
	if err != nil {
		return 0, err
	}

	highest := window[0].Close
	for _, candle := range window[1:] {
		if candle.Close > highest {
			highest = candle.Close
		}
	}

	return highest, nil
}

// Lowest returns the minimum close over the last length candles before the
// cursor.
func (e *Engine) Lowest(length int) (float64, error) {
	window, err := e.window(length)
	if err != nil {
		return 0, err
	}

	lowest := window[0].Close
	for _, candle := range window[1:] {
		if candle.Close < lowest {
			lowest = candle.Close
		}
	}

	return lowest, nil
}

// TR returns the True Range of the most recent candle in a window of the
// given length.
func (e *Engine) TR(length int) (float64, error) {
	window, err := e.window(length)
	if err != nil {
		return 0, err
	}

	last := len(window) - 1
	if last == 0 {
		// No previous close available, fall back to the bar's own range
		return window[0].High - window[0].Low, nil
	}

	return trueRange(window[last], window[last-1].Close), nil
}

// ATR returns the Average True Range over length bars. One extra bar is
// pulled because True Range needs the previous close, and the value is the
// plain mean of the length true ranges. That matches Wilder's initialization
// step; the recursive smoothing that follows it in Wilder's scheme is not
// applied, so successive calls stay independent of each other.
func (e *Engine) ATR(length int) (float64, error) {
	window, err := e.window(length + 1)
	if err != nil {
		return 0, err
	}

	sum := 0.0
	for i := 1; i < len(window); i++ {
		sum += trueRange(window[i], window[i-1].Close)
	}

	return sum / float64(length), nil
}

// window returns the length candles immediately before the cursor,
// backfilling older history when the buffer is too short.
func (e *Engine) window(length int) ([]types.Candle, error) {
	if length < 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidLength, "window length must be positive, got %d", length)
	}

	index := e.cursor + e.offset
	if index < length {
		if err := e.backfill(length - index); err != nil {
			return nil, err
		}

		index = e.cursor + e.offset
	}

	return e.candles[index-length : index], nil
}

// backfill prepends exactly shortfall candles fetched from immediately
// before the earliest buffered candle.
func (e *Engine) backfill(shortfall int) error {
	if len(e.candles) == 0 {
		return errors.Wrap(errors.ErrCodeInsufficientHistory, "cannot backfill an empty series",
			errors.NewInsufficientHistoryErrorf(shortfall, shortfall, e.pair.String(), "no candles loaded for %s", e.pair))
	}

	interval := time.Duration(e.intervalHours) * time.Hour
	first := e.candles[0].Time
	from := first.Add(-time.Duration(shortfall) * interval)
	to := first.Add(-interval)

	e.logger.Debug("Backfilling candle history",
		zap.String("pair", e.pair.String()),
		zap.Int("shortfall", shortfall),
		zap.Time("from", from),
		zap.Time("to", to),
	)

	fetched, err := e.source.GetCandles(e.pair, from, to, e.intervalHours)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "backfill fetch failed", err)
	}

	if len(fetched) < shortfall {
		missing := shortfall - len(fetched)

		return errors.Wrap(errors.ErrCodeInsufficientHistory, "not enough history before series start",
			errors.NewInsufficientHistoryErrorf(shortfall, missing, e.pair.String(),
				"needed %d older candles for %s before %s, source had %d", shortfall, e.pair, first, len(fetched)))
	}

	e.candles = append(fetched[:shortfall:shortfall], e.candles...)
	e.offset += shortfall

	return nil
}

func trueRange(candle types.Candle, prevClose float64) float64 {
	tr := candle.High - candle.Low

	if hc := abs(candle.High - prevClose); hc > tr {
		tr = hc
	}

	if lc := abs(candle.Low - prevClose); lc > tr {
		tr = lc
	}

	return tr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
