// Package strategy contains the decision engines that walk a candle series
// and turn indicator readings into trades.
package strategy

import "github.com/opentradelab/turtle-backtest/internal/types"

// Strategy is one trading rule set. The runner calls OnCandle once per bar
// in chronological order; the strategy pulls whatever indicator and position
// state it needs and issues trades through its execution engine.
//
// Behavioral variants (shorting on or off, pyramiding on or off) are
// configuration of a strategy, not separate implementations.
type Strategy interface {
	// Name identifies the strategy in results and logs.
	Name() string

	// Params returns the effective configuration for the run record.
	Params() map[string]any

	// OnCandle processes the next bar. A returned error aborts the run.
	OnCandle(candle types.Candle) error
}
