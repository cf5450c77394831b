package strategy

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/opentradelab/turtle-backtest/internal/account"
	"github.com/opentradelab/turtle-backtest/internal/indicator"
	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/trader"
	"github.com/opentradelab/turtle-backtest/internal/types"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// TurtleConfig configures the turtle breakout system.
type TurtleConfig struct {
	// EntryBreakoutLength is the lookback for the entry channel. The
	// classic systems used 20 or 55 bars.
	EntryBreakoutLength int `yaml:"entry_breakout_length" json:"entry_breakout_length" validate:"required,gt=0"`
	// ExitBreakoutLength is the lookback for the exit channel, 10 or 20
	// in the classic systems.
	ExitBreakoutLength int `yaml:"exit_breakout_length" json:"exit_breakout_length" validate:"required,gt=0"`
	// ATRLength is the volatility lookback.
	ATRLength int `yaml:"atr_length" json:"atr_length" validate:"required,gt=0"`
	// StopLossMultiplier is how many ATRs below (above for shorts) the
	// close the protective stop sits.
	StopLossMultiplier float64 `yaml:"stop_loss_multiplier" json:"stop_loss_multiplier" validate:"required,gt=0"`
	// PyramidMultiplier is how many ATRs the price must advance past the
	// last entry before another unit is added.
	PyramidMultiplier float64 `yaml:"pyramid_multiplier" json:"pyramid_multiplier" validate:"required,gt=0"`
	// MaxUnitsPerMarket caps the entry orders open in one market.
	MaxUnitsPerMarket int `yaml:"max_units_per_market" json:"max_units_per_market" validate:"required,gt=0"`
	// RiskFraction is the share of the account balance risked per unit.
	RiskFraction float64 `yaml:"risk_fraction" json:"risk_fraction" validate:"required,gt=0,lte=1"`
	// EnableShorting allows short entries.
	EnableShorting bool `yaml:"enable_shorting" json:"enable_shorting"`
	// EnablePyramiding allows adding units to a winning position.
	EnablePyramiding bool `yaml:"enable_pyramiding" json:"enable_pyramiding"`
}

// DefaultTurtleConfig returns the classic fast-system parameters.
func DefaultTurtleConfig() TurtleConfig {
	return TurtleConfig{
		EntryBreakoutLength: 20,
		ExitBreakoutLength:  10,
		ATRLength:           20,
		StopLossMultiplier:  2.0,
		PyramidMultiplier:   0.5,
		MaxUnitsPerMarket:   4,
		RiskFraction:        0.01,
		EnableShorting:      true,
		EnablePyramiding:    true,
	}
}

// Validate checks the configuration before a run starts.
func (c TurtleConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid turtle configuration", err)
	}

	// An exit channel at least as long as the entry channel can never
	// signal before the position is underwater on the entry channel
	if c.ExitBreakoutLength >= c.EntryBreakoutLength {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"exit breakout length %d must be shorter than entry breakout length %d",
			c.ExitBreakoutLength, c.EntryBreakoutLength)
	}

	return nil
}

// Turtle implements the turtle trend-following system: enter on a channel
// breakout, pyramid into the trend, exit on the opposite channel or an ATR
// stop.
//
// Based on the original turtle rules, http://www.metastocktools.com/downloads/turtlerules.pdf
type Turtle struct {
	pair       types.Pair
	config     TurtleConfig
	indicators *indicator.Engine
	trader     trader.Trader
	account    *account.Account
	logger     *logger.Logger

	// unitSize is recomputed every bar from the ATR and account balance.
	unitSize float64
}

// NewTurtle creates a turtle strategy. The configuration must already be
// validated.
func NewTurtle(pair types.Pair, config TurtleConfig, indicators *indicator.Engine, trader trader.Trader, account *account.Account, logger *logger.Logger) *Turtle {
	return &Turtle{
		pair:       pair,
		config:     config,
		indicators: indicators,
		trader:     trader,
		account:    account,
		logger:     logger,
	}
}

// Name implements Strategy.
func (t *Turtle) Name() string {
	return "turtle"
}

// Params implements Strategy.
func (t *Turtle) Params() map[string]any {
	return map[string]any{
		"entry_breakout_length": t.config.EntryBreakoutLength,
		"exit_breakout_length":  t.config.ExitBreakoutLength,
		"atr_length":            t.config.ATRLength,
		"stop_loss_multiplier":  t.config.StopLossMultiplier,
		"pyramid_multiplier":    t.config.PyramidMultiplier,
		"max_units_per_market":  t.config.MaxUnitsPerMarket,
		"risk_fraction":         t.config.RiskFraction,
		"enable_shorting":       t.config.EnableShorting,
		"enable_pyramiding":     t.config.EnablePyramiding,
	}
}

// OnCandle implements Strategy. Order of operations matters: stops are
// checked before exits and exits before entries, so a position closed on
// this bar cannot be re-entered on the same bar.
func (t *Turtle) OnCandle(candle types.Candle) error {
	atr, err := t.indicators.ATR(t.config.ATRLength)
	if err != nil {
		return err
	}

	// N/close converts volatility from currency into fraction-of-price,
	// so unit size is the currency amount that risks RiskFraction of the
	// balance on one ATR move
	if atr > 0 {
		t.unitSize = t.config.RiskFraction * t.account.Balance() / (atr / candle.Close)
	} else {
		t.unitSize = 0
	}

	lastLong := t.trader.GetLastOpenOrderForPosition(t.pair, types.PositionTypeLong)
	lastShort := t.trader.GetLastOpenOrderForPosition(t.pair, types.PositionTypeShort)

	lastLong, lastShort, err = t.checkStops(candle, lastLong, lastShort)
	if err != nil {
		return err
	}

	lastLong, lastShort, err = t.checkExits(candle, lastLong, lastShort)
	if err != nil {
		return err
	}

	if err := t.checkLongSide(candle, atr, lastLong); err != nil {
		return err
	}

	return t.checkShortSide(candle, atr, lastShort)
}

// checkStops fills protective stops whose trigger the close has crossed.
func (t *Turtle) checkStops(candle types.Candle, lastLong, lastShort optional.Option[types.Order]) (optional.Option[types.Order], optional.Option[types.Order], error) {
	stops := t.trader.GetOpenStops(t.pair)

	if stops.Long.IsSome() && stops.Long.Unwrap().Price >= candle.Close {
		if _, err := t.trader.FillOrder(stops.Long.Unwrap().ID, candle); err != nil {
			return lastLong, lastShort, err
		}

		t.logger.Info("Long stop-loss hit",
			zap.Float64("trigger", stops.Long.Unwrap().Price),
			zap.Float64("close", candle.Close),
			zap.Time("at", candle.Time),
		)

		lastLong = t.trader.GetLastOpenOrderForPosition(t.pair, types.PositionTypeLong)
	}

	if stops.Short.IsSome() && stops.Short.Unwrap().Price <= candle.Close {
		if _, err := t.trader.FillOrder(stops.Short.Unwrap().ID, candle); err != nil {
			return lastLong, lastShort, err
		}

		t.logger.Info("Short stop-loss hit",
			zap.Float64("trigger", stops.Short.Unwrap().Price),
			zap.Float64("close", candle.Close),
			zap.Time("at", candle.Time),
		)

		lastShort = t.trader.GetLastOpenOrderForPosition(t.pair, types.PositionTypeShort)
	}

	return lastLong, lastShort, nil
}

// checkExits closes positions that broke the exit channel.
func (t *Turtle) checkExits(candle types.Candle, lastLong, lastShort optional.Option[types.Order]) (optional.Option[types.Order], optional.Option[types.Order], error) {
	if lastLong.IsSome() {
		lowest, err := t.indicators.Lowest(t.config.ExitBreakoutLength)
		if err != nil {
			return lastLong, lastShort, err
		}

		if candle.Close <= lowest {
			recreate := types.Recreate{
				"close":                candle.Close,
				"lowest":               lowest,
				"exit_breakout_length": float64(t.config.ExitBreakoutLength),
			}

			if err := t.exitPosition(candle, types.PositionTypeLong, lastLong.Unwrap().GroupID,
				"Price broke below the exit channel", recreate); err != nil {
				return lastLong, lastShort, err
			}

			lastLong = optional.None[types.Order]()
		}
	}

	if lastShort.IsSome() {
		highest, err := t.indicators.Highest(t.config.ExitBreakoutLength)
		if err != nil {
			return lastLong, lastShort, err
		}

		if candle.Close >= highest {
			recreate := types.Recreate{
				"close":                candle.Close,
				"highest":              highest,
				"exit_breakout_length": float64(t.config.ExitBreakoutLength),
			}

			if err := t.exitPosition(candle, types.PositionTypeShort, lastShort.Unwrap().GroupID,
				"Price broke above the exit channel", recreate); err != nil {
				return lastLong, lastShort, err
			}

			lastShort = optional.None[types.Order]()
		}
	}

	return lastLong, lastShort, nil
}

// checkLongSide pyramids an open long or enters a new one on a breakout.
func (t *Turtle) checkLongSide(candle types.Candle, atr float64, lastLong optional.Option[types.Order]) error {
	if t.config.EnablePyramiding && lastLong.IsSome() {
		last := lastLong.Unwrap()
		if candle.Close >= last.Price+t.config.PyramidMultiplier*atr {
			recreate := types.Recreate{
				"close":              candle.Close,
				"last_entry_price":   last.Price,
				"atr":                atr,
				"pyramid_multiplier": t.config.PyramidMultiplier,
			}

			return t.addUnit(candle, atr, types.PositionTypeLong, optional.Some(last.GroupID),
				"Price advanced one pyramid step above the last entry", recreate)
		}

		return nil
	}

	if lastLong.IsSome() {
		return nil
	}

	highest, err := t.indicators.Highest(t.config.EntryBreakoutLength)
	if err != nil {
		return err
	}

	if candle.Close > highest {
		recreate := types.Recreate{
			"close":                 candle.Close,
			"highest":               highest,
			"entry_breakout_length": float64(t.config.EntryBreakoutLength),
		}

		return t.addUnit(candle, atr, types.PositionTypeLong, optional.None[string](),
			"Price broke above the entry channel", recreate)
	}

	return nil
}

// checkShortSide mirrors checkLongSide for the short direction.
func (t *Turtle) checkShortSide(candle types.Candle, atr float64, lastShort optional.Option[types.Order]) error {
	if !t.config.EnableShorting {
		return nil
	}

	if t.config.EnablePyramiding && lastShort.IsSome() {
		last := lastShort.Unwrap()
		if candle.Close <= last.Price-t.config.PyramidMultiplier*atr {
			recreate := types.Recreate{
				"close":              candle.Close,
				"last_entry_price":   last.Price,
				"atr":                atr,
				"pyramid_multiplier": t.config.PyramidMultiplier,
			}

			return t.addUnit(candle, atr, types.PositionTypeShort, optional.Some(last.GroupID),
				"Price advanced one pyramid step below the last entry", recreate)
		}

		return nil
	}

	if lastShort.IsSome() {
		return nil
	}

	lowest, err := t.indicators.Lowest(t.config.EntryBreakoutLength)
	if err != nil {
		return err
	}

	if candle.Close < lowest {
		recreate := types.Recreate{
			"close":                 candle.Close,
			"lowest":                lowest,
			"entry_breakout_length": float64(t.config.EntryBreakoutLength),
		}

		return t.addUnit(candle, atr, types.PositionTypeShort, optional.None[string](),
			"Price broke below the entry channel", recreate)
	}

	return nil
}

// addUnit buys one unit, either opening a new group or pyramiding into an
// existing one, and re-stops the whole position. Hitting the per-market unit
// ceiling refuses the trade silently.
func (t *Turtle) addUnit(candle types.Candle, atr float64, position types.PositionType, groupID optional.Option[string], reason string, recreate types.Recreate) error {
	if units := t.trader.GetUnitsForMarket(t.pair); units >= t.config.MaxUnitsPerMarket {
		t.logger.Info("Entry refused, unit ceiling reached",
			zap.String("pair", t.pair.String()),
			zap.Int("units", units),
			zap.Int("max_units", t.config.MaxUnitsPerMarket),
			zap.Time("at", candle.Time),
		)

		return nil
	}

	if t.unitSize <= 0 {
		t.logger.Debug("Entry skipped, no computable unit size",
			zap.String("pair", t.pair.String()),
			zap.Time("at", candle.Time),
		)

		return nil
	}

	order, err := t.trader.Trade(trader.TradeRequest{
		Pair:     t.pair,
		Type:     types.OrderTypeLimit,
		Position: position,
		Side:     types.SideBuy,
		Amount:   t.unitSize,
		Price:    candle.Close,
		Time:     candle.Time,
		Reason:   reason,
		Recreate: recreate,
		GroupID:  groupID,
	})
	if err != nil {
		return err
	}

	// Replace the group's protection with a stop covering the full
	// position at the new price level
	t.trader.CancelStopsByGroup(order.GroupID)

	return t.placeStop(candle, atr, position, order.GroupID)
}

// exitPosition sells a group's entire holding and drops its protection.
func (t *Turtle) exitPosition(candle types.Candle, position types.PositionType, groupID, reason string, recreate types.Recreate) error {
	held := 0.0
	for _, order := range t.trader.GetOpenOrdersForPosition(t.pair, position) {
		held += order.Units
	}

	if held <= 0 {
		return nil
	}

	if _, err := t.trader.Trade(trader.TradeRequest{
		Pair:     t.pair,
		Type:     types.OrderTypeLimit,
		Position: position,
		Side:     types.SideSell,
		Amount:   held,
		Price:    candle.Close,
		Time:     candle.Time,
		Reason:   reason,
		Recreate: recreate,
		GroupID:  optional.Some(groupID),
	}); err != nil {
		return err
	}

	t.trader.CancelStopsByGroup(groupID)

	t.logger.Info("Exited position",
		zap.String("pair", t.pair.String()),
		zap.String("position", string(position)),
		zap.Float64("units", held),
		zap.Float64("close", candle.Close),
		zap.Time("at", candle.Time),
	)

	return nil
}

// placeStop books a protective stop for everything the group holds.
func (t *Turtle) placeStop(candle types.Candle, atr float64, position types.PositionType, groupID string) error {
	held := 0.0
	for _, order := range t.trader.GetOpenOrdersForPosition(t.pair, position) {
		held += order.Units
	}

	if held <= 0 {
		return nil
	}

	trigger := candle.Close - t.config.StopLossMultiplier*atr
	if position == types.PositionTypeShort {
		trigger = candle.Close + t.config.StopLossMultiplier*atr
	}

	if trigger <= 0 {
		t.logger.Warn("Stop trigger not positive, skipping stop placement",
			zap.Float64("trigger", trigger),
			zap.Time("at", candle.Time),
		)

		return nil
	}

	_, err := t.trader.Trade(trader.TradeRequest{
		Pair:     t.pair,
		Type:     types.OrderTypeStop,
		Position: position,
		Side:     types.SideSell,
		Amount:   held,
		Price:    trigger,
		Time:     candle.Time,
		Reason:   "Protective stop",
		Recreate: types.Recreate{
			"close":                candle.Close,
			"atr":                  atr,
			"stop_loss_multiplier": t.config.StopLossMultiplier,
		},
		GroupID: optional.Some(groupID),
	})

	return err
}
