package backtest

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opentradelab/turtle-backtest/internal/account"
	"github.com/opentradelab/turtle-backtest/internal/candles"
	"github.com/opentradelab/turtle-backtest/internal/indicator"
	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/strategy"
	"github.com/opentradelab/turtle-backtest/internal/trader"
	"github.com/opentradelab/turtle-backtest/internal/types"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// ProgressCallback reports walk progress: bars processed so far out of the
// total.
type ProgressCallback func(current, total int)

// Engine runs one backtest: it loads the candle range, assembles the
// account, execution engine, indicator engine and strategy, walks the bars
// in order and summarizes the ledger.
type Engine struct {
	config   Config
	source   candles.Source
	logger   *logger.Logger
	progress ProgressCallback
}

// NewEngine creates a run engine over a validated configuration.
func NewEngine(config Config, source candles.Source, logger *logger.Logger) *Engine {
	return &Engine{
		config: config,
		source: source,
		logger: logger,
	}
}

// SetProgressCallback registers a callback invoked after every processed
// bar.
func (e *Engine) SetProgressCallback(callback ProgressCallback) {
	e.progress = callback
}

// Run walks the configured range and returns the run record plus the full
// order ledger for persistence.
func (e *Engine) Run() (types.BacktestResult, []types.Order, error) {
	if err := e.config.Validate(); err != nil {
		return types.BacktestResult{}, nil, err
	}

	pair := types.NewPair(e.config.Currency, e.config.Asset)

	series, err := e.source.GetCandles(pair, e.config.From, e.config.To, e.config.IntervalHours)
	if err != nil {
		return types.BacktestResult{}, nil, err
	}

	if len(series) == 0 {
		return types.BacktestResult{}, nil, errors.Newf(errors.ErrCodeBacktestNoCandles,
			"no candles for %s between %s and %s", pair, e.config.From, e.config.To)
	}

	acct := account.NewAccount(uuid.New().String(), e.config.Currency)
	if err := acct.Deposit(e.config.InitialCapital, e.config.From); err != nil {
		return types.BacktestResult{}, nil, err
	}

	fees := trader.NewCustomFees(
		e.config.FeePct.TakeOr(trader.NewExchangeFees().FeePct()),
		e.config.SlippagePct.TakeOr(trader.NewExchangeFees().SlippagePct(types.OrderTypeMarket)),
	)

	sim := trader.NewSimTrader(acct, fees, e.logger)
	indicators := indicator.NewEngine(e.source, e.logger, pair, e.config.IntervalHours, series)
	turtle := strategy.NewTurtle(pair, e.config.Strategy, indicators, sim, acct, e.logger)

	e.logger.Info("Starting backtest",
		zap.String("pair", pair.String()),
		zap.Int("interval_hours", e.config.IntervalHours),
		zap.Time("from", e.config.From),
		zap.Time("to", e.config.To),
		zap.Int("candles", len(series)),
	)

	for i, candle := range series {
		indicators.Seek(i)

		if err := turtle.OnCandle(candle); err != nil {
			return types.BacktestResult{}, nil, errors.Wrapf(errors.ErrCodeStrategyAborted, err,
				"run aborted at bar %d (%s)", i, candle.Time)
		}

		if e.progress != nil {
			e.progress(i+1, len(series))
		}
	}

	orders := sim.Orders()

	result := types.BacktestResult{
		ID:             uuid.New().String(),
		AccountID:      acct.ID(),
		Strategy:       turtle.Name(),
		StrategyParams: turtle.Params(),
		Pair:           pair,
		IntervalHours:  e.config.IntervalHours,
		From:           e.config.From,
		To:             e.config.To,
		Records:        len(series),
		CreatedAt:      time.Now(),
		Summary:        Summarize(orders, acct.TotalDeposited(), series),
	}

	e.logger.Info("Backtest finished",
		zap.Int("orders", len(orders)),
		zap.Int("groups", result.Summary.TotalGroups),
		zap.Float64("profit", result.Summary.Profit),
		zap.Float64("profit_pct", result.Summary.ProfitPct),
	)

	return result, orders, nil
}
