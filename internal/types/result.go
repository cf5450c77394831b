package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HoldingTime describes how long trade groups stayed in the market.
type HoldingTime struct {
	// Minimum holding time of a group in seconds
	Min int `yaml:"min"`
	// Maximum holding time of a group in seconds
	Max int `yaml:"max"`
	// Average holding time of a group in seconds
	Avg int `yaml:"avg"`
}

// GroupSummary is the derived aggregate of all filled orders sharing a group
// identifier, pair and position direction.
type GroupSummary struct {
	GroupID   string       `yaml:"group_id"`
	AccountID string       `yaml:"account_id"`
	Pair      Pair         `yaml:"pair"`
	Position  PositionType `yaml:"position"`
	EntryAt   time.Time    `yaml:"entry_at"`
	ExitAt    time.Time    `yaml:"exit_at"`
	// Units is the number of buy fills in the group.
	Units int `yaml:"units"`
	// Profit is signed: for longs sell proceeds minus buy cost, for shorts
	// the reverse.
	Profit float64 `yaml:"profit"`
}

// IsWinning reports whether the group closed with a positive profit.
func (g *GroupSummary) IsWinning() bool {
	return g.Profit > 0
}

// Summary aggregates the order ledger of a finished run.
type Summary struct {
	// Count of all filled orders.
	TotalTrades int `yaml:"total_trades"`
	// Count of filled orders on the long / short side.
	Longs  int `yaml:"longs"`
	Shorts int `yaml:"shorts"`
	// Count of stop orders that were placed.
	StopLosses int `yaml:"stop_losses"`
	// Closed trade groups.
	TotalGroups   int `yaml:"total_groups"`
	WinningGroups int `yaml:"winning_groups"`
	LosingGroups  int `yaml:"losing_groups"`
	// Profit over all closed groups, and as a percentage of the total
	// capital deposited.
	Profit    float64 `yaml:"profit"`
	ProfitPct float64 `yaml:"profit_pct"`
	// Average profit, overall and conditioned on outcome / direction.
	AvgProfit      float64 `yaml:"avg_profit"`
	AvgProfitGain  float64 `yaml:"avg_profit_gain"`
	AvgProfitLoss  float64 `yaml:"avg_profit_loss"`
	AvgProfitLong  float64 `yaml:"avg_profit_long"`
	AvgProfitShort float64 `yaml:"avg_profit_short"`
	// Holding time of all closed groups.
	HoldingTime HoldingTime `yaml:"holding_time"`
	// BuyAndHoldPct is the return of simply holding from the first to the
	// last walked candle.
	BuyAndHoldPct float64 `yaml:"buy_and_hold_pct"`
	// DrawdownPct requires a running equity curve and is not computed.
	DrawdownPct float64 `yaml:"drawdown_pct"`
	// Per-group breakdown.
	Groups []GroupSummary `yaml:"groups"`
}

// BacktestResult is the run-level record: the parameters the run was started
// with plus the statistics derived from its order ledger.
type BacktestResult struct {
	// ID is the unique identifier for this backtest run.
	ID string `yaml:"id" json:"id"`
	// AccountID is the sandbox account the run traded against.
	AccountID string `yaml:"account_id" json:"account_id"`
	// Strategy is the name of the strategy that was run.
	Strategy string `yaml:"strategy" json:"strategy"`
	// StrategyParams holds the strategy configuration the run used.
	StrategyParams map[string]any `yaml:"strategy_params" json:"strategy_params"`
	Pair           Pair           `yaml:"pair" json:"pair"`
	IntervalHours  int            `yaml:"interval_hours" json:"interval_hours"`
	From           time.Time      `yaml:"from" json:"from"`
	To             time.Time      `yaml:"to" json:"to"`
	// Records is the number of candles that were walked.
	Records int `yaml:"records" json:"records"`
	// CreatedAt is when the run finished.
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	Summary   Summary   `yaml:"summary" json:"summary"`
}

// WriteBacktestResult writes a finished result to a YAML file.
func WriteBacktestResult(path string, result BacktestResult) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal backtest result to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write backtest result to file: %w", err)
	}

	return nil
}
