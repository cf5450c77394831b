package backtest

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentradelab/turtle-backtest/internal/types"
)

// summaryCloseOutThresholdPct mirrors the trader's close-out threshold: a
// group whose remaining exposure is at or under this share of its entered
// size counts as closed and enters the summary.
const summaryCloseOutThresholdPct = 2.0

// groupKey identifies one position group in the ledger.
type groupKey struct {
	accountID string
	pair      types.Pair
	groupID   string
	position  types.PositionType
}

// Summarize derives the run statistics from the order ledger. Only closed
// groups contribute to the group statistics; a position still open when the
// walk ends is not scored.
func Summarize(orders []types.Order, deposited float64, series []types.Candle) types.Summary {
	summary := types.Summary{}

	for _, order := range orders {
		if order.Type == types.OrderTypeStop {
			summary.StopLosses++
		}

		if !order.IsFilled() {
			continue
		}

		summary.TotalTrades++

		if order.Position == types.PositionTypeLong {
			summary.Longs++
		} else {
			summary.Shorts++
		}
	}

	summary.Groups = collectClosedGroups(orders)
	summary.TotalGroups = len(summary.Groups)

	scoreGroups(&summary, deposited)
	holdingTimes(&summary)

	if len(series) > 0 {
		first := series[0].Close
		last := series[len(series)-1].Close
		summary.BuyAndHoldPct = (last - first) / first * 100
	}

	return summary
}

// collectClosedGroups groups filled orders and keeps the closed groups,
// ordered by entry time.
func collectClosedGroups(orders []types.Order) []types.GroupSummary {
	type groupAccum struct {
		entryAt time.Time
		exitAt  time.Time
		units   int
		bought  decimal.Decimal
		sold    decimal.Decimal
		buys    decimal.Decimal
		sells   decimal.Decimal
	}

	accums := make(map[groupKey]*groupAccum)

	var keyOrder []groupKey

	for _, o := range orders {
		if !o.IsFilled() {
			continue
		}

		key := groupKey{
			accountID: o.AccountID,
			pair:      o.Pair,
			groupID:   o.GroupID,
			position:  o.Position,
		}

		accum, ok := accums[key]
		if !ok {
			accum = &groupAccum{}
			accums[key] = accum

			keyOrder = append(keyOrder, key)
		}

		filledAt := o.FilledAt.Unwrap()
		if accum.entryAt.IsZero() || filledAt.Before(accum.entryAt) {
			accum.entryAt = filledAt
		}

		if filledAt.After(accum.exitAt) {
			accum.exitAt = filledAt
		}

		units := decimal.NewFromFloat(o.Units)
		total := decimal.NewFromFloat(o.Total)

		if o.Side == types.SideBuy {
			accum.units++
			accum.bought = accum.bought.Add(units)
			accum.buys = accum.buys.Add(total)
		} else {
			accum.sold = accum.sold.Add(units)
			accum.sells = accum.sells.Add(total)
		}
	}

	var groups []types.GroupSummary

	for _, key := range keyOrder {
		accum := accums[key]
		if accum.bought.IsZero() {
			continue
		}

		percentInMarket := accum.bought.Sub(accum.sold).Div(accum.bought).Mul(decimal.NewFromInt(100))
		if percentInMarket.GreaterThan(decimal.NewFromFloat(summaryCloseOutThresholdPct)) {
			continue
		}

		profit := accum.sells.Sub(accum.buys)
		if key.position == types.PositionTypeShort {
			profit = accum.buys.Sub(accum.sells)
		}

		profitF, _ := profit.Float64()

		groups = append(groups, types.GroupSummary{
			GroupID:   key.groupID,
			AccountID: key.accountID,
			Pair:      key.pair,
			Position:  key.position,
			EntryAt:   accum.entryAt,
			ExitAt:    accum.exitAt,
			Units:     accum.units,
			Profit:    profitF,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].EntryAt.Before(groups[j].EntryAt)
	})

	return groups
}

// scoreGroups fills the win/loss and profit aggregates.
func scoreGroups(summary *types.Summary, deposited float64) {
	if len(summary.Groups) == 0 {
		return
	}

	var wins, losses, longs, shorts int

	var total, winTotal, lossTotal, longTotal, shortTotal decimal.Decimal

	for _, group := range summary.Groups {
		profit := decimal.NewFromFloat(group.Profit)
		total = total.Add(profit)

		if group.IsWinning() {
			wins++
			winTotal = winTotal.Add(profit)
		} else {
			losses++
			lossTotal = lossTotal.Add(profit)
		}

		if group.Position == types.PositionTypeLong {
			longs++
			longTotal = longTotal.Add(profit)
		} else {
			shorts++
			shortTotal = shortTotal.Add(profit)
		}
	}

	summary.WinningGroups = wins
	summary.LosingGroups = losses

	summary.Profit, _ = total.Float64()
	summary.AvgProfit = mean(total, len(summary.Groups))
	summary.AvgProfitGain = mean(winTotal, wins)
	summary.AvgProfitLoss = mean(lossTotal, losses)
	summary.AvgProfitLong = mean(longTotal, longs)
	summary.AvgProfitShort = mean(shortTotal, shorts)

	if deposited > 0 {
		pct := total.Div(decimal.NewFromFloat(deposited)).Mul(decimal.NewFromInt(100))
		summary.ProfitPct, _ = pct.Float64()
	}
}

// holdingTimes fills the min/max/avg holding duration in seconds.
func holdingTimes(summary *types.Summary) {
	if len(summary.Groups) == 0 {
		return
	}

	var total int

	holding := types.HoldingTime{}

	for i, group := range summary.Groups {
		seconds := int(group.ExitAt.Sub(group.EntryAt) / time.Second)
		total += seconds

		if i == 0 || seconds < holding.Min {
			holding.Min = seconds
		}

		if seconds > holding.Max {
			holding.Max = seconds
		}
	}

	holding.Avg = total / len(summary.Groups)
	summary.HoldingTime = holding
}

func mean(total decimal.Decimal, count int) float64 {
	if count == 0 {
		return 0
	}

	avg, _ := total.Div(decimal.NewFromInt(int64(count))).Float64()

	return avg
}
