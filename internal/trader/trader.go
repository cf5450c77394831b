// Package trader simulates order execution against a historical price
// series: fills, slippage, fees, pending stop orders and the grouping of
// related fills into positions.
package trader

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/opentradelab/turtle-backtest/internal/types"
)

// TradeRequest describes one desired trade.
//
// Amount is denominated in currency for buys and in asset units for sells.
// Price is the execution (or trigger) price per unit. GroupID ties the trade
// to an existing position; when absent a fresh group is minted. Market
// overrides the trader's default instrument class when set.
type TradeRequest struct {
	Pair     types.Pair
	Market   types.MarketClass
	Type     types.OrderType
	Position types.PositionType
	Side     types.Side
	Amount   float64
	Price    float64
	Time     time.Time
	Reason   string
	Recreate types.Recreate
	GroupID  optional.Option[string]
}

// OpenStops holds the pending protective orders for a pair, at most one per
// position direction.
type OpenStops struct {
	Long  optional.Option[types.Order]
	Short optional.Option[types.Order]
}

// Trader executes trades and answers queries about the resulting position
// state. Unit counts and open-order queries only consider orders whose
// group is still in the market.
type Trader interface {
	// Trade books an order. Stop orders are created open; everything else
	// fills immediately at the request price.
	Trade(req TradeRequest) (types.Order, error)

	// GetUnitsForMarket returns the number of filled entry orders across
	// both position directions whose groups are still in the market.
	GetUnitsForMarket(pair types.Pair) int

	// GetUnitsForPosition is GetUnitsForMarket restricted to one
	// direction.
	GetUnitsForPosition(pair types.Pair, position types.PositionType) int

	// GetOpenOrdersForPosition returns the filled entry orders of
	// in-market groups for a direction, ordered by time.
	GetOpenOrdersForPosition(pair types.Pair, position types.PositionType) []types.Order

	// GetFirstOpenOrderForPosition returns the earliest such order.
	GetFirstOpenOrderForPosition(pair types.Pair, position types.PositionType) optional.Option[types.Order]

	// GetLastOpenOrderForPosition returns the most recent such order. The
	// answer may be served from a cache that is invalidated on every
	// state-changing call.
	GetLastOpenOrderForPosition(pair types.Pair, position types.PositionType) optional.Option[types.Order]

	// GetOpenStops returns the pending stop orders for the pair.
	GetOpenStops(pair types.Pair) OpenStops

	// FillOrder transitions an open stop to filled, stamping the fill
	// time from the candle.
	FillOrder(orderID string, candle types.Candle) (types.Order, error)

	// CancelStopsByGroup cancels all open stops in a group. Canceling a
	// group with no open stops is a no-op.
	CancelStopsByGroup(groupID string)

	// Orders returns the full order ledger in booking order.
	Orders() []types.Order
}
