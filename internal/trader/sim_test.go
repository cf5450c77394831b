package trader

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/opentradelab/turtle-backtest/internal/account"
	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/types"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

type SimTraderTestSuite struct {
	suite.Suite

	account *account.Account
	trader  *SimTrader
	pair    types.Pair
	now     time.Time
}

func TestSimTraderSuite(t *testing.T) {
	suite.Run(t, new(SimTraderTestSuite))
}

func (suite *SimTraderTestSuite) SetupTest() {
	suite.account = account.NewAccount("backtest", "USD")
	suite.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	suite.NoError(suite.account.Deposit(100000, suite.now))

	suite.pair = types.NewPair("USD", "BTC")
	suite.trader = NewSimTrader(suite.account, ZeroFees{}, logger.NewNopLogger(), WithStrictCacheChecks())
}

func (suite *SimTraderTestSuite) buyRequest(amount, price float64) TradeRequest {
	return TradeRequest{
		Pair:     suite.pair,
		Type:     types.OrderTypeLimit,
		Position: types.PositionTypeLong,
		Side:     types.SideBuy,
		Amount:   amount,
		Price:    price,
		Time:     suite.now,
		Reason:   "test buy",
	}
}

func (suite *SimTraderTestSuite) sellRequest(units, price float64, groupID string) TradeRequest {
	return TradeRequest{
		Pair:     suite.pair,
		Type:     types.OrderTypeLimit,
		Position: types.PositionTypeLong,
		Side:     types.SideSell,
		Amount:   units,
		Price:    price,
		Time:     suite.now,
		Reason:   "test sell",
		GroupID:  optional.Some(groupID),
	}
}

func (suite *SimTraderTestSuite) TestBuyArithmeticWithFees() {
	trader := NewSimTrader(suite.account, NewCustomFees(0.0025, 0.0005), logger.NewNopLogger())

	req := suite.buyRequest(1000, 100)
	req.Type = types.OrderTypeMarket

	order, err := trader.Trade(req)
	suite.NoError(err)

	// Spent on units = A * (1 - fee% - slippage%)
	suite.InDelta(1000*(1-0.0025-0.0005)/100, order.Units, 1e-8)
	suite.InDelta(2.5, order.Fee, 1e-8)
	suite.InDelta(0.5, order.Slippage, 1e-8)
	suite.InDelta(1000, order.Total, 1e-8)
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.True(order.FilledAt.IsSome())
}

func (suite *SimTraderTestSuite) TestLimitOrdersPayNoSlippage() {
	trader := NewSimTrader(suite.account, NewExchangeFees(), logger.NewNopLogger())

	order, err := trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)
	suite.Zero(order.Slippage)
	suite.Zero(order.SlippagePct)
	suite.InDelta(2.5, order.Fee, 1e-8)
}

func (suite *SimTraderTestSuite) TestSellArithmeticWithFees() {
	trader := NewSimTrader(suite.account, NewCustomFees(0.0025, 0.0005), logger.NewNopLogger())

	buy, err := trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	sell, err := trader.Trade(suite.sellRequest(buy.Units, 110, buy.GroupID))
	suite.NoError(err)

	// Sell fees are charged in units, reported in currency at the price
	suite.InDelta(buy.Units*0.0025*110, sell.Fee, 1e-8)
	suite.Zero(sell.Slippage)
	suite.InDelta(buy.Units*(1-0.0025)*110, sell.Total, 1e-8)
	suite.Equal(buy.Units, sell.Units)
}

func (suite *SimTraderTestSuite) TestTradePostsToAccount() {
	before := suite.account.Balance()

	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)
	suite.InDelta(before-1000, suite.account.Balance(), 1e-8)

	_, err = suite.trader.Trade(suite.sellRequest(buy.Units, 110, buy.GroupID))
	suite.NoError(err)
	suite.InDelta(before-1000+buy.Units*110, suite.account.Balance(), 1e-8)
}

func (suite *SimTraderTestSuite) TestShortSettlementCreditsEntryDebitsCover() {
	before := suite.account.Balance()

	entry := suite.buyRequest(10000, 100)
	entry.Position = types.PositionTypeShort
	entry.Reason = "test short entry"

	opened, err := suite.trader.Trade(entry)
	suite.NoError(err)

	// Entering a short sells borrowed units, so the proceeds come in
	suite.InDelta(before+10000, suite.account.Balance(), 1e-8)

	cover := suite.sellRequest(opened.Units, 50, opened.GroupID)
	cover.Position = types.PositionTypeShort
	cover.Reason = "test short cover"

	_, err = suite.trader.Trade(cover)
	suite.NoError(err)

	// Covering 100 units at 50 costs 5000, leaving the 5000 profit
	suite.InDelta(before+5000, suite.account.Balance(), 1e-8)
}

func (suite *SimTraderTestSuite) TestRejectsBadRequests() {
	_, err := suite.trader.Trade(suite.buyRequest(0, 100))
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTrade))

	_, err = suite.trader.Trade(suite.buyRequest(100, -1))
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTrade))
}

func (suite *SimTraderTestSuite) TestOversellRejected() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	_, err = suite.trader.Trade(suite.sellRequest(buy.Units*2, 100, buy.GroupID))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderRefused))

	// Selling exactly what is held is fine
	_, err = suite.trader.Trade(suite.sellRequest(buy.Units, 100, buy.GroupID))
	suite.NoError(err)
}

func (suite *SimTraderTestSuite) TestUnitCountsOnlySeeInMarketGroups() {
	first, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	pyramid := suite.buyRequest(1000, 105)
	pyramid.GroupID = optional.Some(first.GroupID)
	_, err = suite.trader.Trade(pyramid)
	suite.NoError(err)

	suite.Equal(2, suite.trader.GetUnitsForPosition(suite.pair, types.PositionTypeLong))
	suite.Equal(2, suite.trader.GetUnitsForMarket(suite.pair))
	suite.Equal(0, suite.trader.GetUnitsForPosition(suite.pair, types.PositionTypeShort))

	// Close the whole group
	bought := suite.trader.Orders()[0].Units + suite.trader.Orders()[1].Units
	_, err = suite.trader.Trade(suite.sellRequest(bought, 110, first.GroupID))
	suite.NoError(err)

	suite.Equal(0, suite.trader.GetUnitsForPosition(suite.pair, types.PositionTypeLong))
	suite.Empty(suite.trader.GetOpenOrdersForPosition(suite.pair, types.PositionTypeLong))
}

func (suite *SimTraderTestSuite) TestGroupClosesWithinThreshold() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	// Selling 99% leaves 1% exposure, under the 2% close-out threshold
	_, err = suite.trader.Trade(suite.sellRequest(buy.Units*0.99, 100, buy.GroupID))
	suite.NoError(err)

	suite.Equal(0, suite.trader.GetUnitsForPosition(suite.pair, types.PositionTypeLong))
}

func (suite *SimTraderTestSuite) TestGroupStaysOpenAboveThreshold() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	_, err = suite.trader.Trade(suite.sellRequest(buy.Units*0.5, 100, buy.GroupID))
	suite.NoError(err)

	suite.Equal(1, suite.trader.GetUnitsForPosition(suite.pair, types.PositionTypeLong))
}

func (suite *SimTraderTestSuite) TestFirstAndLastOpenOrder() {
	suite.True(suite.trader.GetLastOpenOrderForPosition(suite.pair, types.PositionTypeLong).IsNone())

	first, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	pyramid := suite.buyRequest(1000, 105)
	pyramid.GroupID = optional.Some(first.GroupID)
	second, err := suite.trader.Trade(pyramid)
	suite.NoError(err)

	gotFirst := suite.trader.GetFirstOpenOrderForPosition(suite.pair, types.PositionTypeLong)
	suite.Require().True(gotFirst.IsSome())
	suite.Equal(first.ID, gotFirst.Unwrap().ID)

	gotLast := suite.trader.GetLastOpenOrderForPosition(suite.pair, types.PositionTypeLong)
	suite.Require().True(gotLast.IsSome())
	suite.Equal(second.ID, gotLast.Unwrap().ID)
}

func (suite *SimTraderTestSuite) TestLastOpenOrderCacheInvalidatedByClose() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	cached := suite.trader.GetLastOpenOrderForPosition(suite.pair, types.PositionTypeLong)
	suite.True(cached.IsSome())

	// Closing the position must clear the cached answer, not leave it stale
	_, err = suite.trader.Trade(suite.sellRequest(buy.Units, 100, buy.GroupID))
	suite.NoError(err)

	suite.True(suite.trader.GetLastOpenOrderForPosition(suite.pair, types.PositionTypeLong).IsNone())
}

func (suite *SimTraderTestSuite) TestStopLifecycle() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	stopReq := suite.sellRequest(buy.Units, 96, buy.GroupID)
	stopReq.Type = types.OrderTypeStop

	stop, err := suite.trader.Trade(stopReq)
	suite.NoError(err)
	suite.Equal(types.OrderStatusOpen, stop.Status)
	suite.True(stop.FilledAt.IsNone())

	stops := suite.trader.GetOpenStops(suite.pair)
	suite.Require().True(stops.Long.IsSome())
	suite.True(stops.Short.IsNone())
	suite.Equal(stop.ID, stops.Long.Unwrap().ID)

	// Fill at a later candle
	candle := types.Candle{
		Pair:          suite.pair,
		IntervalHours: 1,
		Time:          suite.now.Add(4 * time.Hour),
		Open:          96, High: 96, Low: 95, Close: 95,
	}

	filled, err := suite.trader.FillOrder(stop.ID, candle)
	suite.NoError(err)
	suite.Equal(types.OrderStatusFilled, filled.Status)
	suite.True(filled.FilledAt.IsSome())
	suite.True(filled.FilledAt.Unwrap().Equal(candle.Time))

	suite.True(suite.trader.GetOpenStops(suite.pair).Long.IsNone())

	// Filled is terminal
	_, err = suite.trader.FillOrder(stop.ID, candle)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderNotOpen))
}

func (suite *SimTraderTestSuite) TestFillOrderUnknownID() {
	_, err := suite.trader.FillOrder(uuid.New().String(), types.Candle{Time: suite.now})
	suite.True(errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

func (suite *SimTraderTestSuite) TestCancelStopsByGroupIsIdempotent() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	stopReq := suite.sellRequest(buy.Units, 96, buy.GroupID)
	stopReq.Type = types.OrderTypeStop
	stop, err := suite.trader.Trade(stopReq)
	suite.NoError(err)

	suite.trader.CancelStopsByGroup(buy.GroupID)
	suite.True(suite.trader.GetOpenStops(suite.pair).Long.IsNone())

	// Again, and for a group that never existed
	suite.trader.CancelStopsByGroup(buy.GroupID)
	suite.trader.CancelStopsByGroup(uuid.New().String())

	for _, order := range suite.trader.Orders() {
		if order.ID == stop.ID {
			suite.Equal(types.OrderStatusCanceled, order.Status)
		}
	}
}

func (suite *SimTraderTestSuite) TestStopFillAfterExitIsRejected() {
	buy, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	stopReq := suite.sellRequest(buy.Units, 96, buy.GroupID)
	stopReq.Type = types.OrderTypeStop
	stop, err := suite.trader.Trade(stopReq)
	suite.NoError(err)

	// The exit sells everything the stop was protecting
	_, err = suite.trader.Trade(suite.sellRequest(buy.Units, 100, buy.GroupID))
	suite.NoError(err)

	_, err = suite.trader.FillOrder(stop.ID, types.Candle{Pair: suite.pair, Time: suite.now.Add(time.Hour)})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderRefused))
}

func (suite *SimTraderTestSuite) TestOrdersReturnsCopy() {
	_, err := suite.trader.Trade(suite.buyRequest(1000, 100))
	suite.NoError(err)

	orders := suite.trader.Orders()
	orders[0].Reason = "mutated"

	suite.Equal("test buy", suite.trader.Orders()[0].Reason)
}
