package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

type OrderTestSuite struct {
	suite.Suite
}

func TestOrderSuite(t *testing.T) {
	suite.Run(t, new(OrderTestSuite))
}

func (suite *OrderTestSuite) validOrder() Order {
	return Order{
		ID:        uuid.New().String(),
		AccountID: "backtest",
		Pair:      NewPair("USD", "BTC"),
		Market:    MarketCrypto,
		Type:      OrderTypeMarket,
		Position:  PositionTypeLong,
		Side:      SideBuy,
		Status:    OrderStatusFilled,
		Price:     100,
		Units:     2.5,
		Total:     250,
		GroupID:   uuid.New().String(),
		CreatedAt: time.Now(),
		FilledAt:  optional.Some(time.Now()),
	}
}

func (suite *OrderTestSuite) TestValidateValidOrder() {
	order := suite.validOrder()
	suite.NoError(order.Validate())
}

func (suite *OrderTestSuite) TestValidateRejectsZeroPrice() {
	order := suite.validOrder()
	order.Price = 0

	err := order.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidOrder))
}

func (suite *OrderTestSuite) TestValidateRejectsBadSide() {
	order := suite.validOrder()
	order.Side = Side("hold")

	suite.Error(order.Validate())
}

func (suite *OrderTestSuite) TestValidateRejectsNonUUIDGroup() {
	order := suite.validOrder()
	order.GroupID = "group-1"

	suite.Error(order.Validate())
}

func (suite *OrderTestSuite) TestLifecycleHelpers() {
	order := suite.validOrder()

	order.Status = OrderStatusOpen
	suite.True(order.IsOpen())
	suite.False(order.IsFilled())

	order.Status = OrderStatusFilled
	suite.False(order.IsOpen())
	suite.True(order.IsFilled())

	order.Status = OrderStatusCanceled
	suite.False(order.IsOpen())
	suite.False(order.IsFilled())
}

func (suite *OrderTestSuite) TestSignedUnits() {
	order := suite.validOrder()
	order.Units = 3

	order.Side = SideBuy
	suite.Equal(3.0, order.SignedUnits())

	order.Side = SideSell
	suite.Equal(-3.0, order.SignedUnits())
}

func (suite *OrderTestSuite) TestPairString() {
	suite.Equal("USD/BTC", NewPair("USD", "BTC").String())
	suite.Equal("EUR/ETH", NewPair("EUR", "ETH").String())
}
