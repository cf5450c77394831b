package trader

import "github.com/opentradelab/turtle-backtest/internal/types"

// FeeSchedule prices the cost of executing an order. Percentages are
// fractions, e.g. 0.0025 for 0.25%.
type FeeSchedule interface {
	// FeePct is the exchange commission charged on every order.
	FeePct() float64

	// SlippagePct is the expected slippage for an order type. Market
	// orders eat the spread; limit and stop orders execute at their
	// stated price.
	SlippagePct(orderType types.OrderType) float64
}

const (
	// defaultFeePct mirrors a typical spot exchange taker commission.
	defaultFeePct = 0.0025
	// defaultSlippagePct is the assumed cost of crossing the spread on a
	// market order.
	defaultSlippagePct = 0.0005
)

// ExchangeFees is the standard fee schedule: a flat commission on every
// order plus slippage on market orders only.
type ExchangeFees struct {
	feePct      float64
	slippagePct float64
}

// NewExchangeFees returns the default schedule (0.25% fee, 0.05% market
// slippage).
func NewExchangeFees() *ExchangeFees {
	return &ExchangeFees{
		feePct:      defaultFeePct,
		slippagePct: defaultSlippagePct,
	}
}

// NewCustomFees returns a schedule with explicit rates.
func NewCustomFees(feePct, slippagePct float64) *ExchangeFees {
	return &ExchangeFees{
		feePct:      feePct,
		slippagePct: slippagePct,
	}
}

// FeePct implements FeeSchedule.
func (e *ExchangeFees) FeePct() float64 {
	return e.feePct
}

// SlippagePct implements FeeSchedule.
func (e *ExchangeFees) SlippagePct(orderType types.OrderType) float64 {
	if orderType == types.OrderTypeMarket {
		return e.slippagePct
	}

	return 0
}

// ZeroFees is a frictionless schedule. Used in tests where fee arithmetic
// would obscure the behavior under test.
type ZeroFees struct{}

// FeePct implements FeeSchedule.
func (ZeroFees) FeePct() float64 {
	return 0
}

// SlippagePct implements FeeSchedule.
func (ZeroFees) SlippagePct(types.OrderType) float64 {
	return 0
}
