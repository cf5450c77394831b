package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

type OrderType string

type OrderStatus string

type PositionType string

type Side string

type MarketClass string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
	OrderTypeStop   OrderType = "stop"
)

const (
	PositionTypeLong  PositionType = "long"
	PositionTypeShort PositionType = "short"
)

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
)

const (
	MarketCrypto      MarketClass = "crypto"
	MarketStock       MarketClass = "stock"
	MarketForex       MarketClass = "forex"
	MarketCommodities MarketClass = "commodities"
)

// Recreate holds the indicator values that justified a trade decision so the
// decision can be reconstructed later. Values are numeric; free text belongs
// in the order reason. Serialized only at the persistence boundary.
type Recreate map[string]float64

// Order represents one simulated fill or pending stop.
//
// Lifecycle: stops are created open and transition to filled when price
// crosses their trigger, or to canceled when superseded. All other orders
// are created already filled. Filled and canceled are terminal.
type Order struct {
	ID        string       `yaml:"id" json:"id" csv:"id" validate:"required,uuid"`
	AccountID string       `yaml:"account_id" json:"account_id" csv:"account_id" validate:"required"`
	Pair      Pair         `yaml:"pair" json:"pair" validate:"required"`
	Market    MarketClass  `yaml:"market" json:"market" csv:"market" validate:"required,oneof=crypto stock forex commodities"`
	Type      OrderType    `yaml:"type" json:"type" csv:"type" validate:"required,oneof=limit market stop"`
	Position  PositionType `yaml:"position" json:"position" csv:"position" validate:"required,oneof=long short"`
	Side      Side         `yaml:"side" json:"side" csv:"side" validate:"required,oneof=buy sell"`
	Status    OrderStatus  `yaml:"status" json:"status" csv:"status" validate:"required,oneof=open filled canceled"`
	// Price is the currency paid or received per unit of the asset.
	Price float64 `yaml:"price" json:"price" csv:"price" validate:"required,gt=0"`
	// Units is the asset size of the order.
	Units float64 `yaml:"units" json:"units" csv:"units" validate:"required,gt=0"`
	// Slippage and Fee are reported in currency regardless of which side
	// they were charged on.
	Slippage    float64 `yaml:"slippage" json:"slippage" csv:"slippage" validate:"gte=0"`
	SlippagePct float64 `yaml:"slippage_pct" json:"slippage_pct" csv:"slippage_pct" validate:"gte=0"`
	Fee         float64 `yaml:"fee" json:"fee" csv:"fee" validate:"gte=0"`
	FeePct      float64 `yaml:"fee_pct" json:"fee_pct" csv:"fee_pct" validate:"gte=0"`
	// Total is the gross currency spent for buys and the net currency
	// received for sells.
	Total    float64  `yaml:"total" json:"total" csv:"total" validate:"gte=0"`
	Reason   string   `yaml:"reason" json:"reason" csv:"reason"`
	Recreate Recreate `yaml:"recreate" json:"recreate"`
	// GroupID ties together all orders forming one continuous market
	// exposure. A fresh id is minted for each brand-new position;
	// pyramided orders reuse the open position's id.
	GroupID   string                     `yaml:"group_id" json:"group_id" csv:"group_id" validate:"required,uuid"`
	CreatedAt time.Time                  `yaml:"created_at" json:"created_at" csv:"created_at" validate:"required"`
	FilledAt  optional.Option[time.Time] `yaml:"filled_at" json:"filled_at"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}

// IsOpen reports whether the order is a pending stop.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// IsFilled reports whether the order has been executed.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// SignedUnits returns the unit size signed by side: buys positive, sells
// negative.
func (o *Order) SignedUnits() float64 {
	if o.Side == SideBuy {
		return o.Units
	}

	return -o.Units
}
