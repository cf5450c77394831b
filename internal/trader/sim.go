package trader

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opentradelab/turtle-backtest/internal/account"
	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/types"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// defaultCloseOutThresholdPct is how much of a group's entered size may
// remain unsold while the group still counts as closed. Absorbs the
// rounding dust left by fee arithmetic on closing sells.
const defaultCloseOutThresholdPct = 2.0

// unitTolerance forgives float noise when checking a sell against the units
// actually held.
const unitTolerance = 1e-8

// SimTrader executes trades against an in-memory, append-only order ledger.
// Orders are immutable once booked except for the open to filled and open to
// canceled stop transitions.
type SimTrader struct {
	account *account.Account
	fees    FeeSchedule
	logger  *logger.Logger

	market       types.MarketClass
	closeOutPct  float64
	strictChecks bool

	orders []types.Order
	index  map[string]int

	// lastOrderCache holds the most recent in-market entry order per
	// pair and position, invalidated on every state-changing call.
	lastOrderCache map[positionKey]optional.Option[types.Order]
}

// positionKey identifies one direction of one market.
type positionKey struct {
	pair     types.Pair
	position types.PositionType
}

// SimTraderOption configures a SimTrader.
type SimTraderOption func(*SimTrader)

// WithMarketClass sets the instrument class stamped on booked orders.
func WithMarketClass(market types.MarketClass) SimTraderOption {
	return func(s *SimTrader) {
		s.market = market
	}
}

// WithCloseOutThreshold overrides the percentage of entered size under which
// a group counts as closed.
func WithCloseOutThreshold(pct float64) SimTraderOption {
	return func(s *SimTrader) {
		s.closeOutPct = pct
	}
}

// WithStrictCacheChecks makes the trader verify the last-order cache against
// a fresh query after every mutating call. A mismatch is a programming
// defect and panics.
func WithStrictCacheChecks() SimTraderOption {
	return func(s *SimTrader) {
		s.strictChecks = true
	}
}

// NewSimTrader creates a trader posting cash movements to the given account.
func NewSimTrader(acct *account.Account, fees FeeSchedule, logger *logger.Logger, opts ...SimTraderOption) *SimTrader {
	trader := &SimTrader{
		account:        acct,
		fees:           fees,
		logger:         logger,
		market:         types.MarketCrypto,
		closeOutPct:    defaultCloseOutThresholdPct,
		index:          make(map[string]int),
		lastOrderCache: make(map[positionKey]optional.Option[types.Order]),
	}

	for _, opt := range opts {
		opt(trader)
	}

	return trader
}

// Trade implements Trader.
func (s *SimTrader) Trade(req TradeRequest) (types.Order, error) {
	if req.Amount <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidTrade, "trade amount must be positive, got %f", req.Amount)
	}

	if req.Price <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidTrade, "trade price must be positive, got %f", req.Price)
	}

	groupID := req.GroupID.TakeOr(uuid.New().String())

	market := req.Market
	if market == "" {
		market = s.market
	}

	order := types.Order{
		ID:        uuid.New().String(),
		AccountID: s.account.ID(),
		Pair:      req.Pair,
		Market:    market,
		Type:      req.Type,
		Position:  req.Position,
		Side:      req.Side,
		Price:     req.Price,
		Reason:    req.Reason,
		Recreate:  req.Recreate,
		GroupID:   groupID,
		CreatedAt: req.Time,
	}

	switch req.Side {
	case types.SideBuy:
		s.priceBuy(&order, req.Amount)
	case types.SideSell:
		if err := s.checkSellAgainstHeld(groupID, req); err != nil {
			return types.Order{}, err
		}

		s.priceSell(&order, req.Amount)
	default:
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidTrade, "unknown side %q", req.Side)
	}

	if req.Type == types.OrderTypeStop {
		order.Status = types.OrderStatusOpen
	} else {
		order.Status = types.OrderStatusFilled
		order.FilledAt = optional.Some(req.Time)
	}

	if err := order.Validate(); err != nil {
		return types.Order{}, err
	}

	s.index[order.ID] = len(s.orders)
	s.orders = append(s.orders, order)

	if order.IsFilled() {
		s.settle(order)
	}

	s.invalidateCache(order.Pair, order.Position)
	s.verifyCache()

	s.logger.Debug("Booked order",
		zap.String("id", order.ID),
		zap.String("pair", order.Pair.String()),
		zap.String("type", string(order.Type)),
		zap.String("position", string(order.Position)),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
		zap.Float64("units", order.Units),
		zap.String("group", order.GroupID),
	)

	return order, nil
}

// priceBuy prices a buy: the amount is currency, slippage and fee come off
// the top and the remainder buys units.
func (s *SimTrader) priceBuy(order *types.Order, amount float64) {
	amountD := decimal.NewFromFloat(amount)
	priceD := decimal.NewFromFloat(order.Price)

	slippagePct := s.fees.SlippagePct(order.Type)
	feePct := s.fees.FeePct()

	slippage := amountD.Mul(decimal.NewFromFloat(slippagePct))
	fee := amountD.Mul(decimal.NewFromFloat(feePct))
	net := amountD.Sub(slippage).Sub(fee)

	order.Units, _ = net.Div(priceD).Float64()
	order.Slippage, _ = slippage.Float64()
	order.SlippagePct = slippagePct
	order.Fee, _ = fee.Float64()
	order.FeePct = feePct
	order.Total = amount
}

// priceSell prices a sell: the amount is units, slippage and fee are charged
// in units and converted to currency at the order price for reporting.
func (s *SimTrader) priceSell(order *types.Order, amount float64) {
	amountD := decimal.NewFromFloat(amount)
	priceD := decimal.NewFromFloat(order.Price)

	slippagePct := s.fees.SlippagePct(order.Type)
	feePct := s.fees.FeePct()

	slippageUnits := amountD.Mul(decimal.NewFromFloat(slippagePct))
	feeUnits := amountD.Mul(decimal.NewFromFloat(feePct))
	netUnits := amountD.Sub(slippageUnits).Sub(feeUnits)

	order.Units = amount
	order.Slippage, _ = slippageUnits.Mul(priceD).Float64()
	order.SlippagePct = slippagePct
	order.Fee, _ = feeUnits.Mul(priceD).Float64()
	order.FeePct = feePct
	order.Total, _ = netUnits.Mul(priceD).Float64()
}

// checkSellAgainstHeld rejects sells larger than the units the group
// actually holds.
func (s *SimTrader) checkSellAgainstHeld(groupID string, req TradeRequest) error {
	bought, sold := s.groupUnits(groupID)
	held, _ := bought.Sub(sold).Float64()

	if req.Amount > held+unitTolerance {
		return errors.Newf(errors.ErrCodeOrderRefused,
			"cannot sell %f units from group %s holding %f", req.Amount, groupID, held)
	}

	return nil
}

// settle posts a filled order's cash movement to the account. Long buys pay
// cash and long sells receive it. Shorts flow the other way: entering a
// short sells borrowed units, so the entry receives the proceeds and the
// covering sell pays the buy-back cost.
func (s *SimTrader) settle(order types.Order) {
	reason := fmt.Sprintf("%s %s %f %s @ %f", order.Side, order.Position, order.Units, order.Pair.Asset, order.Price)

	outflow := order.Side == types.SideBuy
	if order.Position == types.PositionTypeShort {
		outflow = !outflow
	}

	if outflow {
		s.account.Debit(order.Total, reason, order.CreatedAt)
	} else {
		s.account.Credit(order.Total, reason, order.CreatedAt)
	}
}

// GetUnitsForMarket implements Trader.
func (s *SimTrader) GetUnitsForMarket(pair types.Pair) int {
	return s.GetUnitsForPosition(pair, types.PositionTypeLong) +
		s.GetUnitsForPosition(pair, types.PositionTypeShort)
}

// GetUnitsForPosition implements Trader.
func (s *SimTrader) GetUnitsForPosition(pair types.Pair, position types.PositionType) int {
	return len(s.openEntryOrders(pair, position))
}

// GetOpenOrdersForPosition implements Trader.
func (s *SimTrader) GetOpenOrdersForPosition(pair types.Pair, position types.PositionType) []types.Order {
	return s.openEntryOrders(pair, position)
}

// GetFirstOpenOrderForPosition implements Trader.
func (s *SimTrader) GetFirstOpenOrderForPosition(pair types.Pair, position types.PositionType) optional.Option[types.Order] {
	open := s.openEntryOrders(pair, position)
	if len(open) == 0 {
		return optional.None[types.Order]()
	}

	return optional.Some(open[0])
}

// GetLastOpenOrderForPosition implements Trader.
func (s *SimTrader) GetLastOpenOrderForPosition(pair types.Pair, position types.PositionType) optional.Option[types.Order] {
	key := positionKey{pair: pair, position: position}
	if cached, ok := s.lastOrderCache[key]; ok {
		return cached
	}

	last := s.lastOpenOrder(pair, position)
	s.lastOrderCache[key] = last

	return last
}

// GetOpenStops implements Trader. When several stops are open for the same
// direction the most recently booked one wins.
func (s *SimTrader) GetOpenStops(pair types.Pair) OpenStops {
	stops := OpenStops{
		Long:  optional.None[types.Order](),
		Short: optional.None[types.Order](),
	}

	for _, order := range s.orders {
		if order.Pair != pair || order.Type != types.OrderTypeStop || !order.IsOpen() {
			continue
		}

		if order.Position == types.PositionTypeLong {
			stops.Long = optional.Some(order)
		} else {
			stops.Short = optional.Some(order)
		}
	}

	return stops
}

// FillOrder implements Trader.
func (s *SimTrader) FillOrder(orderID string, candle types.Candle) (types.Order, error) {
	pos, ok := s.index[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	order := &s.orders[pos]
	if !order.IsOpen() {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotOpen, "order %s is %s, not open", orderID, order.Status)
	}

	if order.Side == types.SideSell {
		bought, sold := s.groupUnits(order.GroupID)
		held, _ := bought.Sub(sold).Float64()

		if order.Units > held+unitTolerance {
			return types.Order{}, errors.Newf(errors.ErrCodeOrderRefused,
				"stop %s would sell %f units from group %s holding %f", orderID, order.Units, order.GroupID, held)
		}
	}

	order.Status = types.OrderStatusFilled
	order.FilledAt = optional.Some(candle.Time)

	s.settle(*order)
	s.invalidateCache(order.Pair, order.Position)
	s.verifyCache()

	s.logger.Debug("Filled stop order",
		zap.String("id", order.ID),
		zap.String("pair", order.Pair.String()),
		zap.Float64("trigger", order.Price),
		zap.Time("at", candle.Time),
	)

	return *order, nil
}

// CancelStopsByGroup implements Trader.
func (s *SimTrader) CancelStopsByGroup(groupID string) {
	for i := range s.orders {
		order := &s.orders[i]
		if order.GroupID != groupID || order.Type != types.OrderTypeStop || !order.IsOpen() {
			continue
		}

		order.Status = types.OrderStatusCanceled
		s.invalidateCache(order.Pair, order.Position)
	}

	s.verifyCache()
}

// Orders implements Trader.
func (s *SimTrader) Orders() []types.Order {
	orders := make([]types.Order, len(s.orders))
	copy(orders, s.orders)

	return orders
}

// openEntryOrders returns the filled buy orders of in-market groups for a
// pair and direction. Ledger order is booking order, which is chronological
// for a sequential walk.
func (s *SimTrader) openEntryOrders(pair types.Pair, position types.PositionType) []types.Order {
	inMarket := make(map[string]bool)

	var open []types.Order

	for _, order := range s.orders {
		if order.Pair != pair || order.Position != position {
			continue
		}

		if order.Side != types.SideBuy || !order.IsFilled() {
			continue
		}

		verdict, ok := inMarket[order.GroupID]
		if !ok {
			verdict = s.groupInMarket(order.GroupID)
			inMarket[order.GroupID] = verdict
		}

		if verdict {
			open = append(open, order)
		}
	}

	return open
}

func (s *SimTrader) lastOpenOrder(pair types.Pair, position types.PositionType) optional.Option[types.Order] {
	open := s.openEntryOrders(pair, position)
	if len(open) == 0 {
		return optional.None[types.Order]()
	}

	return optional.Some(open[len(open)-1])
}

// groupUnits sums the filled bought and sold units of a group.
func (s *SimTrader) groupUnits(groupID string) (bought, sold decimal.Decimal) {
	for _, order := range s.orders {
		if order.GroupID != groupID || !order.IsFilled() {
			continue
		}

		units := decimal.NewFromFloat(order.Units)
		if order.Side == types.SideBuy {
			bought = bought.Add(units)
		} else {
			sold = sold.Add(units)
		}
	}

	return bought, sold
}

// groupInMarket reports whether a group still holds a meaningful share of
// its entered size. The threshold absorbs rounding dust from closing sells.
func (s *SimTrader) groupInMarket(groupID string) bool {
	bought, sold := s.groupUnits(groupID)
	if bought.IsZero() {
		return false
	}

	percentInMarket := bought.Sub(sold).Div(bought).Mul(decimal.NewFromInt(100))

	return percentInMarket.GreaterThan(decimal.NewFromFloat(s.closeOutPct))
}

func (s *SimTrader) invalidateCache(pair types.Pair, position types.PositionType) {
	delete(s.lastOrderCache, positionKey{pair: pair, position: position})
}

// verifyCache compares every cached last-order entry against a fresh query.
// Only active with strict checks on; a mismatch means an invalidation was
// missed somewhere and is unrecoverable.
func (s *SimTrader) verifyCache() {
	if !s.strictChecks {
		return
	}

	for key, cached := range s.lastOrderCache {
		fresh := s.lastOpenOrder(key.pair, key.position)
		if !sameOrderRef(cached, fresh) {
			panic(errors.Newf(errors.ErrCodeStaleCache,
				"stale last-order cache for %s %s", key.pair, key.position))
		}
	}
}

func sameOrderRef(a, b optional.Option[types.Order]) bool {
	if a.IsNone() != b.IsNone() {
		return false
	}

	if a.IsNone() {
		return true
	}

	orderA := a.Unwrap()
	orderB := b.Unwrap()

	return orderA.ID == orderB.ID && orderA.Status == orderB.Status
}
