package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/metrics"
	"github.com/marketsim/exchange/models"
)

// AdmissionChecker validates affordability before an order is admitted to
// its book. Implemented by the settlement ledger.
type AdmissionChecker interface {
	CheckBuy(shareholderID string, notional decimal.Decimal) error
	CheckSell(shareholderID, symbol string, quantity int64) error
}

// TradeApplier settles an executed trade against both counterparties.
type TradeApplier interface {
	Apply(trade *Trade) error
}

// Journal durably records trades and order state. Market calls it before a
// submit or cancel returns to its caller, so persistence is synchronous
// with respect to the submitter.
type Journal interface {
	RecordTrade(ctx context.Context, trade *Trade) error
	RecordOrder(ctx context.Context, order *models.Order) error
}

// Market coordinates one matching engine per listed company. Engines run
// independently: operations on different symbols execute fully in parallel,
// while each engine serializes its own submissions internally.
type Market struct {
	companies map[string]*models.Company
	engines   map[string]*MatchingEngine
	// orderRoute maps every admitted order to its symbol so cancels and
	// lookups need no symbol from the caller.
	orderRoute map[uuid.UUID]string
	mu         sync.RWMutex

	admission AdmissionChecker
	settler   TradeApplier
	journal   Journal

	ctx context.Context
}

// NewMarket creates an empty market. admission, settler and journal may be
// nil, which disables the corresponding collaborator.
func NewMarket(ctx context.Context, admission AdmissionChecker, settler TradeApplier, journal Journal) *Market {
	return &Market{
		companies:  make(map[string]*models.Company),
		engines:    make(map[string]*MatchingEngine),
		orderRoute: make(map[uuid.UUID]string),
		admission:  admission,
		settler:    settler,
		journal:    journal,
		ctx:        ctx,
	}
}

// ListCompany registers a company and starts a matching engine for its
// symbol. The listing price seeds the engine's last-price reference.
func (m *Market) ListCompany(company *models.Company) (*MatchingEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.companies[company.Symbol]; exists {
		return nil, fmt.Errorf("company %s is already listed", company.Symbol)
	}

	me := NewMatchingEngine(company.Symbol, company.StockPrice)
	if err := me.Start(m.ctx); err != nil {
		return nil, err
	}

	m.companies[company.Symbol] = company
	m.engines[company.Symbol] = me

	return me, nil
}

// GetCompany returns a listed company by symbol
func (m *Market) GetCompany(symbol string) (*models.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	company, exists := m.companies[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}

	snapshot := *company
	return &snapshot, nil
}

// Companies returns all listed companies
func (m *Market) Companies() []*models.Company {
	m.mu.RLock()
	defer m.mu.RUnlock()

	companies := make([]*models.Company, 0, len(m.companies))
	for _, company := range m.companies {
		snapshot := *company
		companies = append(companies, &snapshot)
	}
	return companies
}

// Engine returns the matching engine for a symbol
func (m *Market) Engine(symbol string) (*MatchingEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	me, exists := m.engines[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return me, nil
}

// Submit admits an order, runs it through its instrument's matching engine
// and settles and journals the resulting trades before returning. The
// returned trades are in generation order.
func (m *Market) Submit(ctx context.Context, order *models.Order) ([]*Trade, error) {
	me, err := m.Engine(order.Symbol)
	if err != nil {
		return nil, err
	}

	if err := m.checkAdmission(me, order); err != nil {
		order.Reject()
		return nil, err
	}

	m.mu.Lock()
	m.orderRoute[order.ID] = order.Symbol
	m.mu.Unlock()

	trades, err := me.Submit(order)
	if err != nil {
		return trades, err
	}

	for _, trade := range trades {
		m.settleTrade(trade)
		if m.journal != nil {
			if jerr := m.journal.RecordTrade(ctx, trade); jerr != nil {
				logging.LogDBError("record_trade", "trades", jerr, map[string]interface{}{
					"trade_id": trade.TradeID,
					"symbol":   trade.Symbol,
				})
			}
		}
	}

	if len(trades) > 0 {
		m.updateStockPrice(order.Symbol, trades[len(trades)-1].Price)
	}

	if m.journal != nil {
		if jerr := m.journal.RecordOrder(ctx, order); jerr != nil {
			logging.LogDBError("record_order", "orders", jerr, map[string]interface{}{
				"order_id": order.ID,
			})
		}
	}

	return trades, nil
}

// Cancel routes a cancel to the engine holding the order
func (m *Market) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	m.mu.RLock()
	symbol, routed := m.orderRoute[orderID]
	m.mu.RUnlock()

	if !routed {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	me, err := m.Engine(symbol)
	if err != nil {
		return nil, err
	}

	order, err := me.Cancel(orderID)
	if err != nil {
		return order, err
	}

	if m.journal != nil {
		if jerr := m.journal.RecordOrder(ctx, order); jerr != nil {
			logging.LogDBError("record_order", "orders", jerr, map[string]interface{}{
				"order_id": order.ID,
			})
		}
	}

	return order, nil
}

// GetOrder returns any admitted order by ID
func (m *Market) GetOrder(orderID uuid.UUID) (*models.Order, error) {
	m.mu.RLock()
	symbol, routed := m.orderRoute[orderID]
	m.mu.RUnlock()

	if !routed {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	me, err := m.Engine(symbol)
	if err != nil {
		return nil, err
	}
	return me.GetOrder(orderID)
}

// checkAdmission enforces affordability before the order may rest or match.
// A buy is checked against its notional: the limit price for limit and
// stop-limit orders, the stop trigger price for stop-market orders, the
// best opposing quote (falling back to the last trade price) for market
// orders. A sell is checked against the submitter's holding.
func (m *Market) checkAdmission(me *MatchingEngine, order *models.Order) error {
	if m.admission == nil {
		return nil
	}

	if order.Side == models.OrderSideSell {
		return m.admission.CheckSell(order.ShareholderID, order.Symbol, order.Quantity)
	}

	reference := order.Price
	switch order.Type {
	case models.OrderTypeMarket:
		if ask, ok := me.GetOrderBook().BestAsk(); ok {
			reference = ask.Price
		} else {
			reference = me.LastPrice()
		}
	case models.OrderTypeStop:
		// A stop-market order carries no limit price; its trigger is the
		// only price it is known to trade near.
		if reference.LessThanOrEqual(decimal.Zero) {
			reference = order.StopPrice
		}
	}

	notional := reference.Mul(decimal.NewFromInt(order.Quantity))
	return m.admission.CheckBuy(order.ShareholderID, notional)
}

// settleTrade applies a trade's cash and share transfers. A settlement
// failure here means admission-time checks were violated by an internal
// fault: the trade is discarded and escalated, never silently applied.
func (m *Market) settleTrade(trade *Trade) {
	if m.settler == nil {
		return
	}

	if err := m.settler.Apply(trade); err != nil {
		logging.LogSettlementFault(trade.TradeID.String(), trade.Symbol, trade.BuyerID, trade.SellerID, err)
		metrics.RecordSettlementFault(trade.Symbol)
	}
}

// updateStockPrice moves the company's quoted price to the last trade price
func (m *Market) updateStockPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if company, exists := m.companies[symbol]; exists {
		company.StockPrice = price
	}
}

// Shutdown stops every engine, draining pending commands
func (m *Market) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, me := range m.engines {
		_ = me.Stop()
	}
}
