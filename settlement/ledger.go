package settlement

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/models"
)

// account wraps a models.Account with its own lock. Settlement for one
// account is serialized on this lock; a trade touches two accounts and
// always locks them in ascending shareholder-id order.
type account struct {
	mu    sync.Mutex
	state *models.Account
}

// Ledger is the account registry and the only mutator of cash and holdings.
// It implements engine.AdmissionChecker and engine.TradeApplier.
type Ledger struct {
	accounts map[string]*account
	mu       sync.RWMutex
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
	}
}

// OpenAccount onboards a participant with an opening cash balance
func (l *Ledger) OpenAccount(acct *models.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[acct.ShareholderID]; exists {
		return fmt.Errorf("account %s already exists", acct.ShareholderID)
	}
	if acct.Cash.IsNegative() {
		return fmt.Errorf("opening cash balance may not be negative")
	}

	l.accounts[acct.ShareholderID] = &account{state: acct}
	return nil
}

// GetAccount returns a point-in-time copy of an account
func (l *Ledger) GetAccount(shareholderID string) (*models.Account, error) {
	acct, err := l.lookup(shareholderID)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.state.Clone(), nil
}

// Accounts returns point-in-time copies of all accounts, ordered by id
func (l *Ledger) Accounts() []*models.Account {
	l.mu.RLock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	sort.Strings(ids)

	accounts := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		if acct, err := l.GetAccount(id); err == nil {
			accounts = append(accounts, acct)
		}
	}
	return accounts
}

// GrantShares credits shares outside of trading, used when a company lists
// and its founder receives the initial float.
func (l *Ledger) GrantShares(shareholderID, symbol string, quantity int64) error {
	acct, err := l.lookup(shareholderID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.state.Holdings[symbol] += quantity
	return nil
}

// CheckBuy verifies the submitter's cash covers the order notional.
// Part of order admission; settlement re-validates defensively.
func (l *Ledger) CheckBuy(shareholderID string, notional decimal.Decimal) error {
	acct, err := l.lookup(shareholderID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.state.CanAfford(notional) {
		return fmt.Errorf("%w: need %s, have %s", engine.ErrInsufficientFunds, notional, acct.state.Cash)
	}
	return nil
}

// CheckSell verifies the submitter holds enough shares to deliver
func (l *Ledger) CheckSell(shareholderID, symbol string, quantity int64) error {
	acct, err := l.lookup(shareholderID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.state.Position(symbol) < quantity {
		return fmt.Errorf("%w: need %d %s, have %d", engine.ErrInsufficientShares, quantity, symbol, acct.state.Position(symbol))
	}
	return nil
}

// Apply settles a trade atomically: buyer cash down and holding up by the
// trade quantity, seller the reverse, both for notional = price * quantity.
// Both accounts are locked in ascending shareholder-id order so two trades
// touching the same pair in opposite directions cannot deadlock. The
// re-validation here should never fail after admission checks; if it does,
// the trade is not applied and the caller must escalate.
func (l *Ledger) Apply(trade *engine.Trade) error {
	buyer, err := l.lookup(trade.BuyerID)
	if err != nil {
		return err
	}
	seller, err := l.lookup(trade.SellerID)
	if err != nil {
		return err
	}

	notional := trade.Notional()

	// Self-trade: one account, one lock, net-zero transfer.
	if trade.BuyerID == trade.SellerID {
		buyer.mu.Lock()
		defer buyer.mu.Unlock()
		return nil
	}

	first, second := buyer, seller
	if trade.SellerID < trade.BuyerID {
		first, second = seller, buyer
	}

	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if !buyer.state.CanAfford(notional) {
		return fmt.Errorf("%w: buyer %s cannot cover %s", engine.ErrInsufficientFunds, trade.BuyerID, notional)
	}
	if seller.state.Position(trade.Symbol) < trade.Quantity {
		return fmt.Errorf("%w: seller %s cannot deliver %d %s", engine.ErrInsufficientShares, trade.SellerID, trade.Quantity, trade.Symbol)
	}

	buyer.state.Cash = buyer.state.Cash.Sub(notional)
	seller.state.Cash = seller.state.Cash.Add(notional)
	buyer.state.Holdings[trade.Symbol] += trade.Quantity
	seller.state.Holdings[trade.Symbol] -= trade.Quantity
	if seller.state.Holdings[trade.Symbol] == 0 {
		delete(seller.state.Holdings, trade.Symbol)
	}

	return nil
}

// TotalCash sums cash across all accounts; settlement transfers value, it
// never creates or destroys it.
func (l *Ledger) TotalCash() decimal.Decimal {
	total := decimal.Zero
	for _, acct := range l.Accounts() {
		total = total.Add(acct.Cash)
	}
	return total
}

// TotalShares sums holdings of one symbol across all accounts
func (l *Ledger) TotalShares(symbol string) int64 {
	var total int64
	for _, acct := range l.Accounts() {
		total += acct.Position(symbol)
	}
	return total
}

func (l *Ledger) lookup(shareholderID string) (*account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, exists := l.accounts[shareholderID]
	if !exists {
		return nil, fmt.Errorf("unknown shareholder: %s", shareholderID)
	}
	return acct, nil
}
