package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShareholderType categorizes market participants
type ShareholderType string

const (
	ShareholderTypeIndividual  ShareholderType = "individual"
	ShareholderTypeMutualFund  ShareholderType = "mutual_fund"
	ShareholderTypePensionFund ShareholderType = "pension_fund"
	ShareholderTypeETF         ShareholderType = "etf"
	ShareholderTypeHedgeFund   ShareholderType = "hedge_fund"
	ShareholderTypeBank        ShareholderType = "bank"
)

// Account is a market participant's cash balance and per-symbol holdings.
// All mutation goes through the settlement ledger; the matching engine
// never touches accounts directly.
type Account struct {
	ShareholderID string           `json:"shareholder_id" db:"shareholder_id"`
	Name          string           `json:"name" db:"name"`
	Type          ShareholderType  `json:"type" db:"type"`
	Cash          decimal.Decimal  `json:"cash" db:"cash"`
	Holdings      map[string]int64 `json:"holdings"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// NewAccount creates an account with the given opening cash balance
func NewAccount(shareholderID, name string, shareholderType ShareholderType, initialCash decimal.Decimal) *Account {
	return &Account{
		ShareholderID: shareholderID,
		Name:          name,
		Type:          shareholderType,
		Cash:          initialCash,
		Holdings:      make(map[string]int64),
		CreatedAt:     time.Now(),
	}
}

// Position returns the number of shares held for a symbol
func (a *Account) Position(symbol string) int64 {
	return a.Holdings[symbol]
}

// CanAfford reports whether the account's cash covers the given notional
func (a *Account) CanAfford(notional decimal.Decimal) bool {
	return a.Cash.GreaterThanOrEqual(notional)
}

// Clone returns a deep copy of the account, used for snapshot reads
func (a *Account) Clone() *Account {
	holdings := make(map[string]int64, len(a.Holdings))
	for symbol, shares := range a.Holdings {
		holdings[symbol] = shares
	}
	return &Account{
		ShareholderID: a.ShareholderID,
		Name:          a.Name,
		Type:          a.Type,
		Cash:          a.Cash,
		Holdings:      holdings,
		CreatedAt:     a.CreatedAt,
	}
}
