package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sector classifies a listed company
type Sector string

const (
	SectorEnergy        Sector = "Energy"
	SectorMaterials     Sector = "Materials"
	SectorIndustrials   Sector = "Industrials"
	SectorConsumer      Sector = "Consumer"
	SectorHealthCare    Sector = "Health Care"
	SectorFinancials    Sector = "Financials"
	SectorTechnology    Sector = "Information Technology"
	SectorCommunication Sector = "Communication Services"
	SectorUtilities     Sector = "Utilities"
	SectorRealEstate    Sector = "Real Estate"
)

// Company is a listed instrument. Identity is the ticker symbol; the symbol
// never changes after listing. StockPrice tracks the last trade price and is
// updated by the market data feed, not by the matching engine.
type Company struct {
	Symbol            string          `json:"symbol" db:"symbol"`
	Name              string          `json:"name" db:"name"`
	Sector            Sector          `json:"sector" db:"sector"`
	StockPrice        decimal.Decimal `json:"stock_price" db:"stock_price"`
	OutstandingShares int64           `json:"outstanding_shares" db:"outstanding_shares"`
	ListedAt          time.Time       `json:"listed_at" db:"listed_at"`
}

// NewCompany lists a company at an initial stock price with an initial float
func NewCompany(symbol, name string, sector Sector, initialPrice decimal.Decimal, outstandingShares int64) *Company {
	return &Company{
		Symbol:            symbol,
		Name:              name,
		Sector:            sector,
		StockPrice:        initialPrice,
		OutstandingShares: outstandingShares,
		ListedAt:          time.Now(),
	}
}

// MarketCap returns stock price times outstanding shares
func (c *Company) MarketCap() decimal.Decimal {
	return c.StockPrice.Mul(decimal.NewFromInt(c.OutstandingShares))
}
