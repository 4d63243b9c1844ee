package engine_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/models"
	"github.com/marketsim/exchange/settlement"
)

// newTestMarket wires a market to a live settlement ledger: admission checks
// and trade settlement both run against real accounts.
func newTestMarket(t *testing.T) (*engine.Market, *settlement.Ledger) {
	t.Helper()

	ledger := settlement.NewLedger()
	require.NoError(t, ledger.OpenAccount(
		models.NewAccount("founder", "Founder", models.ShareholderTypeIndividual, decimal.NewFromInt(0))))
	require.NoError(t, ledger.OpenAccount(
		models.NewAccount("alice", "Alice", models.ShareholderTypeIndividual, decimal.NewFromInt(100000))))

	market := engine.NewMarket(context.Background(), ledger, ledger, nil)
	t.Cleanup(market.Shutdown)

	company := models.NewCompany("ACME", "Acme Corp", models.SectorIndustrials,
		decimal.NewFromInt(100), 1000)
	_, err := market.ListCompany(company)
	require.NoError(t, err)
	require.NoError(t, ledger.GrantShares("founder", "ACME", 1000))

	return market, ledger
}

func limitOrder(shareholderID string, side models.OrderSide, price string, quantity int64) *models.Order {
	return models.NewOrder(shareholderID, "ACME", side, models.OrderTypeLimit,
		decimal.RequireFromString(price), quantity)
}

func TestMarket_ListCompany(t *testing.T) {
	market, _ := newTestMarket(t)

	company, err := market.GetCompany("ACME")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", company.Name)

	// Double listing is rejected.
	_, err = market.ListCompany(models.NewCompany("ACME", "Imposter", models.SectorFinancials,
		decimal.NewFromInt(1), 1))
	assert.Error(t, err)

	_, err = market.GetCompany("GLOBX")
	assert.ErrorIs(t, err, engine.ErrUnknownInstrument)
}

func TestMarket_SubmitSettlesTrades(t *testing.T) {
	market, ledger := newTestMarket(t)
	ctx := context.Background()

	_, err := market.Submit(ctx, limitOrder("founder", models.OrderSideSell, "100", 50))
	require.NoError(t, err)

	trades, err := market.Submit(ctx, limitOrder("alice", models.OrderSideBuy, "100", 50))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	alice, _ := ledger.GetAccount("alice")
	founder, _ := ledger.GetAccount("founder")

	assert.True(t, alice.Cash.Equal(decimal.NewFromInt(95000)), "buyer cash = %s", alice.Cash)
	assert.Equal(t, int64(50), alice.Position("ACME"))
	assert.True(t, founder.Cash.Equal(decimal.NewFromInt(5000)), "seller cash = %s", founder.Cash)
	assert.Equal(t, int64(950), founder.Position("ACME"))

	// The company's quoted price follows the last trade.
	company, _ := market.GetCompany("ACME")
	assert.Equal(t, "100", company.StockPrice.String())
}

func TestMarket_AdmissionRejections(t *testing.T) {
	market, ledger := newTestMarket(t)
	ctx := context.Background()

	// Buy beyond available cash.
	_, err := market.Submit(ctx, limitOrder("alice", models.OrderSideBuy, "1000", 101))
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)

	// Sell without holdings.
	_, err = market.Submit(ctx, limitOrder("alice", models.OrderSideSell, "100", 1))
	assert.ErrorIs(t, err, engine.ErrInsufficientShares)

	// Unknown symbol.
	unknown := models.NewOrder("alice", "GLOBX", models.OrderSideBuy, models.OrderTypeLimit,
		decimal.NewFromInt(1), 1)
	_, err = market.Submit(ctx, unknown)
	assert.ErrorIs(t, err, engine.ErrUnknownInstrument)

	// A rejected order leaves accounts untouched.
	alice, _ := ledger.GetAccount("alice")
	assert.True(t, alice.Cash.Equal(decimal.NewFromInt(100000)))
}

func TestMarket_MarketOrderAdmissionUsesBestAsk(t *testing.T) {
	market, _ := newTestMarket(t)
	ctx := context.Background()

	_, err := market.Submit(ctx, limitOrder("founder", models.OrderSideSell, "100", 100))
	require.NoError(t, err)

	// Alice has 100000: at the 100 best ask she can afford 1000 shares, so a
	// 900-share market order passes admission even with no limit price.
	order := models.NewOrder("alice", "ACME", models.OrderSideBuy, models.OrderTypeMarket,
		decimal.Zero, 900)
	trades, err := market.Submit(ctx, order)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(100), trades[0].Quantity)
	assert.Equal(t, models.OrderStatusCancelled, order.Status, "unfilled remainder cancelled")

	// 1001 shares at the best ask exceeds her remaining cash.
	tooBig := models.NewOrder("alice", "ACME", models.OrderSideBuy, models.OrderTypeMarket,
		decimal.Zero, 1001)
	_, err = market.Submit(ctx, tooBig)
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)
}

func TestMarket_StopOrderAdmission(t *testing.T) {
	market, ledger := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, ledger.OpenAccount(
		models.NewAccount("broke", "Broke", models.ShareholderTypeIndividual, decimal.Zero)))

	// A stop-market buy is checked against its trigger price, so a buyer
	// with no cash cannot park one.
	stop := models.NewStopOrder("broke", "ACME", models.OrderSideBuy,
		decimal.NewFromInt(105), decimal.Zero, 10)
	_, err := market.Submit(ctx, stop)
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)
	assert.Equal(t, models.OrderStatusRejected, stop.Status)

	// A stop-limit buy is checked against its limit price.
	stopLimit := models.NewStopOrder("alice", "ACME", models.OrderSideBuy,
		decimal.NewFromInt(105), decimal.NewFromInt(110), 10)
	_, err = market.Submit(ctx, stopLimit)
	require.NoError(t, err)

	// Beyond the limit notional it is rejected like any other buy.
	tooBig := models.NewStopOrder("alice", "ACME", models.OrderSideBuy,
		decimal.NewFromInt(105), decimal.NewFromInt(110), 1000)
	_, err = market.Submit(ctx, tooBig)
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)
}

func TestMarket_CashlessStopBuyNeverDrainsSeller(t *testing.T) {
	market, ledger := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, ledger.OpenAccount(
		models.NewAccount("broke", "Broke", models.ShareholderTypeIndividual, decimal.Zero)))

	stop := models.NewStopOrder("broke", "ACME", models.OrderSideBuy,
		decimal.NewFromInt(105), decimal.Zero, 10)
	_, err := market.Submit(ctx, stop)
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)

	// Trade through the would-be trigger: nothing parked may fire.
	_, err = market.Submit(ctx, limitOrder("founder", models.OrderSideSell, "105", 5))
	require.NoError(t, err)
	trades, err := market.Submit(ctx, limitOrder("alice", models.OrderSideBuy, "105", 5))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	founder, _ := ledger.GetAccount("founder")
	assert.Equal(t, int64(995), founder.Position("ACME"))
	assert.True(t, founder.Cash.Equal(decimal.NewFromInt(525)), "seller cash = %s", founder.Cash)

	broke, _ := ledger.GetAccount("broke")
	assert.Equal(t, int64(0), broke.Position("ACME"))
}

func TestMarket_CancelRoutesWithoutSymbol(t *testing.T) {
	market, _ := newTestMarket(t)
	ctx := context.Background()

	order := limitOrder("alice", models.OrderSideBuy, "90", 10)
	_, err := market.Submit(ctx, order)
	require.NoError(t, err)

	cancelled, err := market.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	_, err = market.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestMarket_GetOrder(t *testing.T) {
	market, _ := newTestMarket(t)
	ctx := context.Background()

	order := limitOrder("alice", models.OrderSideBuy, "90", 10)
	_, err := market.Submit(ctx, order)
	require.NoError(t, err)

	got, err := market.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = market.GetOrder(uuid.New())
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestMarket_SelfTradeSettlesAsNoOp(t *testing.T) {
	market, ledger := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, ledger.GrantShares("alice", "ACME", 100))
	cashBefore := ledger.TotalCash()

	_, err := market.Submit(ctx, limitOrder("alice", models.OrderSideSell, "100", 10))
	require.NoError(t, err)
	trades, err := market.Submit(ctx, limitOrder("alice", models.OrderSideBuy, "100", 10))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	alice, _ := ledger.GetAccount("alice")
	assert.Equal(t, int64(100), alice.Position("ACME"), "self-trade must not move shares")
	assert.True(t, ledger.TotalCash().Equal(cashBefore), "self-trade must not move cash")
}
