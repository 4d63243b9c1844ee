package settlement

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l := NewLedger()
	for _, acct := range []*models.Account{
		models.NewAccount("alice", "Alice", models.ShareholderTypeIndividual, decimal.NewFromInt(10000)),
		models.NewAccount("bob", "Bob", models.ShareholderTypeIndividual, decimal.NewFromInt(5000)),
	} {
		if err := l.OpenAccount(acct); err != nil {
			t.Fatalf("OpenAccount: %v", err)
		}
	}
	if err := l.GrantShares("bob", "ACME", 100); err != nil {
		t.Fatalf("GrantShares: %v", err)
	}
	return l
}

func testTrade(buyerID, sellerID, price string, quantity int64) *engine.Trade {
	return &engine.Trade{
		TradeID:  uuid.New(),
		Symbol:   "ACME",
		BuyerID:  buyerID,
		SellerID: sellerID,
		Price:    decimal.RequireFromString(price),
		Quantity: quantity,
	}
}

func TestLedger_OpenAccount(t *testing.T) {
	l := newTestLedger(t)

	dup := models.NewAccount("alice", "Alice Again", models.ShareholderTypeIndividual, decimal.NewFromInt(1))
	if err := l.OpenAccount(dup); err == nil {
		t.Error("expected error opening duplicate account")
	}

	negative := models.NewAccount("carol", "Carol", models.ShareholderTypeIndividual, decimal.NewFromInt(-1))
	if err := l.OpenAccount(negative); err == nil {
		t.Error("expected error opening account with negative cash")
	}

	if _, err := l.GetAccount("nobody"); err == nil {
		t.Error("expected error for unknown shareholder")
	}
}

func TestLedger_GetAccountReturnsCopy(t *testing.T) {
	l := newTestLedger(t)

	acct, err := l.GetAccount("alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	acct.Cash = decimal.NewFromInt(999999)
	acct.Holdings["ACME"] = 42

	fresh, _ := l.GetAccount("alice")
	if !fresh.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Error("mutating a returned account must not affect the ledger")
	}
	if fresh.Position("ACME") != 0 {
		t.Error("mutating returned holdings must not affect the ledger")
	}
}

func TestLedger_AdmissionChecks(t *testing.T) {
	l := newTestLedger(t)

	if err := l.CheckBuy("alice", decimal.NewFromInt(10000)); err != nil {
		t.Errorf("CheckBuy at exact balance: %v", err)
	}
	if err := l.CheckBuy("alice", decimal.NewFromInt(10001)); !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Errorf("CheckBuy over balance = %v, want ErrInsufficientFunds", err)
	}

	if err := l.CheckSell("bob", "ACME", 100); err != nil {
		t.Errorf("CheckSell at exact holding: %v", err)
	}
	if err := l.CheckSell("bob", "ACME", 101); !errors.Is(err, engine.ErrInsufficientShares) {
		t.Errorf("CheckSell over holding = %v, want ErrInsufficientShares", err)
	}
	if err := l.CheckSell("alice", "ACME", 1); !errors.Is(err, engine.ErrInsufficientShares) {
		t.Errorf("CheckSell with no holding = %v, want ErrInsufficientShares", err)
	}
}

func TestLedger_ApplyTransfersValue(t *testing.T) {
	l := newTestLedger(t)

	// alice buys 10 ACME from bob at 150.
	if err := l.Apply(testTrade("alice", "bob", "150", 10)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	alice, _ := l.GetAccount("alice")
	bob, _ := l.GetAccount("bob")

	if !alice.Cash.Equal(decimal.NewFromInt(8500)) {
		t.Errorf("buyer cash = %s, want 8500", alice.Cash)
	}
	if alice.Position("ACME") != 10 {
		t.Errorf("buyer holding = %d, want 10", alice.Position("ACME"))
	}
	if !bob.Cash.Equal(decimal.NewFromInt(6500)) {
		t.Errorf("seller cash = %s, want 6500", bob.Cash)
	}
	if bob.Position("ACME") != 90 {
		t.Errorf("seller holding = %d, want 90", bob.Position("ACME"))
	}
}

func TestLedger_ApplyRevalidates(t *testing.T) {
	l := newTestLedger(t)

	// Buyer cannot cover the notional.
	err := l.Apply(testTrade("alice", "bob", "150", 100))
	if !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Errorf("Apply beyond buyer cash = %v, want ErrInsufficientFunds", err)
	}

	// Seller cannot deliver.
	err = l.Apply(testTrade("alice", "bob", "1", 101))
	if !errors.Is(err, engine.ErrInsufficientShares) {
		t.Errorf("Apply beyond seller holding = %v, want ErrInsufficientShares", err)
	}

	// A failed settlement must leave both accounts untouched.
	alice, _ := l.GetAccount("alice")
	bob, _ := l.GetAccount("bob")
	if !alice.Cash.Equal(decimal.NewFromInt(10000)) || bob.Position("ACME") != 100 {
		t.Error("failed settlement modified account state")
	}
}

func TestLedger_SelfTradeIsNetZero(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Apply(testTrade("bob", "bob", "150", 10)); err != nil {
		t.Fatalf("Apply self-trade: %v", err)
	}

	bob, _ := l.GetAccount("bob")
	if !bob.Cash.Equal(decimal.NewFromInt(5000)) || bob.Position("ACME") != 100 {
		t.Error("self-trade must not change cash or holdings")
	}
}

func TestLedger_Conservation(t *testing.T) {
	l := newTestLedger(t)

	cashBefore := l.TotalCash()
	sharesBefore := l.TotalShares("ACME")

	for i := 0; i < 5; i++ {
		if err := l.Apply(testTrade("alice", "bob", "100", 5)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	if err := l.Apply(testTrade("bob", "alice", "120", 10)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !l.TotalCash().Equal(cashBefore) {
		t.Errorf("total cash changed: %s -> %s", cashBefore, l.TotalCash())
	}
	if l.TotalShares("ACME") != sharesBefore {
		t.Errorf("total shares changed: %d -> %d", sharesBefore, l.TotalShares("ACME"))
	}
}

// Two goroutines settle trades between the same pair in opposite directions.
// The ascending-id lock order must prevent deadlock, and totals must hold.
func TestLedger_ConcurrentApply(t *testing.T) {
	l := newTestLedger(t)
	if err := l.GrantShares("alice", "ACME", 1000); err != nil {
		t.Fatalf("GrantShares: %v", err)
	}

	cashBefore := l.TotalCash()
	sharesBefore := l.TotalShares("ACME")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		buyer, seller := "alice", "bob"
		if i == 1 {
			buyer, seller = "bob", "alice"
		}

		wg.Add(1)
		go func(buyer, seller string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.Apply(testTrade(buyer, seller, "1", 1))
			}
		}(buyer, seller)
	}
	wg.Wait()

	if !l.TotalCash().Equal(cashBefore) {
		t.Errorf("total cash changed under concurrency: %s -> %s", cashBefore, l.TotalCash())
	}
	if l.TotalShares("ACME") != sharesBefore {
		t.Errorf("total shares changed under concurrency: %d -> %d", sharesBefore, l.TotalShares("ACME"))
	}
}
