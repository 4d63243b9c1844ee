package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/models"
)

// capturePublisher records everything the feed fans out
type capturePublisher struct {
	mu     sync.Mutex
	trades []TradeTick
	quotes []Quote
}

func (cp *capturePublisher) PublishTrade(tick TradeTick) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.trades = append(cp.trades, tick)
}

func (cp *capturePublisher) PublishQuote(quote Quote) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.quotes = append(cp.quotes, quote)
}

func (cp *capturePublisher) tradeCount() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.trades)
}

func startEngine(t *testing.T) *engine.MatchingEngine {
	t.Helper()

	me := engine.NewMatchingEngine("ACME", decimal.NewFromInt(100))
	if err := me.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = me.Stop() })
	return me
}

func submitLimit(t *testing.T, me *engine.MatchingEngine, shareholderID string, side models.OrderSide, price string, qty int64) {
	t.Helper()

	order := models.NewOrder(shareholderID, "ACME", side, models.OrderTypeLimit,
		decimal.RequireFromString(price), qty)
	if _, err := me.Submit(order); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

// waitFor polls until the condition holds; engine events are delivered
// asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFeed_AttachSeedsQuote(t *testing.T) {
	me := startEngine(t)
	feed := NewFeed()
	feed.Attach(me)

	quote, err := feed.GetQuote("ACME")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.LastPrice.String() != "100" {
		t.Errorf("seeded last price = %s, want listing price 100", quote.LastPrice)
	}
	if quote.SessionVolume != 0 || quote.TradeCount != 0 {
		t.Error("fresh symbol should have no session activity")
	}
}

func TestFeed_UnknownSymbol(t *testing.T) {
	feed := NewFeed()

	if _, err := feed.GetQuote("NOPE"); !errors.Is(err, engine.ErrUnknownInstrument) {
		t.Errorf("GetQuote unknown = %v, want ErrUnknownInstrument", err)
	}
	if _, err := feed.RecentTrades("NOPE", 10); !errors.Is(err, engine.ErrUnknownInstrument) {
		t.Errorf("RecentTrades unknown = %v, want ErrUnknownInstrument", err)
	}
	if _, _, err := feed.Depth("NOPE", 10); !errors.Is(err, engine.ErrUnknownInstrument) {
		t.Errorf("Depth unknown = %v, want ErrUnknownInstrument", err)
	}
}

func TestFeed_TradeUpdatesQuoteAndHistory(t *testing.T) {
	me := startEngine(t)
	feed := NewFeed()
	publisher := &capturePublisher{}
	feed.AddPublisher(publisher)
	feed.Attach(me)

	submitLimit(t, me, "seller", models.OrderSideSell, "105", 10)
	submitLimit(t, me, "buyer", models.OrderSideBuy, "105", 4)

	waitFor(t, func() bool { return publisher.tradeCount() >= 1 })
	waitFor(t, func() bool {
		quote, _ := feed.GetQuote("ACME")
		return quote.TradeCount == 1
	})

	quote, _ := feed.GetQuote("ACME")
	if quote.LastPrice.String() != "105" {
		t.Errorf("last price = %s, want 105", quote.LastPrice)
	}
	if quote.SessionVolume != 4 {
		t.Errorf("session volume = %d, want 4", quote.SessionVolume)
	}

	trades, err := feed.RecentTrades("ACME", 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 4 {
		t.Errorf("recent trades = %+v, want one trade of 4", trades)
	}
}

func TestFeed_TopOfBookRefresh(t *testing.T) {
	me := startEngine(t)
	feed := NewFeed()
	feed.Attach(me)

	submitLimit(t, me, "buyer", models.OrderSideBuy, "99", 10)
	submitLimit(t, me, "seller", models.OrderSideSell, "101", 5)

	waitFor(t, func() bool {
		quote, _ := feed.GetQuote("ACME")
		return quote.BestBid.String() == "99" && quote.BestAsk.String() == "101"
	})

	quote, _ := feed.GetQuote("ACME")
	if quote.BestBidSize != 10 || quote.BestAskSize != 5 {
		t.Errorf("top-of-book sizes = %d/%d, want 10/5", quote.BestBidSize, quote.BestAskSize)
	}
}

func TestFeed_RecentTradesLimit(t *testing.T) {
	me := startEngine(t)
	feed := NewFeed()
	feed.Attach(me)

	for i := 0; i < 5; i++ {
		submitLimit(t, me, "seller", models.OrderSideSell, "100", 1)
		submitLimit(t, me, "buyer", models.OrderSideBuy, "100", 1)
	}

	waitFor(t, func() bool {
		trades, _ := feed.RecentTrades("ACME", 0)
		return len(trades) == 5
	})

	trades, err := feed.RecentTrades("ACME", 2)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("limited trades = %d, want 2", len(trades))
	}
}

func TestFeed_Quotes(t *testing.T) {
	me := startEngine(t)
	feed := NewFeed()
	feed.Attach(me)

	other := engine.NewMatchingEngine("GLOBX", decimal.NewFromInt(50))
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = other.Stop() })
	feed.Attach(other)

	quotes := feed.Quotes()
	if len(quotes) != 2 {
		t.Errorf("quotes = %d symbols, want 2", len(quotes))
	}
}
