package risk

import (
	"testing"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/money"
)

func testGate(t *testing.T) *Gate {
	t.Helper()
	cat, err := catalog.Load([]*catalog.Params{{
		Symbol:               "BTC-USDC",
		BaseAsset:            "BTC",
		QuoteAsset:           "USDC",
		TickSize:             1,
		LotSize:              1,
		MinOrderSize:         1,
		MaxOrderSize:         1_000 * money.Unit,
		MaxPosition:          1_000 * money.Unit,
		InitialMarginBps:     1000, // 10%
		MaintenanceMarginBps: 500,
		MaxLeverage:          10,
	}})
	if err != nil {
		t.Fatalf("catalog load: %v", err)
	}
	l := ledger.New(nil)
	pos := position.New()
	return NewGate(cat, l, pos, AllowAllVerifier{})
}

func TestCheckNewOrder_RejectsUnknownSymbol(t *testing.T) {
	g := testGate(t)
	_, err := g.CheckNewOrder(NewOrderRequest{Owner: "alice", Symbol: "ETH-USDC", Side: book.Buy, Qty: 1, Price: 100 * money.Unit})
	rerr, ok := err.(*RejectError)
	if !ok || rerr.Reason != RejectUnknownSymbol {
		t.Fatalf("expected RejectUnknownSymbol, got %v", err)
	}
}

func TestCheckNewOrder_RejectsInsufficientMargin(t *testing.T) {
	g := testGate(t)
	_, err := g.CheckNewOrder(NewOrderRequest{
		Owner: "alice", Symbol: "BTC-USDC", Side: book.Buy,
		Qty: 10 * money.Unit, Price: 100 * money.Unit, MarkPrice: 100 * money.Unit,
	})
	rerr, ok := err.(*RejectError)
	if !ok || rerr.Reason != RejectInsufficientMargin {
		t.Fatalf("expected RejectInsufficientMargin, got %v", err)
	}
}

func TestCheckNewOrder_AllowsWithSufficientMargin(t *testing.T) {
	g := testGate(t)
	g.ledger.Deposit("alice", 1_000 * money.Unit)

	res, err := g.CheckNewOrder(NewOrderRequest{
		Owner: "alice", Symbol: "BTC-USDC", Side: book.Buy,
		Qty: 1 * money.Unit, Price: 100 * money.Unit, MarkPrice: 100 * money.Unit,
	})
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if res.RequiredMargin != 10*money.Unit {
		t.Errorf("required margin = %d, want %d (10%% of 100 notional)", res.RequiredMargin, 10*money.Unit)
	}
}

func TestCheckNewOrder_RejectsReduceOnlyThatGrowsPosition(t *testing.T) {
	g := testGate(t)
	g.ledger.Deposit("alice", 1_000*money.Unit)
	g.pos.ApplyFill("alice", "BTC-USDC", 5*money.Unit, 100*money.Unit, 50*money.Unit)

	_, err := g.CheckNewOrder(NewOrderRequest{
		Owner: "alice", Symbol: "BTC-USDC", Side: book.Buy, ReduceOnly: true,
		Qty: 1 * money.Unit, Price: 100 * money.Unit, MarkPrice: 100 * money.Unit,
	})
	rerr, ok := err.(*RejectError)
	if !ok || rerr.Reason != RejectReduceOnlyViolation {
		t.Fatalf("expected RejectReduceOnlyViolation, got %v", err)
	}
}

func TestCheckNewOrder_AllowsReduceOnlyThatShrinksPosition(t *testing.T) {
	g := testGate(t)
	g.ledger.Deposit("alice", 1_000*money.Unit)
	g.pos.ApplyFill("alice", "BTC-USDC", 5*money.Unit, 100*money.Unit, 50*money.Unit)

	_, err := g.CheckNewOrder(NewOrderRequest{
		Owner: "alice", Symbol: "BTC-USDC", Side: book.Sell, ReduceOnly: true,
		Qty: 2 * money.Unit, Price: 100 * money.Unit, MarkPrice: 100 * money.Unit,
	})
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestCheckNewOrder_RejectsBadSignature(t *testing.T) {
	cat, _ := catalog.Load([]*catalog.Params{{
		Symbol: "BTC-USDC", TickSize: 1, LotSize: 1, MinOrderSize: 1, MaxOrderSize: 100,
		MaxPosition: 100, InitialMarginBps: 1000, MaintenanceMarginBps: 500, MaxLeverage: 10,
	}})
	l := ledger.New(nil)
	pos := position.New()
	g := NewGate(cat, l, pos, rejectingVerifier{})

	_, err := g.CheckNewOrder(NewOrderRequest{Owner: "alice", Symbol: "BTC-USDC", Side: book.Buy, Qty: 1, Price: money.Unit})
	rerr, ok := err.(*RejectError)
	if !ok || rerr.Reason != RejectBadSignature {
		t.Fatalf("expected RejectBadSignature, got %v", err)
	}
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(string, []byte, []byte) error {
	return errAlwaysBad
}

var errAlwaysBad = &RejectError{Reason: RejectBadSignature, Message: "stub always rejects"}
