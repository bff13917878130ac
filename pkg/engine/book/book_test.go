package book

import (
	"testing"

	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/money"
)

func testParams() *catalog.Params {
	return &catalog.Params{
		Symbol:               "BTC-USDC",
		TickSize:             1,
		LotSize:              1,
		MinOrderSize:         1,
		MaxOrderSize:         1_000_000,
		MaxPosition:          1_000_000,
		InitialMarginBps:     500,
		MaintenanceMarginBps: 250,
		MaxLeverage:          20,
		SelfTradePolicy:      catalog.CancelTaker,
	}
}

func TestSubmit_PriceTimePriority(t *testing.T) {
	b := New(testParams())

	mustSubmit(t, b, &Order{ID: "b1", OwnerID: "alice", Side: Buy, Type: Limit, TIF: GTC, Price: 100, Qty: 5, OrigQty: 5})
	mustSubmit(t, b, &Order{ID: "b2", OwnerID: "bob", Side: Buy, Type: Limit, TIF: GTC, Price: 100, Qty: 5, OrigQty: 5})

	res := mustSubmit(t, b, &Order{ID: "s1", OwnerID: "carol", Side: Sell, Type: Limit, TIF: GTC, Price: 100, Qty: 7, OrigQty: 7})

	if len(res.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(res.Fills))
	}
	if res.Fills[0].MakerOrderID != "b1" || res.Fills[0].Qty != 5 {
		t.Errorf("first fill should fully consume b1: %+v", res.Fills[0])
	}
	if res.Fills[1].MakerOrderID != "b2" || res.Fills[1].Qty != 2 {
		t.Errorf("second fill should partially consume b2: %+v", res.Fills[1])
	}
}

func TestSubmit_SelfTradeCancelTaker(t *testing.T) {
	b := New(testParams())
	mustSubmit(t, b, &Order{ID: "m1", OwnerID: "alice", Side: Buy, Type: Limit, TIF: GTC, Price: 100, Qty: 5, OrigQty: 5})

	res := mustSubmit(t, b, &Order{ID: "t1", OwnerID: "alice", Side: Sell, Type: Limit, TIF: GTC, Price: 100, Qty: 5, OrigQty: 5})
	if len(res.Fills) != 0 {
		t.Fatalf("expected no fills on self-trade, got %d", len(res.Fills))
	}
	if len(res.SelfTradeCanceled) != 1 || res.SelfTradeCanceled[0] != "t1" {
		t.Errorf("expected taker t1 canceled, got %v", res.SelfTradeCanceled)
	}
	if _, ok := b.Order("m1"); !ok {
		t.Errorf("maker m1 should still be resting")
	}
}

// TestSubmit_FOKSelfTradeMirrorsMatchAbort pins fillableQty's FOK
// pre-check to matchLevel's real abort behavior: under CancelTaker the
// taker stops at the self-trade level instead of skipping past it to
// count a maker further back in the queue, so a quantity that looks
// fillable on paper must still be rejected.
func TestSubmit_FOKSelfTradeMirrorsMatchAbort(t *testing.T) {
	b := New(testParams())
	mustSubmit(t, b, &Order{ID: "selfMaker", OwnerID: "alice", Side: Sell, Type: Limit, TIF: GTC, Price: 100, Qty: 10, OrigQty: 10})
	mustSubmit(t, b, &Order{ID: "otherMaker", OwnerID: "bob", Side: Sell, Type: Limit, TIF: GTC, Price: 100, Qty: 100, OrigQty: 100})

	_, err := b.Submit(&Order{ID: "t1", OwnerID: "alice", Side: Buy, Type: Limit, TIF: FOK, Price: 100, Qty: 50, OrigQty: 50})
	if err == nil {
		t.Fatal("expected FOK rejection: self-trade aborts the level before otherMaker's quantity is reachable")
	}
	if _, ok := b.Order("t1"); ok {
		t.Errorf("FOK order must never rest")
	}
	if _, ok := b.Order("selfMaker"); !ok {
		t.Errorf("selfMaker should still be resting, untouched by the rejected FOK")
	}
}

func TestSubmit_PostOnlyRejectsCross(t *testing.T) {
	b := New(testParams())
	mustSubmit(t, b, &Order{ID: "m1", OwnerID: "alice", Side: Sell, Type: Limit, TIF: GTC, Price: 100, Qty: 5, OrigQty: 5})

	_, err := b.Submit(&Order{ID: "t1", OwnerID: "bob", Side: Buy, Type: Limit, TIF: PostOnly, Price: 100, Qty: 5, OrigQty: 5})
	if err == nil {
		t.Fatal("expected post-only rejection")
	}
	re, ok := err.(*RejectError)
	if !ok || re.Reason != RejectPostOnlyWouldCross {
		t.Errorf("expected RejectPostOnlyWouldCross, got %v", err)
	}
}

func TestSubmit_FOKUnfillableRejected(t *testing.T) {
	b := New(testParams())
	mustSubmit(t, b, &Order{ID: "m1", OwnerID: "alice", Side: Sell, Type: Limit, TIF: GTC, Price: 100, Qty: 3, OrigQty: 3})

	_, err := b.Submit(&Order{ID: "t1", OwnerID: "bob", Side: Buy, Type: Limit, TIF: FOK, Price: 100, Qty: 5, OrigQty: 5})
	if err == nil {
		t.Fatal("expected FOK rejection")
	}
	if _, ok := b.Order("t1"); ok {
		t.Errorf("FOK order must never rest")
	}
}

func TestCancel_IdempotentOnUnknownOrder(t *testing.T) {
	b := New(testParams())
	_, err := b.Cancel("nope")
	if err == nil {
		t.Fatal("expected error canceling unknown order")
	}
}

func TestModify_RejectsBelowFilled(t *testing.T) {
	b := New(testParams())
	mustSubmit(t, b, &Order{ID: "m1", OwnerID: "alice", Side: Buy, Type: Limit, TIF: GTC, Price: 100, Qty: 10, OrigQty: 10})
	mustSubmit(t, b, &Order{ID: "t1", OwnerID: "bob", Side: Sell, Type: Limit, TIF: IOC, Price: 100, Qty: 4, OrigQty: 4})

	_, err := b.Modify("m1", 100, 3)
	if err == nil {
		t.Fatal("expected reject modifying below filled quantity")
	}
}

func TestStopOrder_TriggersOnLastPrice(t *testing.T) {
	b := New(testParams())
	// Parked buy-stop: activates once the last trade price reaches 105.
	mustSubmit(t, b, &Order{ID: "s1", OwnerID: "alice", Side: Buy, Type: Stop, TIF: GTC, StopPrice: 105, Qty: 5, OrigQty: 5})
	// Resting liquidity the triggered stop (converted to a market order) will consume.
	mustSubmit(t, b, &Order{ID: "ask1", OwnerID: "dave", Side: Sell, Type: Limit, TIF: GTC, Price: 105, Qty: 10, OrigQty: 10})

	// A trade at 105 sets lastPrice and should fire s1 in the same pass.
	res := mustSubmit(t, b, &Order{ID: "trigger", OwnerID: "eve", Side: Buy, Type: Limit, TIF: IOC, Price: 105, Qty: 1, OrigQty: 1})

	var sawStopFill bool
	for _, f := range res.Fills {
		if f.TakerOrderID == "s1" {
			sawStopFill = true
		}
	}
	if !sawStopFill {
		t.Errorf("expected s1 to fire and fill against resting ask1, fills: %+v", res.Fills)
	}
	if _, ok := b.Order("s1"); ok {
		t.Errorf("s1 fully filled as a market order, should not be resting")
	}
}

func mustSubmit(t *testing.T, b *Book, o *Order) *Result {
	t.Helper()
	res, err := b.Submit(o)
	if err != nil {
		t.Fatalf("Submit(%s) unexpected error: %v", o.ID, err)
	}
	return res
}

var _ = money.Unit
