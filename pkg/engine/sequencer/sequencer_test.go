package sequencer

import (
	"context"
	"testing"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/engine/risk"
	"github.com/hlq/matchcore/pkg/money"
)

func testShard(t *testing.T) *Shard {
	t.Helper()
	cat, err := catalog.Load([]*catalog.Params{{
		Symbol:               "BTC-USDC",
		TickSize:             1,
		LotSize:              1,
		MinOrderSize:         1,
		MaxOrderSize:         1_000 * money.Unit,
		MaxPosition:          1_000 * money.Unit,
		MakerFeeBps:          -2,
		TakerFeeBps:          5,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		MaxLeverage:          10,
	}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	l := ledger.New(nil)
	pos := position.New()
	gate := risk.NewGate(cat, l, pos, risk.AllowAllVerifier{})

	shard, err := NewShard(Config{
		ID: 0, Catalog: cat, Ledger: l, Positions: pos, Gate: gate,
		Clock: func() int64 { return 1000 },
	}, []string{"BTC-USDC"})
	if err != nil {
		t.Fatalf("new shard: %v", err)
	}

	l.Deposit("alice", 100_000*money.Unit)
	l.Deposit("bob", 100_000*money.Unit)
	return shard
}

// runShard starts Run on a background goroutine and stops it when the
// test ends, since Submit blocks waiting for a response that only a
// running Shard drains.
func runShard(t *testing.T, s *Shard) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return ctx
}

func TestSubmitOrder_CrossingOrdersProduceFillAndLedgerEffect(t *testing.T) {
	s := testShard(t)
	ctx := runShard(t, s)

	_, err := s.Submit(ctx, SubmitOrder{
		Owner: "bob", Symbol: "BTC-USDC", Side: book.Sell, Type: book.Limit, TIF: book.GTC,
		Price: 100 * money.Unit, Qty: 1 * money.Unit, ClientID: "sell-1", MarkPrice: 100 * money.Unit,
	})
	if err != nil {
		t.Fatalf("resting sell rejected: %v", err)
	}

	res, err := s.Submit(ctx, SubmitOrder{
		Owner: "alice", Symbol: "BTC-USDC", Side: book.Buy, Type: book.Limit, TIF: book.GTC,
		Price: 100 * money.Unit, Qty: 1 * money.Unit, ClientID: "buy-1", MarkPrice: 100 * money.Unit,
	})
	if err != nil {
		t.Fatalf("crossing buy rejected: %v", err)
	}
	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.Fills))
	}
	if res.Fills[0].Price != 100*money.Unit {
		t.Errorf("fill price = %d, want %d", res.Fills[0].Price, 100*money.Unit)
	}

	alicePos := s.pos.Snapshot("alice", "BTC-USDC")
	if alicePos.Size != money.Unit {
		t.Errorf("alice position size = %d, want %d", alicePos.Size, money.Unit)
	}
	bobPos := s.pos.Snapshot("bob", "BTC-USDC")
	if bobPos.Size != -money.Unit {
		t.Errorf("bob position size = %d, want %d", bobPos.Size, -money.Unit)
	}

	aliceMargin := s.ledger.Balance(ledger.Owner{User: "alice", Kind: ledger.Margin})
	if aliceMargin != 10*money.Unit {
		t.Errorf("alice margin = %d, want %d", aliceMargin, 10*money.Unit)
	}
}

func TestSubmit_ReturnsQueueFullWhenSaturated(t *testing.T) {
	s := testShard(t)
	// Fill the queue directly without a drainer running.
	for i := 0; i < cap(s.cmdCh); i++ {
		s.cmdCh <- job{cmd: CancelOrder{Symbol: "BTC-USDC", ID: "nope"}, respCh: make(chan Result, 1)}
	}
	_, err := s.Submit(context.Background(), CancelOrder{Symbol: "BTC-USDC", ID: "still-nope"})
	if err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestApplyLiquidate_ClosesUnderwaterPosition(t *testing.T) {
	s := testShard(t)
	s.pos.ApplyFill("alice", "BTC-USDC", 10*money.Unit, 100*money.Unit, 50*money.Unit)

	res := s.applyLiquidate(Liquidate{Owner: "alice", Symbol: "BTC-USDC", MarkPrice: 80 * money.Unit})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.RealizedPnL != -200*money.Unit {
		t.Errorf("realized pnl = %d, want %d", res.RealizedPnL, -200*money.Unit)
	}
	pos := s.pos.Snapshot("alice", "BTC-USDC")
	if pos.Size != 0 {
		t.Errorf("position should be flat after liquidation, got size %d", pos.Size)
	}
}

func TestHaltSymbol_BlocksSubsequentOrders(t *testing.T) {
	s := testShard(t)
	ctx := runShard(t, s)

	if _, err := s.Submit(ctx, HaltSymbol{Symbol: "BTC-USDC", DurationNano: 1_000_000}); err != nil {
		t.Fatalf("halt: %v", err)
	}

	_, err := s.Submit(ctx, SubmitOrder{
		Owner: "alice", Symbol: "BTC-USDC", Side: book.Buy, Type: book.Limit, TIF: book.GTC,
		Price: 100 * money.Unit, Qty: money.Unit, ClientID: "blocked", MarkPrice: 100 * money.Unit,
	})
	if err == nil {
		t.Fatal("expected order to be rejected while halted")
	}
}
