package sequencer

import (
	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/money"
)

// SubmitOrder is the command to place a new order, generalizing the
// teacher's "O:" mempool transaction format into a typed struct.
type SubmitOrder struct {
	Owner      string
	Symbol     string
	Side       book.Side
	Type       book.OrderType
	TIF        book.TimeInForce
	Price      money.Amount
	StopPrice  money.Amount
	Qty        money.Amount
	ReduceOnly bool
	ClientID   string // order ID the caller supplied

	MarkPrice money.Amount // for leverage checks; 0 lets the gate fall back to Price
	Message   []byte
	Signature []byte
}

// CancelOrder is the command to cancel a resting order by ID, generalizing
// the teacher's "C:" mempool transaction.
type CancelOrder struct {
	Owner  string
	Symbol string
	ID     string
}

// ModifyOrder is the command to atomically cancel-and-resubmit a resting
// order under a new price/quantity.
type ModifyOrder struct {
	Owner    string
	Symbol   string
	ID       string
	NewPrice money.Amount
	NewQty   money.Amount
}

// ApplyReferencePrice feeds an externally observed reference price into a
// symbol's book (stop triggering) and circuit breaker (halt evaluation).
type ApplyReferencePrice struct {
	Symbol string
	Price  money.Amount
}

// ApplyFunding applies one funding interval's payment across the given
// owners' positions in Symbol. Owners is supplied by the funding
// scheduler, which already knows who holds open interest, since
// PositionManager keeps no per-symbol owner index of its own.
type ApplyFunding struct {
	Symbol    string
	MarkPrice money.Amount
	RateBps   int64
	Owners    []string
}

// Deposit credits a user's cash ledger balance from an external bridge.
type Deposit struct {
	Owner  string
	Amount money.Amount
}

// Withdraw debits a user's cash ledger balance out to an external bridge,
// after a RiskGate check that the cash balance covers the amount.
type Withdraw struct {
	Owner  string
	Amount money.Amount
}

// Liquidate forces a position closed if position.ShouldLiquidate reports
// it under maintenance margin at MarkPrice: a MARKET IOC order closes what
// the book can fill and LiquidationEngineUser takes any remainder at
// MarkPrice, posting the resulting PnL and any insurance-fund deficit to
// the ledger.
type Liquidate struct {
	Owner     string
	Symbol    string
	MarkPrice money.Amount
}

// HaltSymbol forces a symbol halted for a fixed duration, independent of
// the circuit breaker's own price-move triggers (an operator action).
type HaltSymbol struct {
	Symbol       string
	DurationNano int64
}

// ResumeSymbol clears a halt immediately, resetting the breaker's
// escalation counter.
type ResumeSymbol struct {
	Symbol string
}
