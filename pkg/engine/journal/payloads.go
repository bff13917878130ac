package journal

import (
	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/money"
)

// FillPayload is the KindFill record body. It carries the taker's side
// alongside the raw book.Fill since a Fill by itself doesn't say which
// leg was the taker — Recovery needs both to rebuild position deltas in
// the same direction the live shard applied them.
type FillPayload struct {
	Symbol    string
	TakerSide book.Side
	Fill      book.Fill
}

// LedgerPayload is the KindLedgerEntry record body for a trade's ledger
// effect.
type LedgerPayload struct {
	Symbol string
	Legs   []ledger.TradeLeg
}

// AccountEntryPayload is the KindLedgerEntry record body for a deposit
// or withdrawal, which moves cash without touching a symbol.
type AccountEntryPayload struct {
	Kind   string // "deposit" | "withdraw"
	Owner  string
	Amount money.Amount
}

// LiquidationPayload is the KindLiquidation record body.
type LiquidationPayload struct {
	Symbol         string
	Owner          string
	MarkPrice      money.Amount
	RealizedPnL    money.Amount
	ReleasedMargin money.Amount
	Deficit        money.Amount
}

// FundingPayload is the KindFundingApplied record body.
type FundingPayload struct {
	Symbol    string
	RateBps   int64
	MarkPrice money.Amount
	Owners    []string
}

// OrderEventPayload is the body shared by KindOrderAccepted,
// KindOrderRejected, KindCancelAccepted, KindCancelRejected,
// KindModifyAccepted and KindModifyRejected. KindOrderAccepted and
// KindModifyAccepted fill in the order-shape fields (Side through
// ReduceOnly) so Recovery can reconstruct resting book state without a
// separate book snapshot; the other kinds only need Symbol/Owner/ID/
// Reason and leave the rest zero.
type OrderEventPayload struct {
	Symbol string
	Owner  string
	ID     string

	Side       book.Side
	Type       book.OrderType
	TIF        book.TimeInForce
	Price      money.Amount
	StopPrice  money.Amount
	Qty        money.Amount
	ReduceOnly bool

	Fills  int
	Rested bool
	Reason string
}

// HaltPayload is the body for KindSymbolHalted / KindSymbolResumed.
// Forced distinguishes an operator-issued halt (HaltSymbol command),
// which Recovery re-applies unconditionally, from an organic
// circuit-breaker trip, which Recovery leaves to re-evaluate on the next
// live trade instead of guessing at an already-elapsed wall-clock
// duration.
type HaltPayload struct {
	Symbol       string
	DurationNano int64
	Forced       bool
}

// ReferencePricePayload is the KindReferencePriceApplied record body.
type ReferencePricePayload struct {
	Symbol string
	Price  money.Amount
}
