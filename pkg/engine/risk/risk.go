// Package risk implements the RiskGate: the checks a new order passes
// before it reaches the book (CheckNewOrder) and a withdrawal passes
// before it reaches the ledger (CheckWithdraw). It composes a signature check with the margin/size/leverage
// checks pkg/app/core/account/manager.go's CheckMarginRequirement
// performs in one pass, generalized into the sequencer's separate
// RiskGate -> Book -> PositionManager -> Ledger stages instead of one
// method that touches the account directly.
package risk

import (
	"fmt"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/money"
)

// RejectReason is the machine-readable reason the gate refused a command,
// carried on the journal record the same way book.RejectReason is.
type RejectReason string

const (
	RejectNone                RejectReason = ""
	RejectBadSignature        RejectReason = "BAD_SIGNATURE"
	RejectInsufficientMargin  RejectReason = "INSUFFICIENT_MARGIN"
	RejectPositionTooLarge    RejectReason = "POSITION_TOO_LARGE"
	RejectLeverageExceeded    RejectReason = "LEVERAGE_EXCEEDED"
	RejectReduceOnlyViolation RejectReason = "REDUCE_ONLY_VIOLATION"
	RejectUnknownSymbol       RejectReason = "UNKNOWN_SYMBOL"
	RejectAccountNotFound     RejectReason = "ACCOUNT_NOT_FOUND"
	RejectTooManyOpenOrders   RejectReason = "TOO_MANY_OPEN_ORDERS"
)

// RejectError is returned by Gate.CheckNewOrder/CheckWithdraw when a
// command fails one of the checks.
type RejectError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectError) Error() string { return string(e.Reason) + ": " + e.Message }

func reject(reason RejectReason, format string, args ...any) error {
	return &RejectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// SignatureVerifier abstracts order/cancel signature verification so the
// gate does not need to import the transaction/crypto EIP-712 machinery
// directly — the node wires AllowAllVerifier and checks EIP-712
// signatures upstream in pkg/app/perp; tests supply a stub that always
// approves.
type SignatureVerifier interface {
	// Verify checks that signature authenticates message on behalf of
	// claimedOwner. Returns an error describing why verification failed.
	Verify(claimedOwner string, message []byte, signature []byte) error
}

// AllowAllVerifier is a SignatureVerifier that never rejects, for tests
// and for deployments where signature verification happens upstream of
// the sequencer (e.g. at the API gateway).
type AllowAllVerifier struct{}

func (AllowAllVerifier) Verify(string, []byte, []byte) error { return nil }

// Gate is the RiskGate. One Gate per shard, consuming the shard's own
// PositionManager and Ledger — never another shard's state, so every
// check a Gate performs is a pure function of data the single-writer
// sequencer already owns.
type Gate struct {
	catalog  *catalog.Registry
	ledger   *ledger.Ledger
	pos      *position.Manager
	verifier SignatureVerifier
}

// NewGate builds a RiskGate over the given shard's dependencies. verifier
// may be AllowAllVerifier{} when signatures are checked upstream.
func NewGate(cat *catalog.Registry, l *ledger.Ledger, pos *position.Manager, verifier SignatureVerifier) *Gate {
	if verifier == nil {
		verifier = AllowAllVerifier{}
	}
	return &Gate{catalog: cat, ledger: l, pos: pos, verifier: verifier}
}

// NewOrderRequest is the RiskGate's input for CheckNewOrder: everything
// needed to evaluate a new order before it is submitted to the book.
type NewOrderRequest struct {
	Owner     string
	Symbol    string
	Side      book.Side
	Qty       money.Amount
	Price     money.Amount // limit/reference price used for margin sizing; market orders pass the last trade price
	MarkPrice money.Amount // current mark price, for total-account leverage/equity checks
	ReduceOnly bool

	// OpenOrders is the owner's current resting-order count on this
	// symbol's book, sourced from book.Book.CountOwnerOrders by the
	// sequencer before the gate runs (the gate never touches Book
	// directly, to keep every check here a pure function of catalog/
	// ledger/position state it already owns).
	OpenOrders int

	Message   []byte // the exact bytes the signature covers
	Signature []byte
}

// CheckResult is returned by CheckNewOrder alongside nil error.
// RequiredMargin is the initial margin for the full order quantity at
// req.Price; the sequencer spreads it evenly over the order's fills and
// posts it via the ledger after matching. Computed once here so Book/
// PositionManager/Ledger never recompute it independently.
type CheckResult struct {
	RequiredMargin money.Amount
}

// CheckNewOrder runs the full gate pipeline: signature, catalog bounds,
// reduce-only snapshot, initial margin sufficiency, max position size,
// and account-wide max leverage — mirroring
// pkg/app/core/account/manager.go's CheckMarginRequirement, generalized
// to also account for every other open position the owner holds via
// PositionManager.AllForOwner instead of a caller-supplied positions map.
func (g *Gate) CheckNewOrder(req NewOrderRequest) (CheckResult, error) {
	if err := g.verifier.Verify(req.Owner, req.Message, req.Signature); err != nil {
		return CheckResult{}, reject(RejectBadSignature, "%v", err)
	}

	params, err := g.catalog.Lookup(req.Symbol)
	if err != nil {
		return CheckResult{}, reject(RejectUnknownSymbol, "%s", req.Symbol)
	}

	if err := params.ValidateOrder(req.Qty); err != nil {
		return CheckResult{}, reject(RejectPositionTooLarge, "%v", err)
	}

	if params.MaxOpenOrders > 0 && req.OpenOrders >= params.MaxOpenOrders {
		return CheckResult{}, reject(RejectTooManyOpenOrders, "owner %s has %d open orders on %s, max %d", req.Owner, req.OpenOrders, req.Symbol, params.MaxOpenOrders)
	}

	current := g.pos.Snapshot(req.Owner, req.Symbol)

	signedDelta := req.Qty
	if req.Side == book.Sell {
		signedDelta = -signedDelta
	}
	newSize := current.Size + signedDelta

	if req.ReduceOnly {
		// A reduce-only order may never grow |position| or flip its sign —
		// checked against the position as it stood when the gate ran, per
		// SPEC_FULL.md §6.4's snapshot-at-check-time decision; the book
		// does not re-check reduce-only during matching.
		if money.Abs(newSize) > money.Abs(current.Size) || (current.Size != 0 && sign(newSize) != sign(current.Size) && newSize != 0) {
			return CheckResult{}, reject(RejectReduceOnlyViolation, "reduce-only order would increase or flip position: old=%d new=%d", current.Size, newSize)
		}
	}

	if money.Abs(newSize) > params.MaxPosition {
		return CheckResult{}, reject(RejectPositionTooLarge, "position would exceed max size: new=%d max=%d", money.Abs(newSize), params.MaxPosition)
	}

	requiredMargin, err := money.BpsOf(mustNotional(req.Price, req.Qty), params.InitialMarginBps)
	if err != nil {
		return CheckResult{}, reject(RejectInsufficientMargin, "margin overflow: %v", err)
	}

	available := g.ledger.Balance(ledger.Owner{User: req.Owner, Kind: ledger.Cash})
	if !req.ReduceOnly && available < requiredMargin {
		return CheckResult{}, reject(RejectInsufficientMargin, "have %d, need %d", available, requiredMargin)
	}

	if err := g.checkAccountLeverage(req.Owner, req.Symbol, newSize, req.MarkPrice, params); err != nil {
		return CheckResult{}, err
	}

	return CheckResult{RequiredMargin: requiredMargin}, nil
}

// checkAccountLeverage sums notional across every position the owner
// holds (marking the symbol under review at markPrice and every other
// position at its entry price, matching the teacher's fallback
// when a fresh mark price is unavailable) and rejects if the implied
// leverage against total margin exceeds the symbol's MaxLeverage.
func (g *Gate) checkAccountLeverage(owner, symbol string, newSize, markPrice money.Amount, params *catalog.Params) error {
	totalNotional, err := money.Notional(markPrice, money.Abs(newSize))
	if err != nil {
		return reject(RejectLeverageExceeded, "notional overflow: %v", err)
	}

	totalMargin := g.ledger.Balance(ledger.Owner{User: owner, Kind: ledger.Margin}) +
		g.ledger.Balance(ledger.Owner{User: owner, Kind: ledger.Cash})

	for _, p := range g.pos.AllForOwner(owner) {
		if p.Symbol == symbol {
			continue
		}
		n, err := money.Notional(p.EntryPrice, money.Abs(p.Size))
		if err != nil {
			continue
		}
		totalNotional += n
	}

	if totalMargin <= 0 {
		if totalNotional > 0 {
			return reject(RejectLeverageExceeded, "zero or negative margin with open notional %d", totalNotional)
		}
		return nil
	}

	leverage := totalNotional / totalMargin
	if leverage > money.Amount(params.MaxLeverage) {
		return reject(RejectLeverageExceeded, "%dx exceeds max %dx", leverage, params.MaxLeverage)
	}
	return nil
}

// CheckWithdraw verifies the owner's cash balance covers amount,
// mirroring AccountManager.Withdraw's available-balance check. Margin
// posted for open positions is not counted, and the withdrawal is not
// checked against those positions' margin requirement.
func (g *Gate) CheckWithdraw(owner string, amount money.Amount) error {
	available := g.ledger.Balance(ledger.Owner{User: owner, Kind: ledger.Cash})
	if available < amount {
		return reject(RejectInsufficientMargin, "available %d, requested %d", available, amount)
	}
	return nil
}

func sign(a money.Amount) int {
	switch {
	case a > 0:
		return 1
	case a < 0:
		return -1
	default:
		return 0
	}
}

func mustNotional(price, qty money.Amount) money.Amount {
	n, _ := money.Notional(price, qty)
	return n
}
