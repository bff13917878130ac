package sequencer

import (
	"fmt"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/breaker"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/engine/risk"
	"github.com/hlq/matchcore/pkg/money"
)

func (s *Shard) lookup(symbol string) (*book.Book, *breaker.Breaker, error) {
	b, ok := s.books[symbol]
	if !ok {
		return nil, nil, fmt.Errorf("sequencer: shard %d does not own symbol %s", s.id, symbol)
	}
	return b, s.breakers[symbol], nil
}

func riskRequestFrom(c SubmitOrder, refPrice, markPrice money.Amount, openOrders int) risk.NewOrderRequest {
	return risk.NewOrderRequest{
		Owner:      c.Owner,
		Symbol:     c.Symbol,
		Side:       c.Side,
		Qty:        c.Qty,
		Price:      refPrice,
		MarkPrice:  markPrice,
		ReduceOnly: c.ReduceOnly,
		OpenOrders: openOrders,
		Message:    c.Message,
		Signature:  c.Signature,
	}
}

// applyBreaker feeds every fill's price through the symbol's circuit
// breaker, halting it the instant a trade breaches a band — per
// SPEC_FULL.md §6.7's determinism rule, using the price of the trade
// that caused the breach and the reference captured at command start.
func (s *Shard) applyBreaker(symbol string, brk *breaker.Breaker, fills []book.Fill) {
	now := s.nowNano()
	for _, f := range fills {
		if brk.CheckTrade(now, f.Price) {
			s.commit(journal.KindSymbolHalted, journal.HaltPayload{Symbol: symbol})
		}
	}
}

func (s *Shard) applyCancel(c CancelOrder) Result {
	b, _, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	order, err := b.Cancel(c.ID)
	if err != nil {
		s.commit(journal.KindCancelRejected, journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ID})
		return Result{Err: err}
	}
	if order.OwnerID != c.Owner {
		// restore: the order belongs to someone else, re-add it rather
		// than silently leaking a cancel across owners. RestoreOrder
		// re-inserts the order as-is without running it through match()
		// again, so this can never produce an unjournaled fill.
		b.RestoreOrder(order)
		return Result{Err: fmt.Errorf("sequencer: order %s does not belong to %s", c.ID, c.Owner)}
	}
	s.commit(journal.KindCancelAccepted, journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ID})
	return Result{CanceledOrder: order}
}

func (s *Shard) applyModify(c ModifyOrder) Result {
	b, brk, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	if err := brk.Guard(s.nowNano()); err != nil {
		return Result{Err: err}
	}
	existing, ok := b.Order(c.ID)
	if ok && existing.OwnerID != c.Owner {
		return Result{Err: fmt.Errorf("sequencer: order %s does not belong to %s", c.ID, c.Owner)}
	}

	res, err := b.Modify(c.ID, c.NewPrice, c.NewQty)
	if err != nil {
		s.commit(journal.KindModifyRejected, journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ID, Reason: err.Error()})
		return Result{Err: err}
	}

	side := book.Buy
	if existing != nil {
		side = existing.Side
	}
	s.settleFills(c.Symbol, side, res.Fills, 0)
	s.applyBreaker(c.Symbol, brk, res.Fills)

	updated, _ := b.Order(c.ID)
	modifyEvent := journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ID, Side: side, Price: c.NewPrice, Qty: c.NewQty}
	if updated != nil {
		modifyEvent.Qty = updated.Qty
	}
	s.commit(journal.KindModifyAccepted, modifyEvent)
	return Result{Fills: res.Fills, SelfTradeCanceled: res.SelfTradeCanceled, Rested: res.Rested}
}

func (s *Shard) applyReferencePrice(c ApplyReferencePrice) Result {
	b, brk, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	brk.SetReference(c.Price)
	res := b.ApplyReference(c.Price)
	s.settleFills(c.Symbol, book.Buy, res.Fills, 0)
	s.applyBreaker(c.Symbol, brk, res.Fills)
	s.commit(journal.KindReferencePriceApplied, journal.ReferencePricePayload{Symbol: c.Symbol, Price: c.Price})
	return Result{Fills: res.Fills}
}

func (s *Shard) applyHaltSymbol(c HaltSymbol) Result {
	_, brk, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	brk.ForceHalt(s.nowNano(), c.DurationNano)
	s.commit(journal.KindSymbolHalted, journal.HaltPayload{Symbol: c.Symbol, DurationNano: c.DurationNano, Forced: true})
	return Result{Halted: true}
}

func (s *Shard) applyResumeSymbol(c ResumeSymbol) Result {
	_, brk, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	brk.ForceResume()
	s.commit(journal.KindSymbolResumed, journal.HaltPayload{Symbol: c.Symbol})
	return Result{}
}
