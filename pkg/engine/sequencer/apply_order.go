package sequencer

import (
	"fmt"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/money"
)

func (s *Shard) applySubmitOrder(c SubmitOrder) Result {
	b, brk, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	if err := brk.Guard(s.nowNano()); err != nil {
		s.commit(journal.KindOrderRejected, journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ClientID, Reason: "HALTED"})
		return Result{Err: err}
	}

	refPrice := c.Price
	if c.Type == book.Market {
		if last := b.LastPrice(); last != 0 {
			refPrice = last
		} else {
			refPrice = c.MarkPrice
		}
	}
	markPrice := c.MarkPrice
	if markPrice == 0 {
		markPrice = refPrice
	}

	check, err := s.gate.CheckNewOrder(riskRequestFrom(c, refPrice, markPrice, b.CountOwnerOrders(c.Owner)))
	if err != nil {
		s.commit(journal.KindOrderRejected, journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ClientID, Reason: err.Error()})
		return Result{Err: err}
	}

	order := &book.Order{
		ID:         c.ClientID,
		OwnerID:    c.Owner,
		Symbol:     c.Symbol,
		Side:       c.Side,
		Type:       c.Type,
		TIF:        c.TIF,
		Price:      c.Price,
		StopPrice:  c.StopPrice,
		Qty:        c.Qty,
		OrigQty:    c.Qty,
		ReduceOnly: c.ReduceOnly,
	}

	res, err := b.Submit(order)
	if err != nil {
		s.commit(journal.KindOrderRejected, journal.OrderEventPayload{Symbol: c.Symbol, Owner: c.Owner, ID: c.ClientID, Reason: err.Error()})
		return Result{Err: err}
	}

	s.settleFills(c.Symbol, c.Side, res.Fills, check.RequiredMargin)
	s.applyBreaker(c.Symbol, brk, res.Fills)

	// Self-trade prevention can remove the taker's own remaining quantity
	// (CancelTaker/CancelBoth) and, under CancelMaker/CancelBoth, a
	// resting maker too. Both must be journaled: the taker's cancellation
	// carries a SelfTrade reason on its accept record (spec.md §6's
	// SelfTrade reason code, §8's "buy canceled with SelfTrade"
	// scenario), and a removed maker needs its own CancelAccepted record
	// or Recovery would replay it as still resting, breaking determinism
	// the moment either policy is configured.
	takerCanceled := false
	for _, id := range res.SelfTradeCanceled {
		if id == c.ClientID {
			takerCanceled = true
			continue
		}
		s.commit(journal.KindCancelAccepted, journal.OrderEventPayload{Symbol: c.Symbol, ID: id, Reason: "SelfTrade"})
	}

	acceptEvent := journal.OrderEventPayload{
		Symbol: c.Symbol, Owner: c.Owner, ID: c.ClientID,
		Side: c.Side, Type: c.Type, TIF: c.TIF, Price: c.Price, StopPrice: c.StopPrice, Qty: order.Qty, ReduceOnly: c.ReduceOnly,
		Fills: len(res.Fills), Rested: res.Rested,
	}
	if takerCanceled {
		acceptEvent.Reason = "SelfTrade"
	}
	s.commit(journal.KindOrderAccepted, acceptEvent)

	return Result{Fills: res.Fills, SelfTradeCanceled: res.SelfTradeCanceled, Rested: res.Rested, RequiredMargin: check.RequiredMargin}
}

// settleFills applies every fill's position and ledger effects, in the
// order the book produced them, and journals each fill individually so
// Recovery can replay position state fill-by-fill. takerSide is the
// incoming order's side, from which each fill's signed size delta for
// both legs is derived (the maker always sits on the opposite side of
// whichever level the taker crossed). Margin movement is deliberately
// approximate (charged evenly across the taker's fills against the
// gate's single up-front estimate) since a precise per-fill margin
// split is a matching-engine concern the RiskGate does not model per
// spec.md's scope — see DESIGN.md.
func (s *Shard) settleFills(symbol string, takerSide book.Side, fills []book.Fill, takerRequiredMargin money.Amount) {
	if len(fills) == 0 {
		return
	}
	params, err := s.catalog.Lookup(symbol)
	if err != nil {
		return
	}

	takerSign := money.Amount(1)
	if takerSide == book.Sell {
		takerSign = -1
	}

	perFillMargin := takerRequiredMargin / money.Amount(len(fills))
	var legs []ledger.TradeLeg

	for _, f := range fills {
		takerFee, _ := money.BpsOf(mustNotional(f.Price, f.Qty), params.TakerFeeBps)
		makerFee, _ := money.BpsOf(mustNotional(f.Price, f.Qty), params.MakerFeeBps)

		takerPnL, _ := s.pos.ApplyFill(f.TakerOwner, symbol, takerSign*f.Qty, f.Price, perFillMargin)
		makerPnL, _ := s.pos.ApplyFill(f.MakerOwner, symbol, -takerSign*f.Qty, f.Price, 0)

		legs = append(legs,
			ledger.TradeLeg{User: f.TakerOwner, MarginDelta: perFillMargin, Fee: takerFee, RealizedPnL: takerPnL},
			ledger.TradeLeg{User: f.MakerOwner, MarginDelta: 0, Fee: makerFee, RealizedPnL: makerPnL},
		)
		s.commit(journal.KindFill, journal.FillPayload{Symbol: symbol, TakerSide: takerSide, Fill: f})
	}

	if _, err := s.ledger.PostTradeBatch(symbol, legs); err != nil {
		s.commit(journal.KindOrderRejected, journal.OrderEventPayload{Symbol: symbol, Reason: fmt.Sprintf("ledger post failed: %v", err)})
		return
	}
	s.commit(journal.KindLedgerEntry, journal.LedgerPayload{Symbol: symbol, Legs: legs})
}

func mustNotional(price, qty money.Amount) money.Amount {
	n, _ := money.Notional(price, qty)
	return n
}
