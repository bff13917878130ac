package sequencer

import (
	"fmt"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/money"
)

// applyLiquidate force-closes a position that fails the maintenance
// margin check at MarkPrice. Per spec.md §4.5 this executes as a real
// MARKET order against the book — not a synthesized single-price close
// — so it produces ordinary trades/fills under price-time priority and
// contributes to spec.md §8's trade-quantity conservation invariant.
// Whatever the book cannot absorb trades against LiquidationEngineUser,
// the dedicated counterparty of last resort, mirroring
// pkg/app/core/account/manager.go's CheckLiquidation + Liquidate pair
// generalized onto the Book -> PositionManager -> Ledger pipeline
// instead of a single account mutation.
func (s *Shard) applyLiquidate(c Liquidate) Result {
	b, brk, err := s.lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}
	params, err := s.catalog.Lookup(c.Symbol)
	if err != nil {
		return Result{Err: err}
	}

	snapshot := s.pos.Snapshot(c.Owner, c.Symbol)
	liquidate, _, _ := position.ShouldLiquidate(snapshot, params, c.MarkPrice)
	if !liquidate {
		return Result{Position: snapshot}
	}

	side := book.Sell
	if snapshot.Size < 0 {
		side = book.Buy
	}
	qty := money.Abs(snapshot.Size)

	order := &book.Order{
		ID:      fmt.Sprintf("liq-%s-%s-%d", c.Symbol, c.Owner, s.nowNano()),
		OwnerID: c.Owner,
		Symbol:  c.Symbol,
		Side:    side,
		Type:    book.Market,
		TIF:     book.IOC,
		Qty:     qty,
		OrigQty: qty,
	}

	res, err := b.SubmitLiquidation(order)
	if err != nil {
		return Result{Err: fmt.Errorf("sequencer: liquidation submit: %w", err)}
	}

	fills := res.Fills
	if order.Qty > 0 {
		// The book couldn't fully absorb the close; the liquidation
		// engine takes the other side of the remainder at the mark
		// price, per spec.md §4.5's dedicated-counterparty rule.
		fills = append(fills, book.Fill{
			TakerOrderID: order.ID,
			MakerOrderID: ledger.LiquidationEngineUser,
			TakerOwner:   c.Owner,
			MakerOwner:   ledger.LiquidationEngineUser,
			Price:        c.MarkPrice,
			Qty:          order.Qty,
		})
		order.Qty = 0
	}

	realizedPnL := estimateRealizedPnL(snapshot, fills)

	// Margin releases proportionally across every fill (real and
	// engine-absorbed alike), the same even-split approximation
	// settleFills already documents for ordinary trades.
	s.settleFills(c.Symbol, side, fills, -snapshot.Margin)
	s.applyBreaker(c.Symbol, brk, res.Fills)

	var deficit money.Amount
	if cash := s.ledger.Balance(ledger.Owner{User: c.Owner, Kind: ledger.Cash}); cash < 0 {
		deficit = -cash
		if _, err := s.ledger.PostLiquidation(c.Symbol, c.Owner, 0, 0, deficit); err != nil {
			return Result{Err: fmt.Errorf("sequencer: post liquidation deficit: %w", err)}
		}
	}

	s.commit(journal.KindLiquidation, journal.LiquidationPayload{
		Symbol: c.Symbol, Owner: c.Owner, MarkPrice: c.MarkPrice,
		RealizedPnL: realizedPnL, ReleasedMargin: snapshot.Margin, Deficit: deficit,
	})

	return Result{Fills: fills, RealizedPnL: realizedPnL, ReleasedMargin: snapshot.Margin, Deficit: deficit}
}

// estimateRealizedPnL sums each fill's PnL against the position's
// pre-liquidation entry price, for the audit record only — the
// authoritative realized PnL that actually moves the ledger is whatever
// position.Manager.ApplyFill computed per fill inside settleFills.
func estimateRealizedPnL(snapshot position.Position, fills []book.Fill) money.Amount {
	if snapshot.Size == 0 {
		return 0
	}
	sign := money.Amount(1)
	if snapshot.Size < 0 {
		sign = -1
	}
	var total money.Amount
	for _, f := range fills {
		pnl, _ := money.Notional(f.Price-snapshot.EntryPrice, f.Qty)
		total += sign * pnl
	}
	return total
}
