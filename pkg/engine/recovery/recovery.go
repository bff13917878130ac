// Package recovery rebuilds a shard's in-memory state after a restart.
// The ledger is durable on its own (pkg/engine/ledger/store.go persists
// every entry to Pebble), so its balances are rebuilt straight from that
// store; books and positions have no independent store, so they are
// rebuilt by replaying the write-ahead journal pkg/engine/journal writes
// alongside every command. This two-source split mirrors
// pkg/consensus/safety.go's pattern of keeping committed state
// (blocks/certificates) separate from the rules that replay it, adapted
// here to two differently-durable subsystems instead of one block store.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/breaker"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/money"
)

// State is everything a Shard needs to resume taking commands: a ledger
// with balances restored from its own store, plus one book/breaker per
// owned symbol and a position manager, both rebuilt from the journal.
type State struct {
	Ledger    *ledger.Ledger
	Positions *position.Manager
	Books     map[string]*book.Book
	Breakers  map[string]*breaker.Breaker

	// TruncateAt is non-zero when the journal segment's final record was
	// torn by an incomplete write. The caller must truncate the segment
	// file to this byte offset before the shard appends anything new, or
	// the new records would be written after a gap Decode can't skip.
	TruncateAt int64
}

// Recover rebuilds state for every symbol the shard owns. journalPath
// may not exist yet (a shard's first run); ledgerStore may be nil for a
// purely in-memory ledger (tests).
func Recover(journalPath string, ledgerStore *ledger.Store, cat *catalog.Registry, symbols []string) (*State, error) {
	l := ledger.New(ledgerStore)
	if ledgerStore != nil {
		if err := ledgerStore.LoadAll(l.Replay); err != nil {
			return nil, fmt.Errorf("recovery: replay ledger: %w", err)
		}
	}

	st := &State{
		Ledger:    l,
		Positions: position.New(),
		Books:     make(map[string]*book.Book),
		Breakers:  make(map[string]*breaker.Breaker),
	}
	for _, sym := range symbols {
		params, err := cat.Lookup(sym)
		if err != nil {
			return nil, fmt.Errorf("recovery: %w", err)
		}
		st.Books[sym] = book.New(params)
		st.Breakers[sym] = breaker.New(params, 0)
	}

	reader, err := journal.OpenReader(journalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return nil, fmt.Errorf("recovery: open journal: %w", err)
	}
	defer reader.Close()

	resting := make(map[string]*book.Order)

	for {
		rec, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, journal.ErrTruncatedTail) {
				off, tailErr := reader.TailOffset()
				if tailErr != nil {
					return nil, fmt.Errorf("recovery: locate truncated tail: %w", tailErr)
				}
				st.TruncateAt = off
				break
			}
			return nil, fmt.Errorf("recovery: read journal: %w", err)
		}

		if err := applyRecord(st, resting, rec); err != nil {
			return nil, fmt.Errorf("recovery: apply command %d event %d: %w", rec.CommandSeq, rec.EventSeq, err)
		}
	}

	for _, o := range resting {
		if o.Qty <= 0 {
			continue
		}
		if b, ok := st.Books[o.Symbol]; ok {
			b.RestoreOrder(o)
		}
	}

	return st, nil
}

// applyRecord folds one journal record into the state under
// reconstruction. resting tracks still-open orders across every symbol
// by ID as records are replayed in commit order; it is flushed into the
// real books only once the whole segment has been read, since an order
// can be accepted, partially filled, modified and finally canceled
// across several records.
func applyRecord(st *State, resting map[string]*book.Order, rec journal.Record) error {
	switch rec.Kind {
	case journal.KindOrderAccepted:
		var p journal.OrderEventPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		if p.Rested && p.Qty > 0 {
			resting[p.ID] = &book.Order{
				ID: p.ID, OwnerID: p.Owner, Symbol: p.Symbol,
				Side: p.Side, Type: p.Type, TIF: p.TIF,
				Price: p.Price, StopPrice: p.StopPrice,
				Qty: p.Qty, OrigQty: p.Qty, ReduceOnly: p.ReduceOnly,
			}
		}

	case journal.KindCancelAccepted:
		var p journal.OrderEventPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		delete(resting, p.ID)

	case journal.KindModifyAccepted:
		var p journal.OrderEventPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		if o, ok := resting[p.ID]; ok {
			if p.Price > 0 {
				o.Price = p.Price
			}
			o.Qty = p.Qty
			if o.Qty <= 0 {
				delete(resting, p.ID)
			}
		}

	case journal.KindFill:
		var p journal.FillPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		takerSign := money.Amount(1)
		if p.TakerSide == book.Sell {
			takerSign = -1
		}
		if _, err := st.Positions.ApplyFill(p.Fill.TakerOwner, p.Symbol, takerSign*p.Fill.Qty, p.Fill.Price, 0); err != nil {
			return fmt.Errorf("replay taker fill: %w", err)
		}
		if _, err := st.Positions.ApplyFill(p.Fill.MakerOwner, p.Symbol, -takerSign*p.Fill.Qty, p.Fill.Price, 0); err != nil {
			return fmt.Errorf("replay maker fill: %w", err)
		}
		if o, ok := resting[p.Fill.MakerOrderID]; ok {
			o.Qty = p.Fill.MakerRemaining
			if o.Qty <= 0 {
				delete(resting, p.Fill.MakerOrderID)
			}
		}
		if b, ok := st.Books[p.Symbol]; ok {
			b.SetLastPrice(p.Fill.Price)
		}

	case journal.KindLiquidation:
		// Audit-only record: the liquidation's actual position and
		// ledger effects are the KindFill/KindLedgerEntry records it
		// produced by going through the book like any other order, and
		// those already replay above. Re-closing the position here
		// would double-apply a partial liquidation that left exposure
		// open.

	case journal.KindFundingApplied:
		var p journal.FundingPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		for _, owner := range p.Owners {
			if _, err := st.Positions.ApplyFunding(owner, p.Symbol, p.MarkPrice, p.RateBps); err != nil {
				return fmt.Errorf("replay funding for %s: %w", owner, err)
			}
		}

	case journal.KindSymbolHalted:
		var p journal.HaltPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		if p.Forced {
			if brk, ok := st.Breakers[p.Symbol]; ok {
				brk.ForceHalt(0, p.DurationNano)
			}
		}

	case journal.KindSymbolResumed:
		var p journal.HaltPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		if brk, ok := st.Breakers[p.Symbol]; ok {
			brk.ForceResume()
		}

	case journal.KindReferencePriceApplied:
		var p journal.ReferencePricePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		if brk, ok := st.Breakers[p.Symbol]; ok {
			brk.SetReference(p.Price)
		}
	}
	return nil
}
