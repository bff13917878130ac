// Package breaker implements the per-symbol circuit breaker: a
// three-band escalating halt ladder triggered when a trade price moves
// too far from the symbol's reference price. There is
// no teacher analogue for this component (the teacher's markets carry no
// circuit-breaker concept) — it is new code built directly from spec.md
// §4.7, using the same struct/constant style as
// pkg/app/core/market/registry.go's MarketStatus state machine.
package breaker

import (
	"fmt"

	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/money"
)

// State is the circuit breaker's current phase for one symbol.
type State int8

const (
	Normal State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "HALTED"
	}
	return "NORMAL"
}

// Breaker tracks halt state for a single symbol. Not safe for concurrent
// use from multiple goroutines — the sequencer is its sole caller.
type Breaker struct {
	params *catalog.Params

	state        State
	bandIndex    int // which band in params.CircuitBands triggered the current halt
	halts        int // halts since the last ForceResume; multiplies the next halt's duration
	haltedAtNano int64
	resumeAtNano int64
	reference    money.Amount
}

// New creates a breaker in Normal state with the given initial reference
// price.
func New(params *catalog.Params, reference money.Amount) *Breaker {
	return &Breaker{params: params, reference: reference}
}

// State reports the current breaker state.
func (b *Breaker) State() State { return b.state }

// SetReference updates the reference price used for future band checks.
// Per spec.md §4.7, halt decisions use the price of the trade that
// caused the breach and the reference price at command-start time — the
// sequencer calls SetReference once per ApplyReferencePrice command, not
// mid-match, so this determinism rule holds by construction.
func (b *Breaker) SetReference(price money.Amount) {
	b.reference = price
}

// ReferencePrice returns the breaker's current reference price.
func (b *Breaker) ReferencePrice() money.Amount { return b.reference }

// CheckTrade evaluates a just-executed trade price against the
// reference. If the move reaches one or more configured bands, it halts
// the symbol using the widest band reached (the largest MoveBps),
// multiplying that band's duration by the number of halts since the last
// ForceResume, and returns true. While a halt is in force it returns true
// without re-evaluating the bands, so the resume time is not extended;
// once the halt has expired it resumes and returns false without
// evaluating this trade against the bands.
func (b *Breaker) CheckTrade(nowNano int64, tradePrice money.Amount) (haltedNow bool) {
	if b.state == Halted {
		if nowNano >= b.resumeAtNano {
			b.resume()
		}
		return b.state == Halted
	}

	moveBps := moveBps(b.reference, tradePrice)
	best := -1
	for i, band := range b.params.CircuitBands {
		if band.MoveBps == 0 || moveBps < band.MoveBps {
			continue
		}
		if best < 0 || band.MoveBps > b.params.CircuitBands[best].MoveBps {
			best = i
		}
	}
	if best < 0 {
		return false
	}
	b.halt(nowNano, best, b.params.CircuitBands[best])
	return true
}

func moveBps(reference, price money.Amount) int64 {
	if reference == 0 {
		return 0
	}
	diff := money.Abs(price - reference)
	bps, _ := money.MulDiv(diff, 10000, reference)
	return int64(bps)
}

func (b *Breaker) halt(nowNano int64, bandIndex int, band catalog.Band) {
	b.state = Halted
	b.bandIndex = bandIndex
	b.halts++
	b.haltedAtNano = nowNano
	duration := band.Duration
	if b.halts > 1 {
		duration *= int64(b.halts) // escalate on repeated halts, whichever band triggered them
	}
	b.resumeAtNano = nowNano + duration
}

func (b *Breaker) resume() {
	b.state = Normal
}

// ForceHalt halts the symbol immediately (e.g. HaltSymbol command),
// regardless of price movement, for a fixed duration.
func (b *Breaker) ForceHalt(nowNano, durationNano int64) {
	b.state = Halted
	b.haltedAtNano = nowNano
	b.resumeAtNano = nowNano + durationNano
}

// ForceResume clears a halt immediately (ResumeSymbol command), resetting
// the escalation counter.
func (b *Breaker) ForceResume() {
	b.state = Normal
	b.halts = 0
}

// ErrHalted is the sentinel Guard returns; the sequencer checks it before
// routing a new order or a modify to a halted symbol's book. Cancels are
// not guarded.
var ErrHalted = fmt.Errorf("breaker: symbol is halted")

// Guard returns ErrHalted if the symbol is currently halted as of
// nowNano (auto-resuming if the halt has expired).
func (b *Breaker) Guard(nowNano int64) error {
	if b.state == Halted {
		if nowNano >= b.resumeAtNano {
			b.resume()
			return nil
		}
		return ErrHalted
	}
	return nil
}
