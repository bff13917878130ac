// Package position implements per-user, per-symbol position tracking:
// VWAP entry-price updates, realized PnL on reduce/flip, and a
// maintenance-margin liquidation check (ShouldLiquidate; no liquidation
// price is computed), generalized from
// pkg/app/core/account.Account/Position and
// pkg/app/core/account/manager.go's UpdatePosition/CheckLiquidation to
// the sequencer's Book -> PositionManager -> Ledger pipeline, where
// position updates and ledger balance effects are distinct calls rather
// than one method touching both.
package position

import (
	"fmt"
	"sync"

	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/money"
)

// Position is one user's open exposure in one symbol. Size is signed:
// positive is long, negative is short.
type Position struct {
	Owner  string
	Symbol string

	Size       money.Amount
	EntryPrice money.Amount
	Margin     money.Amount
}

func (p *Position) IsLong() bool  { return p.Size > 0 }
func (p *Position) IsShort() bool { return p.Size < 0 }

// Notional returns |Size| * price / Unit.
func (p *Position) Notional(price money.Amount) money.Amount {
	n, _ := money.Notional(price, money.Abs(p.Size))
	return n
}

// UnrealizedPnL returns (price-EntryPrice)*Size/Unit.
func (p *Position) UnrealizedPnL(price money.Amount) money.Amount {
	if p.Size == 0 {
		return 0
	}
	diff := price - p.EntryPrice
	pnl, _ := money.Notional(diff, p.Size)
	return pnl
}

// MaintenanceMargin returns the margin this position must retain at the
// given mark price to avoid liquidation: Notional(price) *
// MaintenanceMarginBps / 10000, mirroring
// pkg/app/core/account/manager.go's CheckLiquidation formula.
func (p *Position) MaintenanceMargin(params *catalog.Params, markPrice money.Amount) money.Amount {
	if p.Size == 0 {
		return 0
	}
	req, _ := money.BpsOf(p.Notional(markPrice), params.MaintenanceMarginBps)
	return req
}

// Equity returns this position's margin plus its unrealized PnL at the
// given mark price.
func (p *Position) Equity(markPrice money.Amount) money.Amount {
	return p.Margin + p.UnrealizedPnL(markPrice)
}

// Manager tracks positions for every (owner, symbol) pair the sequencer
// has touched. One Manager per shard, single-writer, mirroring
// pkg/app/core/account.AccountManager's in-memory-cache shape (positions
// are not persisted; recovery rebuilds them by replaying the journal).
type Manager struct {
	mu        sync.RWMutex
	positions map[string]map[string]*Position // owner -> symbol -> position
}

func New() *Manager {
	return &Manager{positions: make(map[string]map[string]*Position)}
}

// Get returns the position for (owner, symbol), creating a flat one if
// none exists yet, mirroring AccountManager.GetAccount's
// create-on-first-touch behavior.
func (m *Manager) Get(owner, symbol string) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(owner, symbol)
}

func (m *Manager) getLocked(owner, symbol string) *Position {
	bySymbol, ok := m.positions[owner]
	if !ok {
		bySymbol = make(map[string]*Position)
		m.positions[owner] = bySymbol
	}
	p, ok := bySymbol[symbol]
	if !ok {
		p = &Position{Owner: owner, Symbol: symbol}
		bySymbol[symbol] = p
	}
	return p
}

// Snapshot returns a defensive copy of a position for read-only use
// (risk checks, API snapshots).
func (m *Manager) Snapshot(owner, symbol string) Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySymbol, ok := m.positions[owner]
	if !ok {
		return Position{Owner: owner, Symbol: symbol}
	}
	p, ok := bySymbol[symbol]
	if !ok {
		return Position{Owner: owner, Symbol: symbol}
	}
	return *p
}

// ApplyFill updates a position for one side of a trade. sizeDelta is
// positive for a buy fill, negative for a sell fill. marginDelta is the
// change in locked margin the RiskGate computed for this fill. Returns
// realized PnL produced by any reduce/close/flip.
func (m *Manager) ApplyFill(owner, symbol string, sizeDelta, price, marginDelta money.Amount) (realizedPnL money.Amount, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.getLocked(owner, symbol)
	oldSize := pos.Size
	newSize := oldSize + sizeDelta

	switch {
	case newSize == 0:
		realizedPnL = closePnL(pos, price, oldSize)
		pos.Size, pos.EntryPrice, pos.Margin = 0, 0, 0

	case sameDirection(oldSize, newSize):
		if oldSize == 0 {
			pos.EntryPrice = price
		} else {
			pos.EntryPrice = vwap(pos.EntryPrice, money.Abs(oldSize), price, money.Abs(sizeDelta), money.Abs(newSize))
		}
		pos.Size = newSize
		pos.Margin += marginDelta

	default: // reducing or flipping
		closedSize := minAmt(money.Abs(oldSize), money.Abs(sizeDelta))
		pnl, e := money.Notional(price-pos.EntryPrice, closedSize)
		if e != nil {
			return 0, fmt.Errorf("position: realized pnl overflow: %w", e)
		}
		if oldSize < 0 {
			pnl = -pnl
		}
		realizedPnL = pnl

		pos.Size = newSize
		switch {
		case newSize == 0:
			pos.EntryPrice, pos.Margin = 0, 0
		case flipped(oldSize, newSize):
			pos.EntryPrice = price
			pos.Margin = marginDelta
		default:
			pos.Margin += marginDelta
		}
	}

	return realizedPnL, nil
}

func closePnL(pos *Position, price, oldSize money.Amount) money.Amount {
	pnl, _ := money.Notional(price-pos.EntryPrice, oldSize)
	return pnl
}

func sameDirection(oldSize, newSize money.Amount) bool {
	return (oldSize >= 0 && newSize >= 0) || (oldSize <= 0 && newSize <= 0)
}

func flipped(oldSize, newSize money.Amount) bool {
	return (oldSize > 0 && newSize < 0) || (oldSize < 0 && newSize > 0)
}

func vwap(oldPrice, oldAbsSize, newPrice, deltaAbsSize, newAbsSize money.Amount) money.Amount {
	a, _ := money.MulDiv(oldPrice, oldAbsSize, 1)
	b, _ := money.MulDiv(newPrice, deltaAbsSize, 1)
	sum, _ := money.Add(a, b)
	avg, _ := money.MulDiv(sum, 1, newAbsSize)
	return avg
}

func minAmt(a, b money.Amount) money.Amount {
	if a < b {
		return a
	}
	return b
}

// AllForOwner returns every non-flat position an owner holds, used by
// the RiskGate's total-leverage check and by liquidation scans.
func (m *Manager) AllForOwner(owner string) []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySymbol := m.positions[owner]
	out := make([]Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		if p.Size != 0 {
			out = append(out, *p)
		}
	}
	return out
}

// All returns a snapshot of every open position the manager holds
// across every owner, for AppHash/state-digest computation. Callers
// must impose their own deterministic ordering before hashing.
func (m *Manager) All() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Position
	for _, bySymbol := range m.positions {
		for _, p := range bySymbol {
			if p.Size != 0 {
				out = append(out, *p)
			}
		}
	}
	return out
}

// ApplyFunding credits or debits a position's margin by its funding
// payment for one interval: payment = Notional(markPrice) * rateBps /
// 10000, paid by longs to shorts when rateBps is positive. Returns the
// signed payment applied (negative means the position paid out).
func (m *Manager) ApplyFunding(owner, symbol string, markPrice money.Amount, rateBps int64) (money.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.getLocked(owner, symbol)
	if pos.Size == 0 {
		return 0, nil
	}
	payment, err := money.BpsOf(pos.Notional(markPrice), rateBps)
	if err != nil {
		return 0, fmt.Errorf("position: funding overflow: %w", err)
	}
	if pos.Size < 0 {
		payment = -payment
	}
	pos.Margin -= payment
	return -payment, nil
}

// ForceClose zeroes a position as a forced liquidation would, returning
// the realized PnL and the margin that is released back to the account.
func (m *Manager) ForceClose(owner, symbol string, markPrice money.Amount) (realizedPnL, releasedMargin money.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.getLocked(owner, symbol)
	if pos.Size == 0 {
		return 0, 0
	}
	realizedPnL = closePnL(pos, markPrice, pos.Size)
	releasedMargin = pos.Margin
	pos.Size, pos.EntryPrice, pos.Margin = 0, 0, 0
	return realizedPnL, releasedMargin
}

// ShouldLiquidate reports whether a position's equity has fallen below
// its maintenance margin requirement at the given mark price, mirroring
// pkg/app/core/account/manager.go's CheckLiquidation.
func ShouldLiquidate(p Position, params *catalog.Params, markPrice money.Amount) (liquidate bool, equity, maintenance money.Amount) {
	if p.Size == 0 {
		return false, p.Margin, 0
	}
	equity = p.Equity(markPrice)
	maintenance = p.MaintenanceMargin(params, markPrice)
	return equity < maintenance, equity, maintenance
}
