// Package catalog holds the immutable per-symbol trading parameters that
// every other engine package consults: tick/lot sizes, fee and margin
// schedules, circuit-breaker bands and the self-trade prevention default.
package catalog

import (
	"fmt"

	"github.com/hlq/matchcore/pkg/money"
)

// SelfTradePolicy controls which side of a would-be self-trade is
// cancelled when an incoming order matches against a resting order from
// the same owner.
type SelfTradePolicy int8

const (
	CancelTaker SelfTradePolicy = iota
	CancelMaker
	CancelBoth
)

func (p SelfTradePolicy) String() string {
	switch p {
	case CancelTaker:
		return "CANCEL_TAKER"
	case CancelMaker:
		return "CANCEL_MAKER"
	case CancelBoth:
		return "CANCEL_BOTH"
	default:
		return "UNKNOWN"
	}
}

// Band is one step of a circuit breaker's escalating halt ladder: a trade
// price at least MoveBps away from the reference price triggers a halt of
// Duration.
type Band struct {
	MoveBps  int64
	Duration int64 // nanoseconds, kept as int64 so journal records stay integer-only
}

// Params is the immutable configuration for one trading symbol. Fields
// mirror pkg/app/core/market.Market, generalized with the circuit-breaker
// bands and self-trade policy spec.md requires that the teacher's Market
// struct does not carry.
type Params struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string

	TickSize money.Amount
	LotSize  money.Amount

	MinOrderSize money.Amount
	MaxOrderSize money.Amount
	MaxPosition  money.Amount

	MakerFeeBps           int64
	TakerFeeBps           int64
	InitialMarginBps      int64
	MaintenanceMarginBps  int64
	MaxLeverage           int64

	CircuitBands [3]Band

	SelfTradePolicy SelfTradePolicy

	// MaxOpenOrders caps how many orders a single owner may have resting
	// on this symbol's book at once (spec.md §4.4 check #4). Zero means
	// unlimited, for tests that don't care about the cap.
	MaxOpenOrders int
}

// Validate applies the same sanity checks pkg/app/core/market.Market.Validate
// performs, generalized to the new Params shape.
func (p *Params) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("catalog: symbol cannot be empty")
	}
	if p.TickSize <= 0 {
		return fmt.Errorf("catalog: %s tick size must be positive", p.Symbol)
	}
	if p.LotSize <= 0 {
		return fmt.Errorf("catalog: %s lot size must be positive", p.Symbol)
	}
	if p.MinOrderSize <= 0 || p.MaxOrderSize <= 0 {
		return fmt.Errorf("catalog: %s order size bounds must be positive", p.Symbol)
	}
	if p.MinOrderSize > p.MaxOrderSize {
		return fmt.Errorf("catalog: %s min order size exceeds max", p.Symbol)
	}
	if p.MaxPosition < p.MaxOrderSize {
		return fmt.Errorf("catalog: %s max position must be >= max order size", p.Symbol)
	}
	if p.MaintenanceMarginBps <= 0 || p.MaintenanceMarginBps > p.InitialMarginBps {
		return fmt.Errorf("catalog: %s maintenance margin must be positive and <= initial margin", p.Symbol)
	}
	if p.MaxLeverage <= 0 {
		return fmt.Errorf("catalog: %s max leverage must be positive", p.Symbol)
	}
	if p.MaxOpenOrders < 0 {
		return fmt.Errorf("catalog: %s max open orders cannot be negative", p.Symbol)
	}
	return nil
}

// RoundToTick truncates price to the nearest lower multiple of TickSize.
func (p *Params) RoundToTick(price money.Amount) money.Amount {
	r := price % p.TickSize
	return price - r
}

// ValidateOrder mirrors pkg/app/core/market.Market.ValidateOrder, checking
// size bounds only — notional/margin checks live in the RiskGate since
// they require account state the catalog does not hold.
func (p *Params) ValidateOrder(qty money.Amount) error {
	if qty < p.MinOrderSize {
		return fmt.Errorf("catalog: order size %d below minimum %d", qty, p.MinOrderSize)
	}
	if qty > p.MaxOrderSize {
		return fmt.Errorf("catalog: order size %d exceeds maximum %d", qty, p.MaxOrderSize)
	}
	return nil
}
