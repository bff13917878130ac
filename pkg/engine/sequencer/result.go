package sequencer

import (
	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/money"
)

// Result is the single outcome shape returned for every command kind;
// only the fields relevant to the command that produced it are
// populated, the same sparse-union shape the teacher's
// fillWithMetadata/FinalizeBlock response takes for heterogeneous
// command outcomes.
type Result struct {
	Err error

	Fills             []book.Fill
	SelfTradeCanceled []string
	Rested            bool
	RequiredMargin    money.Amount

	CanceledOrder  *book.Order
	RealizedPnL    money.Amount
	ReleasedMargin money.Amount
	Deficit        money.Amount
	Position       position.Position

	Halted bool
}

// ErrQueueFull is returned by Shard.Submit when the shard's bounded
// command queue has no room, the backpressure signal spec.md §5
// requires instead of an unbounded queue that could grow without limit
// under load.
var ErrQueueFull = errQueueFull{}

type errQueueFull struct{}

func (errQueueFull) Error() string { return "sequencer: command queue full" }
