// Package sequencer implements the single-writer-per-shard matching
// engine core: one goroutine per shard drains a bounded command queue
// and drives every command through the fixed
// RiskGate -> Book -> PositionManager -> Ledger -> Journal pipeline,
// generalizing pkg/app/perp/app.go's FinalizeBlock (sequential
// apply-and-hash over a block's transactions) from a single global book
// to N independently-owned per-symbol shards, and
// pkg/app/core/mempool.Mempool's bounded-queue submission model into a
// true backpressure-signalling channel.
package sequencer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/breaker"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/position"
	"github.com/hlq/matchcore/pkg/engine/risk"
)

// job is one enqueued command plus the channel its result is delivered
// on.
type job struct {
	cmd    any
	respCh chan Result
}

// Shard owns a disjoint set of symbols and is the sole mutator of their
// books, positions, ledger entries and breaker state. Sharding by symbol
// follows SPEC_FULL.md §7's generalization of the teacher's
// single-process single-App design to N independent Shard instances.
type Shard struct {
	id      uint32
	catalog *catalog.Registry
	ledger  *ledger.Ledger
	pos     *position.Manager
	gate    *risk.Gate
	journal *journal.Journal

	books    map[string]*book.Book
	breakers map[string]*breaker.Breaker

	cmdCh      chan job
	commandSeq uint64

	clock func() int64 // injectable for deterministic replay/tests

	running int32
}

// Config bundles a new Shard's dependencies and queue depth.
type Config struct {
	ID         uint32
	Catalog    *catalog.Registry
	Ledger     *ledger.Ledger
	Positions  *position.Manager
	Gate       *risk.Gate
	Journal    *journal.Journal
	QueueDepth int
	Clock      func() int64 // defaults to time.Now().UnixNano
}

// NewShard builds a Shard that owns the given symbols, each starting in
// Normal breaker state with reference price 0 until the first
// ApplyReferencePrice command arrives.
func NewShard(cfg Config, symbols []string) (*Shard, error) {
	s, err := newShard(cfg)
	if err != nil {
		return nil, err
	}
	for _, sym := range symbols {
		params, err := cfg.Catalog.Lookup(sym)
		if err != nil {
			return nil, fmt.Errorf("sequencer: shard %d: %w", cfg.ID, err)
		}
		s.books[sym] = book.New(params)
		s.breakers[sym] = breaker.New(params, 0)
	}
	return s, nil
}

// NewShardFromRecovery builds a Shard whose ledger, positions, books and
// breakers are the ones pkg/engine/recovery.Recover rebuilt from a
// restart, instead of the fresh state NewShard constructs for a symbol's
// first run. cfg.Ledger and cfg.Positions are ignored in favor of st's.
func NewShardFromRecovery(cfg Config, st *RecoveredState) (*Shard, error) {
	cfg.Ledger = st.Ledger
	cfg.Positions = st.Positions
	s, err := newShard(cfg)
	if err != nil {
		return nil, err
	}
	s.books = st.Books
	s.breakers = st.Breakers
	return s, nil
}

// RecoveredState is the subset of pkg/engine/recovery.State a Shard needs
// to resume from; kept as a same-shaped local type so this package does
// not import recovery (which itself imports book/breaker/ledger/position,
// not sequencer); neither package imports the other.
type RecoveredState struct {
	Ledger    *ledger.Ledger
	Positions *position.Manager
	Books     map[string]*book.Book
	Breakers  map[string]*breaker.Breaker
}

func newShard(cfg Config) (*Shard, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UnixNano() }
	}

	return &Shard{
		id:       cfg.ID,
		catalog:  cfg.Catalog,
		ledger:   cfg.Ledger,
		pos:      cfg.Positions,
		gate:     cfg.Gate,
		journal:  cfg.Journal,
		books:    make(map[string]*book.Book),
		breakers: make(map[string]*breaker.Breaker),
		cmdCh:    make(chan job, cfg.QueueDepth),
		clock:    clock,
	}, nil
}

// Run drains the command queue on the calling goroutine until ctx is
// canceled. Exactly one goroutine should call Run for a given Shard —
// this is the single-writer invariant every downstream package assumes.
func (s *Shard) Run(ctx context.Context) {
	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.cmdCh:
			j.respCh <- s.apply(j.cmd)
		}
	}
}

// Submit enqueues cmd and blocks for its result, or returns ErrQueueFull
// immediately if the shard's queue has no room. ctx cancellation while
// waiting for the queued command to be applied returns ctx.Err().
func (s *Shard) Submit(ctx context.Context, cmd any) (Result, error) {
	j := job{cmd: cmd, respCh: make(chan Result, 1)}

	select {
	case s.cmdCh <- j:
	default:
		return Result{}, ErrQueueFull
	}

	select {
	case res := <-j.respCh:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ApplyBatch applies cmds in order on the calling goroutine, bypassing
// the command queue entirely. It exists for consensus-driven operation
// (pkg/app/perp.App.FinalizeBlock), where the replication layer already
// guarantees exactly one caller drives a given height's commands
// sequentially — the same single-writer invariant Run provides a live
// queue, just without the channel indirection a deterministic,
// already-ordered batch doesn't need.
func (s *Shard) ApplyBatch(cmds []any) []Result {
	out := make([]Result, len(cmds))
	for i, c := range cmds {
		out[i] = s.apply(c)
	}
	return out
}

// Symbols returns the symbols this shard owns.
func (s *Shard) Symbols() []string {
	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	return out
}

// Book returns the shard's book for symbol, if owned.
func (s *Shard) Book(symbol string) (*book.Book, bool) {
	b, ok := s.books[symbol]
	return b, ok
}

// Ledger returns the shard's ledger, for state-digest computation.
func (s *Shard) Ledger() *ledger.Ledger { return s.ledger }

// Positions returns the shard's position manager, for state-digest
// computation.
func (s *Shard) Positions() *position.Manager { return s.pos }

func (s *Shard) apply(cmd any) Result {
	s.commandSeq++
	switch c := cmd.(type) {
	case SubmitOrder:
		return s.applySubmitOrder(c)
	case CancelOrder:
		return s.applyCancel(c)
	case ModifyOrder:
		return s.applyModify(c)
	case ApplyReferencePrice:
		return s.applyReferencePrice(c)
	case ApplyFunding:
		return s.applyFunding(c)
	case Deposit:
		return s.applyDeposit(c)
	case Withdraw:
		return s.applyWithdraw(c)
	case Liquidate:
		return s.applyLiquidate(c)
	case HaltSymbol:
		return s.applyHaltSymbol(c)
	case ResumeSymbol:
		return s.applyResumeSymbol(c)
	default:
		return Result{Err: fmt.Errorf("sequencer: unknown command type %T", cmd)}
	}
}

func (s *Shard) commit(kind journal.Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	if s.journal != nil {
		_ = s.journal.Commit(s.commandSeq, kind, data)
	}
}

func (s *Shard) nowNano() int64 { return s.clock() }
