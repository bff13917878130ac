// Package book implements a single-symbol, price-time-priority limit
// order book: two price heaps for O(1) best-price lookup, a FIFO queue
// per price level, and an order index for lookup by ID — the structure of
// pkg/app/core/orderbook/orderbook.go, generalized from a GTC/IOC-only
// matcher to the full order-type and time-in-force matrix spec.md
// requires (MARKET, LIMIT, STOP, STOP_LIMIT, POST_ONLY, REDUCE_ONLY, IOC,
// FOK) plus self-trade prevention.
package book

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/money"
)

// Book is the order book for one symbol. The sequencer is the sole
// mutator — methods assume single-writer access but keep an RWMutex, the
// way the teacher's OrderBook does, so BBO/Depth reads from other
// goroutines (API snapshot publication) never block the writer for long.
type Book struct {
	mu sync.RWMutex

	params *catalog.Params

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[money.Amount][]*Order
	asks map[money.Amount][]*Order

	orderIndex map[string]*Order // id -> order (authoritative live copy)

	// Parked stop / stop-limit orders, keyed by side. They never enter
	// bids/asks or orderIndex until triggered.
	buyStops  []*Order
	sellStops []*Order

	lastPrice    money.Amount
	nextSequence uint64
}

// New creates an empty book for the given symbol parameters.
func New(params *catalog.Params) *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		params:     params,
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[money.Amount][]*Order),
		asks:       make(map[money.Amount][]*Order),
		orderIndex: make(map[string]*Order),
	}
}

// Result is everything Submit produces: fills, orders removed purely as a
// side effect of self-trade prevention, and whether the taker ended up
// resting on the book.
type Result struct {
	Fills             []Fill
	SelfTradeCanceled []string
	Rested            bool
}

func (b *Book) bestBid() (money.Amount, bool) { return b.bidHeap.Peek() }
func (b *Book) bestAsk() (money.Amount, bool) { return b.askHeap.Peek() }

func minAmt(a, b money.Amount) money.Amount {
	if a < b {
		return a
	}
	return b
}

// Submit validates and applies an incoming order. The caller (RiskGate,
// via the sequencer) has already performed account-level checks; Submit
// enforces only book-local invariants: tick/lot alignment, size bounds,
// POST_ONLY/FOK semantics and self-trade prevention.
func (b *Book) Submit(o *Order) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitLocked(o, false)
}

// SubmitLiquidation submits a forced-liquidation MARKET order the same
// way Submit does, except it does not enforce the per-order
// min/max-size cap: that cap bounds a user's order intent, but a
// liquidation's size is dictated by the position being closed, which
// can exceed it (spec.md §4's MaxPosition is allowed to exceed
// MaxOrderSize). Tick/lot alignment and self-trade prevention still
// apply.
func (b *Book) SubmitLiquidation(o *Order) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitLocked(o, true)
}

func (b *Book) submitLocked(o *Order, bypassSizeCap bool) (*Result, error) {
	if o.Type == Stop || o.Type == StopLimit {
		return b.parkStop(o)
	}

	if err := b.validate(o, bypassSizeCap); err != nil {
		return nil, err
	}

	if o.TIF == PostOnly {
		if b.wouldCross(o) {
			return nil, reject(RejectPostOnlyWouldCross, "post-only order would cross the book")
		}
	}

	if o.TIF == FOK {
		if b.fillableQty(o) < o.Qty {
			return nil, reject(RejectFOKUnfillable, "fill-or-kill order cannot be fully filled")
		}
	}

	res := &Result{}
	b.match(o, res)

	if o.Qty > 0 {
		switch o.TIF {
		case GTC, PostOnly:
			o.SequenceNo = b.nextSeq()
			b.addOrder(o)
			res.Rested = true
		case IOC, FOK:
			// remainder is killed, not rested
		}
	}

	b.triggerStops(res)
	return res, nil
}

func (b *Book) nextSeq() uint64 {
	b.nextSequence++
	return b.nextSequence
}

func (b *Book) validate(o *Order, bypassSizeCap bool) error {
	if o.Type != Market {
		if o.Price%b.params.TickSize != 0 {
			return reject(RejectBadTick, fmt.Sprintf("price %d not a multiple of tick size %d", o.Price, b.params.TickSize))
		}
	}
	if o.Qty%b.params.LotSize != 0 {
		return reject(RejectBadLot, fmt.Sprintf("qty %d not a multiple of lot size %d", o.Qty, b.params.LotSize))
	}
	if !bypassSizeCap {
		if err := b.params.ValidateOrder(o.Qty); err != nil {
			return reject(RejectSizeOutOfBounds, err.Error())
		}
	}
	return nil
}

// wouldCross reports whether o would immediately match against the
// resting book, without mutating any state.
func (b *Book) wouldCross(o *Order) bool {
	if o.Side == Buy {
		askP, ok := b.bestAsk()
		return ok && askP <= o.Price
	}
	bidP, ok := b.bestBid()
	return ok && bidP >= o.Price
}

// fillableQty computes how much of o could be matched right now, without
// mutating the book. Used for FOK pre-checks, so it must mirror
// matchLevel's actual self-trade behavior exactly: under CancelTaker and
// CancelBoth a self-trade maker stops the walk dead (matchLevel aborts
// the whole match there), it does not get skipped in favor of deeper
// liquidity. Only CancelMaker, which removes the maker and keeps
// walking, skips past it here.
func (b *Book) fillableQty(o *Order) money.Amount {
	var total money.Amount
	if o.Side == Buy {
		prices := b.sortedAskPrices()
		for _, p := range prices {
			if o.Type != Market && p > o.Price {
				break
			}
			for _, maker := range b.asks[p] {
				if b.selfTrades(o, maker) {
					if b.params.SelfTradePolicy == catalog.CancelMaker {
						continue
					}
					return total
				}
				total += maker.Qty
				if total >= o.Qty {
					return total
				}
			}
		}
	} else {
		prices := b.sortedBidPrices()
		for _, p := range prices {
			if o.Type != Market && p < o.Price {
				break
			}
			for _, maker := range b.bids[p] {
				if b.selfTrades(o, maker) {
					if b.params.SelfTradePolicy == catalog.CancelMaker {
						continue
					}
					return total
				}
				total += maker.Qty
				if total >= o.Qty {
					return total
				}
			}
		}
	}
	return total
}

func (b *Book) sortedBidPrices() []money.Amount {
	out := make([]money.Amount, 0, len(b.bids))
	for p := range b.bids {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func (b *Book) sortedAskPrices() []money.Amount {
	out := make([]money.Amount, 0, len(b.asks))
	for p := range b.asks {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Book) selfTrades(taker, maker *Order) bool {
	return taker.OwnerID != "" && taker.OwnerID == maker.OwnerID
}

// match walks the opposite side's price levels and fills o, applying the
// self-trade prevention policy at each candidate match.
func (b *Book) match(o *Order, res *Result) {
	if o.Side == Buy {
		for o.Qty > 0 {
			askP, ok := b.bestAsk()
			if !ok || (o.Type != Market && askP > o.Price) {
				return
			}
			if b.matchLevel(o, b.asks, askP, b.removeFromAskHeap, res) {
				continue
			}
			return
		}
		return
	}
	for o.Qty > 0 {
		bidP, ok := b.bestBid()
		if !ok || (o.Type != Market && bidP < o.Price) {
			return
		}
		if b.matchLevel(o, b.bids, bidP, b.removeFromBidHeap, res) {
			continue
		}
		return
	}
}

// matchLevel consumes makers at a single price level against o. Returns
// true if the loop should continue to the next iteration (level advanced
// or a maker was consumed/cancelled), false if matching at this level is
// exhausted and the caller should stop.
func (b *Book) matchLevel(o *Order, side map[money.Amount][]*Order, price money.Amount, removeHeap func(money.Amount), res *Result) bool {
	level := side[price]
	if len(level) == 0 {
		delete(side, price)
		removeHeap(price)
		return true
	}
	maker := level[0]

	if b.selfTrades(o, maker) {
		switch b.params.SelfTradePolicy {
		case catalog.CancelMaker:
			b.removeHead(side, price, removeHeap)
			delete(b.orderIndex, maker.ID)
			res.SelfTradeCanceled = append(res.SelfTradeCanceled, maker.ID)
			return true
		case catalog.CancelBoth:
			b.removeHead(side, price, removeHeap)
			delete(b.orderIndex, maker.ID)
			res.SelfTradeCanceled = append(res.SelfTradeCanceled, maker.ID, o.ID)
			o.Qty = 0
			return false
		default: // CancelTaker
			res.SelfTradeCanceled = append(res.SelfTradeCanceled, o.ID)
			o.Qty = 0
			return false
		}
	}

	match := minAmt(o.Qty, maker.Qty)
	o.Qty -= match
	maker.Qty -= match
	b.lastPrice = price

	res.Fills = append(res.Fills, Fill{
		TakerOrderID:   o.ID,
		MakerOrderID:   maker.ID,
		TakerOwner:     o.OwnerID,
		MakerOwner:     maker.OwnerID,
		Price:          price,
		Qty:            match,
		MakerRemaining: maker.Qty,
	})

	if maker.Qty == 0 {
		b.removeHead(side, price, removeHeap)
		delete(b.orderIndex, maker.ID)
	}
	return true
}

func (b *Book) removeHead(side map[money.Amount][]*Order, price money.Amount, removeHeap func(money.Amount)) {
	level := side[price]
	side[price] = level[1:]
	if len(side[price]) == 0 {
		delete(side, price)
		removeHeap(price)
	}
}

// RestoreOrder inserts o directly onto the book without running it
// through match(), for Recovery rebuilding resting state from the
// journal: those fills already happened and must not be produced a
// second time.
func (b *Book) RestoreOrder(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o.SequenceNo == 0 {
		o.SequenceNo = b.nextSeq()
	}
	b.addOrder(o)
}

func (b *Book) addOrder(o *Order) {
	b.orderIndex[o.ID] = o
	if o.Side == Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
		return
	}
	if len(b.asks[o.Price]) == 0 {
		heap.Push(b.askHeap, o.Price)
	}
	b.asks[o.Price] = append(b.asks[o.Price], o)
}

func (b *Book) removeFromBidHeap(price money.Amount) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i] == price {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeFromAskHeap(price money.Amount) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Cancel removes a resting order by ID. Returns the canceled order, or a
// *RejectError with RejectUnknownOrder if it is not resting (already
// filled, already canceled, or never existed).
func (b *Book) Cancel(id string) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelLocked(id)
}

func (b *Book) cancelLocked(id string) (*Order, error) {
	o, ok := b.orderIndex[id]
	if !ok {
		return nil, reject(RejectUnknownOrder, id)
	}

	side := b.bids
	removeHeap := b.removeFromBidHeap
	if o.Side == Sell {
		side = b.asks
		removeHeap = b.removeFromAskHeap
	}

	level := side[o.Price]
	for i, lo := range level {
		if lo.ID == id {
			side[o.Price] = append(level[:i], level[i+1:]...)
			if len(side[o.Price]) == 0 {
				delete(side, o.Price)
				removeHeap(o.Price)
			}
			break
		}
	}
	delete(b.orderIndex, id)
	return o, nil
}

// Modify atomically cancels and re-submits an order under a new
// price/quantity, losing time priority — the teacher's orderbook has no
// modify path; this generalizes Cancel+Place into one book-local
// operation per spec.md §4.2. newQty is the order's new *total*
// requested quantity, not its new remaining quantity; modifying at or
// below the amount already filled is rejected.
func (b *Book) Modify(id string, newPrice, newQty money.Amount) (*Result, error) {
	b.mu.Lock()
	existing, ok := b.orderIndex[id]
	if !ok {
		b.mu.Unlock()
		return nil, reject(RejectUnknownOrder, id)
	}
	filled := existing.OrigQty - existing.Qty
	if newQty <= filled {
		b.mu.Unlock()
		return nil, reject(RejectModifyBelowFilled, fmt.Sprintf("new qty %d at or below filled %d", newQty, filled))
	}

	replacement := &Order{
		ID:         existing.ID,
		OwnerID:    existing.OwnerID,
		Symbol:     existing.Symbol,
		Side:       existing.Side,
		Type:       existing.Type,
		TIF:        existing.TIF,
		Price:      newPrice,
		StopPrice:  existing.StopPrice,
		OrigQty:    newQty,
		Qty:        newQty - filled,
		ReduceOnly: existing.ReduceOnly,
	}
	if _, err := b.cancelLocked(id); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()

	return b.Submit(replacement)
}

// parkStop stores a STOP/STOP_LIMIT order until its trigger price is
// crossed by the last trade or an applied reference price.
func (b *Book) parkStop(o *Order) (*Result, error) {
	if o.Side == Buy {
		b.buyStops = append(b.buyStops, o)
	} else {
		b.sellStops = append(b.sellStops, o)
	}
	return &Result{}, nil
}

// triggerStops activates any parked stop orders whose trigger condition
// the current last-trade price now satisfies, matching them in the same
// pass. Buy stops trigger when price rises to or through StopPrice; sell
// stops trigger when price falls to or through StopPrice.
func (b *Book) triggerStops(res *Result) {
	if b.lastPrice == 0 {
		return // no trade or reference price yet
	}
	triggered := true
	for triggered {
		triggered = false

		remaining := b.buyStops[:0]
		for _, s := range b.buyStops {
			if b.lastPrice >= s.StopPrice {
				b.fireStop(s, res)
				triggered = true
				continue
			}
			remaining = append(remaining, s)
		}
		b.buyStops = remaining

		remaining = b.sellStops[:0]
		for _, s := range b.sellStops {
			if b.lastPrice <= s.StopPrice {
				b.fireStop(s, res)
				triggered = true
				continue
			}
			remaining = append(remaining, s)
		}
		b.sellStops = remaining
	}
}

func (b *Book) fireStop(s *Order, res *Result) {
	live := *s
	if live.Type == Stop {
		live.Type = Market
		live.TIF = IOC
	} else {
		live.Type = Limit
	}
	b.match(&live, res)
	if live.Qty > 0 && live.TIF == GTC {
		live.SequenceNo = b.nextSeq()
		b.addOrder(&live)
		res.Rested = true
	}
}

// ApplyReference feeds an externally-observed reference price into the
// book's stop-trigger evaluation, for symbols where no trade has
// occurred recently enough to drive stops off the last trade price.
func (b *Book) ApplyReference(price money.Amount) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = price
	res := &Result{}
	b.triggerStops(res)
	return res
}

// BBO returns the best bid and ask price levels. ok is false for a side
// with no resting orders.
func (b *Book) BBO() (bid PriceLevel, bidOK bool, ask PriceLevel, askOK bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if p, ok := b.bestBid(); ok {
		bid = PriceLevel{Price: p, Qty: sumQty(b.bids[p])}
		bidOK = true
	}
	if p, ok := b.bestAsk(); ok {
		ask = PriceLevel{Price: p, Qty: sumQty(b.asks[p])}
		askOK = true
	}
	return
}

func sumQty(orders []*Order) money.Amount {
	var total money.Amount
	for _, o := range orders {
		total += o.Qty
	}
	return total
}

// Depth returns up to n aggregated price levels per side, best price
// first, mirroring pkg/app/core/orderbook.OrderBook's
// GetBidLevels/GetAskLevels.
func (b *Book) Depth(n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, p := range b.sortedBidPrices() {
		bids = append(bids, PriceLevel{Price: p, Qty: sumQty(b.bids[p])})
		if len(bids) == n {
			break
		}
	}
	for _, p := range b.sortedAskPrices() {
		asks = append(asks, PriceLevel{Price: p, Qty: sumQty(b.asks[p])})
		if len(asks) == n {
			break
		}
	}
	return
}

// LastPrice returns the most recent trade price, or 0 if no trade has
// occurred.
func (b *Book) LastPrice() money.Amount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// SetLastPrice restores the book's last-trade price without matching
// anything, for Recovery rebuilding a fresh book up through the last
// journaled fill.
func (b *Book) SetLastPrice(price money.Amount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = price
}

// Order looks up a resting order by ID without mutating the book.
func (b *Book) Order(id string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orderIndex[id]
	return o, ok
}

// CountOwnerOrders returns the number of orders owner currently has
// resting on this book, for the RiskGate's open-order-count cap.
func (b *Book) CountOwnerOrders(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, o := range b.orderIndex {
		if o.OwnerID == owner {
			n++
		}
	}
	return n
}
