package book

import "github.com/hlq/matchcore/pkg/money"

// maxPriceHeap and minPriceHeap are the bid/ask best-price trackers,
// generalized from pkg/app/core/orderbook/heap.go's int64 heaps to
// money.Amount.

type maxPriceHeap []money.Amount

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(money.Amount))
}

func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h maxPriceHeap) Peek() (money.Amount, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}

type minPriceHeap []money.Amount

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(money.Amount))
}

func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h minPriceHeap) Peek() (money.Amount, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}
