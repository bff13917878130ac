package book

import "github.com/hlq/matchcore/pkg/money"

// Side is which side of the book an order rests on or crosses against.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the full order-type matrix spec.md §3/§4.2 requires.
type OrderType int8

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
)

// TimeInForce controls how an order behaves once it reaches the book.
type TimeInForce int8

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "POST_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Order is a single resting or in-flight order. OwnerID is compared
// against resting orders' OwnerID to enforce self-trade prevention.
type Order struct {
	ID      string
	OwnerID string
	Symbol  string

	Side Side
	Type OrderType
	TIF  TimeInForce

	Price       money.Amount // limit price; ignored for MARKET
	StopPrice   money.Amount // trigger price for STOP/STOP_LIMIT
	Qty         money.Amount // remaining quantity
	OrigQty     money.Amount // quantity at submission, for fill-ratio/FOK checks
	ReduceOnly  bool

	SequenceNo uint64 // assigned at book-entry time, breaks price-time ties
}

// Remaining returns the quantity the order still has left to match.
func (o *Order) Remaining() money.Amount { return o.Qty }

// PriceLevel is an aggregated view of one price for depth/BBO reporting.
type PriceLevel struct {
	Price money.Amount
	Qty   money.Amount
}

// Fill is one maker/taker match produced by Submit.
type Fill struct {
	TakerOrderID string
	MakerOrderID string
	TakerOwner   string
	MakerOwner   string
	Price        money.Amount
	Qty          money.Amount
	MakerRemaining money.Amount
}

// RejectReason is the machine-readable reason code carried on the event
// bus for a command the book refused to apply, per spec.md §6/§7.
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectBadTick           RejectReason = "BAD_TICK"
	RejectBadLot            RejectReason = "BAD_LOT"
	RejectSizeOutOfBounds   RejectReason = "SIZE_OUT_OF_BOUNDS"
	RejectPostOnlyWouldCross RejectReason = "POST_ONLY_WOULD_CROSS"
	RejectFOKUnfillable     RejectReason = "FOK_UNFILLABLE"
	RejectUnknownOrder      RejectReason = "UNKNOWN_ORDER"
	RejectModifyBelowFilled RejectReason = "MODIFY_BELOW_FILLED"
	RejectHalted            RejectReason = "HALTED"
)

// RejectError carries a RejectReason alongside a human-readable message.
type RejectError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectError) Error() string { return string(e.Reason) + ": " + e.Message }

func reject(reason RejectReason, msg string) error {
	return &RejectError{Reason: reason, Message: msg}
}
