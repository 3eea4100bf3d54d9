package model

import (
	"errors"
	"fmt"
	"time"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the requested execution type.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderState is the lifecycle state of an order.
type OrderState int

const (
	OrderCreated OrderState = iota
	OrderSubmitted
	OrderAccepted
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderRejected
	OrderExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderCreated:
		return "created"
	case OrderSubmitted:
		return "submitted"
	case OrderAccepted:
		return "accepted"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	case OrderRejected:
		return "rejected"
	case OrderExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions may leave this state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// orderTransitions is the fixed set of allowed state transitions. Terminal
// states have no outgoing edges.
var orderTransitions = map[OrderState][]OrderState{
	OrderCreated:         {OrderSubmitted, OrderRejected, OrderExpired},
	OrderSubmitted:       {OrderAccepted, OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected, OrderExpired},
	OrderAccepted:        {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected, OrderExpired},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderExpired},
}

// CanTransition reports whether the fixed transition table allows from → to.
func CanTransition(from, to OrderState) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// venueStatuses maps venue status strings to local order states.
var venueStatuses = map[string]OrderState{
	"new":              OrderAccepted,
	"accepted":         OrderAccepted,
	"open":             OrderAccepted,
	"partially_filled": OrderPartiallyFilled,
	"filled":           OrderFilled,
	"canceled":         OrderCancelled,
	"cancelled":        OrderCancelled,
	"rejected":         OrderRejected,
	"expired":          OrderExpired,
}

// VenueOrderStatus maps a venue status string to an OrderState.
func VenueOrderStatus(status string) (OrderState, bool) {
	s, ok := venueStatuses[status]
	return s, ok
}

// Order is one trading intent tracked by the broker adapter.
type Order struct {
	LocalRef   string // Generated at creation, stable for the order's lifetime
	VenueRef   string // Assigned once on acknowledgement, never reassigned
	Instrument string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	LimitPrice float64 // Zero for market orders

	State     OrderState
	FilledQty float64
	AvgPrice  float64
	Reason    string // Rejection/cancellation reason, if reported

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderRequest is the caller-facing order submission payload.
type OrderRequest struct {
	Instrument string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	LimitPrice float64
}

// ErrValidation marks a structurally invalid order request.
var ErrValidation = errors.New("invalid order request")

// Validate rejects structurally invalid requests before they are enqueued.
func (r OrderRequest) Validate() error {
	if r.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrValidation)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: non-positive quantity %v", ErrValidation, r.Quantity)
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("%w: unknown side %q", ErrValidation, r.Side)
	}
	switch r.Type {
	case TypeMarket:
	case TypeLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit order requires positive price", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, r.Type)
	}
	return nil
}
