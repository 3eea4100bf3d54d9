package model

import "testing"

func TestOrderState_Terminal(t *testing.T) {
	terminal := []OrderState{OrderFilled, OrderCancelled, OrderRejected, OrderExpired}
	active := []OrderState{OrderCreated, OrderSubmitted, OrderAccepted, OrderPartiallyFilled}

	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %v to be terminal", s)
		}
	}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %v to be non-terminal", s)
		}
	}
}

func TestCanTransition_NoExitFromTerminal(t *testing.T) {
	all := []OrderState{
		OrderCreated, OrderSubmitted, OrderAccepted, OrderPartiallyFilled,
		OrderFilled, OrderCancelled, OrderRejected, OrderExpired,
	}

	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal state %v must not transition to %v", from, to)
			}
		}
	}
}

func TestCanTransition_Table(t *testing.T) {
	tests := []struct {
		from, to OrderState
		want     bool
	}{
		{OrderCreated, OrderSubmitted, true},
		{OrderCreated, OrderRejected, true},
		{OrderCreated, OrderFilled, false},
		{OrderSubmitted, OrderFilled, true},
		{OrderSubmitted, OrderAccepted, true},
		{OrderAccepted, OrderPartiallyFilled, true},
		{OrderPartiallyFilled, OrderPartiallyFilled, true},
		{OrderPartiallyFilled, OrderFilled, true},
		{OrderAccepted, OrderCreated, false},
		{OrderAccepted, OrderSubmitted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestVenueOrderStatus(t *testing.T) {
	tests := []struct {
		status string
		want   OrderState
		ok     bool
	}{
		{"new", OrderAccepted, true},
		{"open", OrderAccepted, true},
		{"partially_filled", OrderPartiallyFilled, true},
		{"filled", OrderFilled, true},
		{"canceled", OrderCancelled, true},
		{"cancelled", OrderCancelled, true},
		{"rejected", OrderRejected, true},
		{"expired", OrderExpired, true},
		{"bogus", 0, false},
	}

	for _, tt := range tests {
		got, ok := VenueOrderStatus(tt.status)
		if ok != tt.ok {
			t.Errorf("VenueOrderStatus(%q) ok = %v, want %v", tt.status, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("VenueOrderStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderRequest_Validate(t *testing.T) {
	valid := OrderRequest{
		Instrument: "BTC-USD",
		Side:       SideBuy,
		Type:       TypeLimit,
		Quantity:   1.5,
		LimitPrice: 50000,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"missing instrument", OrderRequest{Side: SideBuy, Type: TypeMarket, Quantity: 1}},
		{"zero quantity", OrderRequest{Instrument: "BTC-USD", Side: SideBuy, Type: TypeMarket}},
		{"negative quantity", OrderRequest{Instrument: "BTC-USD", Side: SideSell, Type: TypeMarket, Quantity: -1}},
		{"bad side", OrderRequest{Instrument: "BTC-USD", Side: "short", Type: TypeMarket, Quantity: 1}},
		{"limit without price", OrderRequest{Instrument: "BTC-USD", Side: SideBuy, Type: TypeLimit, Quantity: 1}},
		{"bad type", OrderRequest{Instrument: "BTC-USD", Side: SideBuy, Type: "stop", Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
