package event

import (
	"errors"
	"testing"
	"time"

	"marketlink/internal/model"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(TypeData, func(Event) {
			order = append(order, i)
		})
	}

	bus.Publish(DataEvent{Time: time.Now(), Kind: DataBar, Instrument: "BTC-USD"})

	if len(order) != 5 {
		t.Fatalf("delivered to %d handlers, want 5", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("delivery order[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestBus_TypeRouting(t *testing.T) {
	bus := NewBus(nil)

	var conn, data int
	bus.Subscribe(TypeConnection, func(Event) { conn++ })
	bus.Subscribe(TypeData, func(Event) { data++ })

	bus.Publish(ConnectionEvent{Time: time.Now(), State: model.Connected})
	bus.Publish(ConnectionEvent{Time: time.Now(), State: model.Reconnecting})
	bus.Publish(DataEvent{Time: time.Now(), Kind: DataBar})

	if conn != 2 {
		t.Errorf("connection handler called %d times, want 2", conn)
	}
	if data != 1 {
		t.Errorf("data handler called %d times, want 1", data)
	}
}

func TestBus_PanickingHandlerIsolated(t *testing.T) {
	bus := NewBus(nil)

	var after int
	bus.Subscribe(TypeError, func(Event) { panic("boom") })
	bus.Subscribe(TypeError, func(Event) { after++ })

	bus.Publish(ErrorEvent{Time: time.Now(), Component: "test", Err: errors.New("x")})

	if after != 1 {
		t.Errorf("handler after panicking subscriber called %d times, want 1", after)
	}
	if got := bus.Stats().HandlerPanics; got != 1 {
		t.Errorf("HandlerPanics = %d, want 1", got)
	}
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	bus := NewBus(nil)

	// Must not panic or block.
	bus.Publish(OrderEvent{Time: time.Now()})

	stats := bus.Stats()
	if stats.Published != 1 {
		t.Errorf("Published = %d, want 1", stats.Published)
	}
	if stats.NoSubscribers != 1 {
		t.Errorf("NoSubscribers = %d, want 1", stats.NoSubscribers)
	}
}
