package event

import (
	"time"

	"marketlink/internal/model"
)

// Type identifies a category of event for subscription routing.
type Type string

const (
	TypeConnection Type = "connection"
	TypeData       Type = "data"
	TypeOrder      Type = "order"
	TypeError      Type = "error"
)

// Event is a typed, immutable notification. Each occurrence is published
// exactly once.
type Event interface {
	EventType() Type
	OccurredAt() time.Time
}

// ConnectionEvent reports a connection state change.
type ConnectionEvent struct {
	Time    time.Time
	State   model.ConnectionState
	Attempt int   // Reconnect attempt number, 0 outside reconnection
	Err     error // Cause, when the change was failure-driven
}

func (e ConnectionEvent) EventType() Type       { return TypeConnection }
func (e ConnectionEvent) OccurredAt() time.Time { return e.Time }

// DataKind distinguishes data event payloads.
type DataKind string

const (
	DataBar DataKind = "bar"
	DataGap DataKind = "gap"
)

// DataEvent carries either an emitted bar or an explicit gap marker.
// Gaps are surfaced, never silently skipped or filled with fabricated data.
type DataEvent struct {
	Time       time.Time
	Kind       DataKind
	Instrument string
	Bar        model.Bar // Valid when Kind == DataBar
	From       time.Time // Gap bounds, valid when Kind == DataGap
	To         time.Time
}

func (e DataEvent) EventType() Type       { return TypeData }
func (e DataEvent) OccurredAt() time.Time { return e.Time }

// OrderEvent reports one order state transition.
type OrderEvent struct {
	Time  time.Time
	Order model.Order // Snapshot after the transition
	Prev  model.OrderState
}

func (e OrderEvent) EventType() Type       { return TypeOrder }
func (e OrderEvent) OccurredAt() time.Time { return e.Time }

// ErrorEvent reports a failure that affects correctness. Fatal errors mean the
// component has transitioned to a terminal state.
type ErrorEvent struct {
	Time      time.Time
	Component string
	Err       error
	Fatal     bool
}

func (e ErrorEvent) EventType() Type       { return TypeError }
func (e ErrorEvent) OccurredAt() time.Time { return e.Time }
