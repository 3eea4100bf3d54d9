package broker

import (
	"context"
	"errors"
	"time"

	"marketlink/internal/api"
	"marketlink/internal/model"
)

// Errors
var (
	ErrQueueFull    = errors.New("submit queue full")
	ErrUnknownOrder = errors.New("unknown order reference")
	ErrNotStarted   = errors.New("tracker not started")
)

// VenueClient is the REST surface the tracker needs from the venue.
type VenueClient interface {
	PlaceOrder(ctx context.Context, localRef string, req model.OrderRequest) (api.VenueOrder, error)
	CancelOrder(ctx context.Context, venueRef string) error
	GetOrder(ctx context.Context, venueRef string) (api.VenueOrder, error)
	GetOrderByClientID(ctx context.Context, localRef string) (api.VenueOrder, error)
}

// Config holds tracker settings.
type Config struct {
	Instruments       []string      // Tradeable universe; submissions outside it are rejected
	SubmitQueueSize   int
	ReconcileInterval time.Duration // Reconciliation pass period
	OrderTimeout      time.Duration // Quiet time before a non-terminal order is re-queried
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubmitQueueSize:   128,
		ReconcileInterval: 30 * time.Second,
		OrderTimeout:      60 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Active      int
	Submitted   int64
	Reconciled  int64
	DroppedMsgs int64
}

// orderFrame is a venue execution report on the wire.
type orderFrame struct {
	Type          string  `json:"type"` // "order"
	VenueRef      string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Status        string  `json:"status"`
	FilledQty     float64 `json:"filled_quantity"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	Reason        string  `json:"reason"`
}

// command is one unit of work for the submission worker.
type command struct {
	kind     commandKind
	localRef string
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
)
