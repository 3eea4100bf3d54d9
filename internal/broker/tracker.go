package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketlink/internal/api"
	"marketlink/internal/event"
	"marketlink/internal/model"
)

// trackedOrder serializes all updates for one order through its own lock, so
// transitions apply strictly in arrival order of the triggering message.
type trackedOrder struct {
	mu             sync.Mutex
	order          model.Order
	request        model.OrderRequest
	lastReconciled time.Time
	cancelPending  bool // Cancel requested before the venue ref was known
}

// Tracker submits orders and tracks their state against the venue.
type Tracker struct {
	cfg    Config
	client VenueClient
	bus    *event.Bus
	logger *slog.Logger

	instruments map[string]struct{}

	mu      sync.RWMutex
	orders  map[string]*trackedOrder // local ref → order
	byVenue map[string]string        // venue ref → local ref
	active  map[string]struct{}      // non-terminal orders, timeout-tracked

	commands chan command

	submitted   int64
	reconciled  int64
	droppedMsgs int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewTracker creates an order tracker. Start must be called before Submit.
func NewTracker(cfg Config, client VenueClient, bus *event.Bus, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubmitQueueSize <= 0 {
		cfg.SubmitQueueSize = 1
	}

	instruments := make(map[string]struct{}, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		instruments[in] = struct{}{}
	}

	return &Tracker{
		cfg:         cfg,
		client:      client,
		bus:         bus,
		logger:      logger,
		instruments: instruments,
		orders:      make(map[string]*trackedOrder),
		byVenue:     make(map[string]string),
		active:      make(map[string]struct{}),
		commands:    make(chan command, cfg.SubmitQueueSize),
	}
}

// Start launches the submission worker and the reconciliation loop.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.wg.Add(2)
	go t.worker()
	go t.reconcileLoop()

	return nil
}

// Stop terminates the background loops and joins them. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// Submit validates the request, records the order as Created, and enqueues an
// asynchronous placement. The local reference is returned immediately.
func (t *Tracker) Submit(req model.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if _, ok := t.instruments[req.Instrument]; !ok {
		return "", fmt.Errorf("%w: unknown instrument %q", model.ErrValidation, req.Instrument)
	}

	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return "", ErrNotStarted
	}
	t.mu.Unlock()

	localRef := uuid.NewString()
	now := time.Now()
	tracked := &trackedOrder{
		order: model.Order{
			LocalRef:   localRef,
			Instrument: req.Instrument,
			Side:       req.Side,
			Type:       req.Type,
			Quantity:   req.Quantity,
			LimitPrice: req.LimitPrice,
			State:      model.OrderCreated,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		request: req,
	}

	t.mu.Lock()
	t.orders[localRef] = tracked
	t.active[localRef] = struct{}{}
	t.mu.Unlock()

	select {
	case t.commands <- command{kind: cmdSubmit, localRef: localRef}:
	default:
		// Bounded queue is full: fail loudly, never drop silently.
		t.mu.Lock()
		delete(t.orders, localRef)
		delete(t.active, localRef)
		t.mu.Unlock()
		return "", ErrQueueFull
	}

	return localRef, nil
}

// Cancel requests cancellation at the venue. The local state does not change
// until the venue confirms. A terminal order is a no-op.
func (t *Tracker) Cancel(localRef string) error {
	tracked := t.lookup(localRef)
	if tracked == nil {
		return ErrUnknownOrder
	}

	tracked.mu.Lock()
	terminal := tracked.order.State.Terminal()
	tracked.mu.Unlock()
	if terminal {
		return nil
	}

	select {
	case t.commands <- command{kind: cmdCancel, localRef: localRef}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Get returns a snapshot of the order for the local reference.
func (t *Tracker) Get(localRef string) (model.Order, bool) {
	tracked := t.lookup(localRef)
	if tracked == nil {
		return model.Order{}, false
	}
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	return tracked.order, true
}

// Active returns snapshots of all non-terminal orders.
func (t *Tracker) Active() []model.Order {
	t.mu.RLock()
	refs := make([]string, 0, len(t.active))
	for ref := range t.active {
		refs = append(refs, ref)
	}
	t.mu.RUnlock()

	out := make([]model.Order, 0, len(refs))
	for _, ref := range refs {
		if order, ok := t.Get(ref); ok {
			out = append(out, order)
		}
	}
	return out
}

// Stats returns runtime statistics.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Active:      len(t.active),
		Submitted:   t.submitted,
		Reconciled:  t.reconciled,
		DroppedMsgs: t.droppedMsgs,
	}
}

func (t *Tracker) lookup(localRef string) *trackedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.orders[localRef]
}

// worker processes submissions and cancellations sequentially.
func (t *Tracker) worker() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case cmd := <-t.commands:
			switch cmd.kind {
			case cmdSubmit:
				t.placeOrder(cmd.localRef)
			case cmdCancel:
				t.cancelOrder(cmd.localRef)
			}
		}
	}
}

// placeOrder performs the one and only wire submission for an order. Failures
// reject the order locally; there is no re-placement (duplicate execution
// risk).
func (t *Tracker) placeOrder(localRef string) {
	tracked := t.lookup(localRef)
	if tracked == nil {
		return
	}

	tracked.mu.Lock()
	req := tracked.request
	tracked.mu.Unlock()

	venueOrder, err := t.client.PlaceOrder(t.ctx, localRef, req)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			// The venue saw the request and refused it.
			t.logger.Warn("order placement rejected",
				"local_ref", localRef,
				"error", err)
			t.transition(tracked, model.OrderRejected, func(o *model.Order) {
				o.Reason = err.Error()
			})
			return
		}
		// Transport failure: the venue may or may not have received the
		// order. Mark it submitted without a venue reference and let
		// reconciliation resolve the outcome. Never re-send.
		t.logger.Warn("order placement outcome unknown",
			"local_ref", localRef,
			"error", err)
		t.transition(tracked, model.OrderSubmitted, nil)
		t.publishError(fmt.Errorf("place order %s: %w", localRef, err), false)
		return
	}

	t.mu.Lock()
	t.submitted++
	t.byVenue[venueOrder.VenueRef] = localRef
	t.mu.Unlock()

	t.transition(tracked, model.OrderSubmitted, func(o *model.Order) {
		// The local→venue mapping is assigned exactly once.
		if o.VenueRef == "" {
			o.VenueRef = venueOrder.VenueRef
		}
	})

	// The placement response may already carry a further state.
	if st, ok := model.VenueOrderStatus(venueOrder.Status); ok && st != model.OrderSubmitted {
		t.applyVenueState(tracked, st, venueOrder)
	}

	t.requestPendingCancel(tracked)
}

// cancelOrder sends the cancel request. Local state is untouched: the venue's
// confirmation (stream or reconciliation) drives the transition.
func (t *Tracker) cancelOrder(localRef string) {
	tracked := t.lookup(localRef)
	if tracked == nil {
		return
	}

	tracked.mu.Lock()
	if tracked.order.State.Terminal() {
		tracked.cancelPending = false
		tracked.mu.Unlock()
		return
	}
	venueRef := tracked.order.VenueRef
	if venueRef == "" {
		// No venue ref yet. Remember the intent; the cancel is issued the
		// moment an acknowledgement assigns the ref.
		tracked.cancelPending = true
		tracked.mu.Unlock()
		t.logger.Info("cancel deferred until venue acknowledgement",
			"local_ref", localRef)
		return
	}
	tracked.cancelPending = false
	tracked.mu.Unlock()

	if err := t.client.CancelOrder(t.ctx, venueRef); err != nil {
		t.logger.Warn("cancel request failed", "local_ref", localRef, "error", err)
		t.publishError(fmt.Errorf("cancel order %s: %w", localRef, err), false)
	}
}

// requestPendingCancel re-enqueues a cancel that was deferred while the order
// had no venue reference. Called after the reference is recorded.
func (t *Tracker) requestPendingCancel(tracked *trackedOrder) {
	tracked.mu.Lock()
	pending := tracked.cancelPending &&
		tracked.order.VenueRef != "" &&
		!tracked.order.State.Terminal()
	localRef := tracked.order.LocalRef
	tracked.mu.Unlock()

	if !pending {
		return
	}

	select {
	case t.commands <- command{kind: cmdCancel, localRef: localRef}:
	default:
		t.logger.Warn("deferred cancel dropped, queue full", "local_ref", localRef)
		t.publishError(fmt.Errorf("deferred cancel for %s: %w", localRef, ErrQueueFull), false)
	}
}

// HandleVenueMessage consumes one raw inbound frame. Frames that are not
// execution reports are ignored; reports for unknown orders are dropped and
// counted.
func (t *Tracker) HandleVenueMessage(data []byte, receivedAt time.Time) {
	var frame orderFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "order" {
		if err != nil {
			t.noteDropped()
			t.logger.Warn("dropping malformed venue message", "error", err)
			t.publishError(fmt.Errorf("malformed venue message: %w", err), false)
		}
		return
	}

	t.mu.RLock()
	localRef, ok := t.byVenue[frame.VenueRef]
	if !ok && frame.ClientOrderID != "" {
		_, known := t.orders[frame.ClientOrderID]
		if known {
			localRef, ok = frame.ClientOrderID, true
		}
	}
	t.mu.RUnlock()

	if !ok {
		t.noteDropped()
		t.logger.Warn("execution report for unknown order",
			"venue_ref", frame.VenueRef)
		t.publishError(fmt.Errorf("execution report for unknown order %s", frame.VenueRef), false)
		return
	}

	state, known := model.VenueOrderStatus(frame.Status)
	if !known {
		t.noteDropped()
		t.logger.Warn("execution report with unknown status",
			"venue_ref", frame.VenueRef,
			"status", frame.Status)
		return
	}

	tracked := t.lookup(localRef)
	if tracked == nil {
		return
	}

	t.applyVenueState(tracked, state, api.VenueOrder{
		VenueRef:     frame.VenueRef,
		Status:       frame.Status,
		FilledQty:    frame.FilledQty,
		AvgFillPrice: frame.AvgFillPrice,
		Reason:       frame.Reason,
	})
}

func (t *Tracker) noteDropped() {
	t.mu.Lock()
	t.droppedMsgs++
	t.mu.Unlock()
}

// applyVenueState applies an authoritative venue state to the order.
func (t *Tracker) applyVenueState(tracked *trackedOrder, state model.OrderState, vo api.VenueOrder) {
	tracked.mu.Lock()
	hadRef := tracked.order.VenueRef != ""
	tracked.mu.Unlock()

	t.transition(tracked, state, func(o *model.Order) {
		if o.VenueRef == "" && vo.VenueRef != "" {
			o.VenueRef = vo.VenueRef
		}
		if vo.FilledQty > 0 {
			o.FilledQty = vo.FilledQty
		}
		if vo.AvgFillPrice > 0 {
			o.AvgPrice = vo.AvgFillPrice
		}
		if vo.Reason != "" {
			o.Reason = vo.Reason
		}
	})

	if !hadRef {
		t.requestPendingCancel(tracked)
	}
}

// transition applies one state change under the order's lock, enforcing the
// fixed transition table, and publishes the resulting OrderEvent. Returns
// false when the table forbids the move (including any exit from a terminal
// state).
func (t *Tracker) transition(tracked *trackedOrder, next model.OrderState, update func(*model.Order)) bool {
	tracked.mu.Lock()
	prev := tracked.order.State
	if !model.CanTransition(prev, next) {
		localRef := tracked.order.LocalRef
		tracked.mu.Unlock()
		if prev != next {
			t.logger.Debug("transition rejected",
				"local_ref", localRef,
				"from", prev,
				"to", next)
		}
		return false
	}
	tracked.order.State = next
	tracked.order.UpdatedAt = time.Now()
	if update != nil {
		update(&tracked.order)
	}
	snapshot := tracked.order
	tracked.mu.Unlock()

	if next.Terminal() {
		t.mu.Lock()
		delete(t.active, snapshot.LocalRef)
		t.mu.Unlock()
	}

	if t.bus != nil {
		t.bus.Publish(event.OrderEvent{
			Time:  time.Now(),
			Order: snapshot,
			Prev:  prev,
		})
	}
	return true
}

// reconcileLoop periodically re-queries the venue for orders that have gone
// quiet, resolving missed execution reports.
func (t *Tracker) reconcileLoop() {
	defer t.wg.Done()

	interval := t.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.reconcilePass()
		}
	}
}

// reconcilePass scans non-terminal orders older than the timeout and applies
// the venue's authoritative status. Each stuck order gets exactly one
// re-query per quiet period.
func (t *Tracker) reconcilePass() {
	t.mu.RLock()
	refs := make([]string, 0, len(t.active))
	for ref := range t.active {
		refs = append(refs, ref)
	}
	t.mu.RUnlock()

	now := time.Now()
	for _, localRef := range refs {
		tracked := t.lookup(localRef)
		if tracked == nil {
			continue
		}

		tracked.mu.Lock()
		order := tracked.order
		quietSince := order.UpdatedAt
		if tracked.lastReconciled.After(quietSince) {
			quietSince = tracked.lastReconciled
		}
		stale := !order.State.Terminal() && now.Sub(quietSince) >= t.cfg.OrderTimeout
		if stale {
			tracked.lastReconciled = now
		}
		tracked.mu.Unlock()

		if !stale {
			continue
		}

		t.reconcileOrder(tracked, order)
	}
}

// reconcileOrder fetches authoritative status for one stuck order.
func (t *Tracker) reconcileOrder(tracked *trackedOrder, order model.Order) {
	var (
		venueOrder api.VenueOrder
		err        error
	)
	if order.VenueRef != "" {
		venueOrder, err = t.client.GetOrder(t.ctx, order.VenueRef)
	} else {
		venueOrder, err = t.client.GetOrderByClientID(t.ctx, order.LocalRef)
	}

	if err != nil {
		if errors.Is(err, api.ErrOrderNotFound) && order.VenueRef == "" {
			// Submitted but never acknowledged and the venue has no
			// record: the placement never landed. The order is expired
			// rather than re-submitted, which risks duplicate execution.
			t.logger.Warn("unacknowledged order unknown at venue, expiring",
				"local_ref", order.LocalRef)
			t.transition(tracked, model.OrderExpired, func(o *model.Order) {
				o.Reason = "placement never acknowledged by venue"
			})
			t.publishError(fmt.Errorf("order %s expired: %w", order.LocalRef, err), false)
			return
		}
		t.logger.Warn("reconciliation query failed",
			"local_ref", order.LocalRef,
			"error", err)
		return
	}

	t.mu.Lock()
	t.reconciled++
	if venueOrder.VenueRef != "" {
		t.byVenue[venueOrder.VenueRef] = order.LocalRef
	}
	t.mu.Unlock()

	state, known := model.VenueOrderStatus(venueOrder.Status)
	if !known {
		t.logger.Warn("reconciliation returned unknown status",
			"local_ref", order.LocalRef,
			"status", venueOrder.Status)
		return
	}

	t.applyVenueState(tracked, state, venueOrder)
}

func (t *Tracker) publishError(err error, fatal bool) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(event.ErrorEvent{
		Time:      time.Now(),
		Component: "broker",
		Err:       err,
		Fatal:     fatal,
	})
}
