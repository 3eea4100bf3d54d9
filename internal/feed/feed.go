package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketlink/internal/event"
	"marketlink/internal/model"
)

// Feed produces one ordered bar sequence for a set of instruments,
// transparently switching from historical backfill to live streaming.
type Feed struct {
	cfg    Config
	source HistorySource
	bus    *event.Bus
	logger *slog.Logger

	mu           sync.Mutex
	state        model.FeedState
	pending      []model.Bar // Merged bars awaiting emission, ascending timestamp
	staged       []model.Bar // Live bars received before history completed
	lastEmitted  map[string]time.Time
	instruments  map[string]struct{}
	disconnected bool // Connectivity was lost while Live
	lastErr      error

	emitted     int64
	gaps        int64
	parseErrors int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a feed. Start must be called to begin the historical fetch.
func New(cfg Config, source HistorySource, bus *event.Bus, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	instruments := make(map[string]struct{}, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		instruments[in] = struct{}{}
	}

	return &Feed{
		cfg:         cfg,
		source:      source,
		bus:         bus,
		logger:      logger,
		state:       model.FeedInitial,
		lastEmitted: make(map[string]time.Time),
		instruments: instruments,
	}
}

// State returns the current feed state.
func (f *Feed) State() model.FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error that terminated the feed, nil while it is healthy.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Stats returns runtime statistics.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		State:       f.state,
		Emitted:     f.emitted,
		Gaps:        f.gaps,
		ParseErrors: f.parseErrors,
		Pending:     len(f.pending),
	}
}

// Start begins the historical fetch asynchronously and registers for
// connectivity changes. Consumers block in Next until data arrives.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state != model.FeedInitial {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.state = model.FeedFetchingHistory
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.Subscribe(event.TypeConnection, f.onConnectionEvent)
	}

	f.wg.Add(1)
	go f.fetchInitialHistory()

	return nil
}

// Stop terminates the feed. Idempotent.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.state == model.FeedTerminated {
		f.mu.Unlock()
		return
	}
	f.state = model.FeedTerminated
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

// Next returns the next bar in timestamp order, blocking with a bounded poll
// while waiting for data. After termination it returns ErrFeedTerminated once
// remaining buffered bars are drained.
func (f *Feed) Next(ctx context.Context) (model.Bar, error) {
	for {
		bar, events, ok, err := f.pop()
		for _, e := range events {
			f.publish(e)
		}
		if err != nil {
			return model.Bar{}, err
		}
		if ok {
			return bar, nil
		}

		select {
		case <-ctx.Done():
			return model.Bar{}, ctx.Err()
		case <-time.After(f.cfg.PollInterval):
		}
	}
}

// pop takes the next emittable bar off the queue. Events to publish (gap
// markers and the bar itself) are returned so publication happens outside the
// state lock.
func (f *Feed) pop() (model.Bar, []event.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var events []event.Event

	for len(f.pending) > 0 {
		bar := f.pending[0]
		f.pending = f.pending[1:]

		last, seen := f.lastEmitted[bar.Instrument]
		if seen && !bar.Timestamp.After(last) {
			// Duplicate or stale observation, already emitted.
			continue
		}

		if seen && f.cfg.BarInterval > 0 {
			expected := last.Add(f.cfg.BarInterval)
			tolerance := time.Duration(f.cfg.GapTolerance) * f.cfg.BarInterval
			if bar.Timestamp.After(expected.Add(tolerance)) {
				f.gaps++
				events = append(events, event.DataEvent{
					Time:       time.Now(),
					Kind:       event.DataGap,
					Instrument: bar.Instrument,
					From:       expected,
					To:         bar.Timestamp,
				})
			}
		}

		f.lastEmitted[bar.Instrument] = bar.Timestamp
		f.emitted++
		events = append(events, event.DataEvent{
			Time:       time.Now(),
			Kind:       event.DataBar,
			Instrument: bar.Instrument,
			Bar:        bar,
		})
		return bar, events, true, nil
	}

	if f.state == model.FeedTerminated {
		return model.Bar{}, events, false, ErrFeedTerminated
	}
	return model.Bar{}, events, false, nil
}

// HandleMessage consumes one raw inbound frame. Frames that are not bar
// messages are ignored; malformed bar frames are dropped and counted, never
// allowed to disturb emission.
func (f *Feed) HandleMessage(data []byte, receivedAt time.Time) {
	var frame barFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "bar" {
		if err != nil {
			f.noteParseError(err)
		}
		return
	}

	if _, ok := f.instruments[frame.Instrument]; !ok {
		return
	}
	if frame.Timestamp <= 0 {
		f.noteParseError(fmt.Errorf("bar frame without timestamp for %s", frame.Instrument))
		return
	}

	bar := model.Bar{
		Instrument: frame.Instrument,
		Timestamp:  time.UnixMilli(frame.Timestamp).UTC(),
		Open:       frame.Open,
		High:       frame.High,
		Low:        frame.Low,
		Close:      frame.Close,
		Volume:     frame.Volume,
		Source:     model.SourceLive,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case model.FeedFetchingHistory:
		// Hold until history lands so the merge can dedupe the overlap.
		f.staged = append(f.staged, bar)
	case model.FeedLive, model.FeedBackfilling:
		f.insertLocked(bar)
	}
}

func (f *Feed) noteParseError(err error) {
	f.mu.Lock()
	f.parseErrors++
	f.mu.Unlock()
	f.logger.Warn("dropping malformed frame", "error", err)
}

// insertLocked places a bar into the pending queue in timestamp order.
// Caller holds f.mu.
func (f *Feed) insertLocked(bar model.Bar) {
	i := sort.Search(len(f.pending), func(i int) bool {
		return f.pending[i].Timestamp.After(bar.Timestamp)
	})
	f.pending = append(f.pending, model.Bar{})
	copy(f.pending[i+1:], f.pending[i:])
	f.pending[i] = bar
}

// fetchInitialHistory loads the backfill for every instrument, then merges
// with any live bars staged meanwhile and goes Live.
func (f *Feed) fetchInitialHistory() {
	defer f.wg.Done()

	to := time.Now()
	from := to.Add(-f.cfg.HistoryWindow)

	var histMu sync.Mutex
	history := make(map[string][]model.Bar)

	g, ctx := errgroup.WithContext(f.ctx)
	for _, instrument := range f.cfg.Instruments {
		instrument := instrument
		g.Go(func() error {
			bars, err := f.source.FetchHistory(ctx, instrument, from, to)
			if err != nil {
				return fmt.Errorf("fetch history for %s: %w", instrument, err)
			}
			histMu.Lock()
			history[instrument] = bars
			histMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		f.terminate(err)
		return
	}

	f.mu.Lock()
	if f.state != model.FeedFetchingHistory {
		f.mu.Unlock()
		return
	}

	// Merge history with staged live bars, preferring live on overlapping
	// timestamps: the live observation is authoritative for in-progress bars.
	merged := make(map[string]map[int64]model.Bar)
	for instrument, bars := range history {
		m := make(map[int64]model.Bar, len(bars))
		for _, bar := range bars {
			m[bar.Timestamp.UnixMilli()] = bar
		}
		merged[instrument] = m
	}
	for _, bar := range f.staged {
		m, ok := merged[bar.Instrument]
		if !ok {
			m = make(map[int64]model.Bar)
			merged[bar.Instrument] = m
		}
		m[bar.Timestamp.UnixMilli()] = bar
	}
	f.staged = nil

	var all []model.Bar
	for _, m := range merged {
		for _, bar := range m {
			all = append(all, bar)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	f.pending = append(f.pending, all...)
	f.state = model.FeedLive
	f.mu.Unlock()

	f.logger.Info("history merged, feed live",
		"instruments", len(f.cfg.Instruments),
		"bars", len(all),
	)
}

// onConnectionEvent tracks connectivity loss and triggers a backfill of the
// missed window once the stream is back.
func (f *Feed) onConnectionEvent(e event.Event) {
	ce, ok := e.(event.ConnectionEvent)
	if !ok {
		return
	}

	switch ce.State {
	case model.Reconnecting:
		f.mu.Lock()
		if f.state == model.FeedLive {
			f.disconnected = true
		}
		f.mu.Unlock()

	case model.Connected:
		f.mu.Lock()
		lost := f.disconnected
		f.disconnected = false
		shouldBackfill := lost && f.cfg.BackfillOnReconnect && f.state == model.FeedLive
		if shouldBackfill {
			f.state = model.FeedBackfilling
		}
		f.mu.Unlock()

		if shouldBackfill {
			f.wg.Add(1)
			go f.backfill()
		}
	}
}

// backfill re-fetches the interval missed during a disconnect and folds it
// into the queue. Gaps that remain after a failed backfill surface through
// normal gap detection.
func (f *Feed) backfill() {
	defer f.wg.Done()

	f.mu.Lock()
	since := make(map[string]time.Time, len(f.lastEmitted))
	for instrument, last := range f.lastEmitted {
		since[instrument] = last.Add(f.cfg.BarInterval)
	}
	f.mu.Unlock()

	to := time.Now()
	for _, instrument := range f.cfg.Instruments {
		from, ok := since[instrument]
		if !ok || !from.Before(to) {
			continue
		}

		bars, err := f.source.FetchHistory(f.ctx, instrument, from, to)
		if err != nil {
			f.logger.Warn("backfill failed", "instrument", instrument, "error", err)
			f.publish(event.ErrorEvent{
				Time:      time.Now(),
				Component: "feed",
				Err:       fmt.Errorf("backfill %s: %w", instrument, err),
			})
			continue
		}

		f.mu.Lock()
		queued := make(map[int64]struct{})
		for _, p := range f.pending {
			if p.Instrument == instrument {
				queued[p.Timestamp.UnixMilli()] = struct{}{}
			}
		}
		for _, bar := range bars {
			// Live bars already queued win over the re-fetched copy.
			if _, dup := queued[bar.Timestamp.UnixMilli()]; dup {
				continue
			}
			if last, seen := f.lastEmitted[instrument]; seen && !bar.Timestamp.After(last) {
				continue
			}
			f.insertLocked(bar)
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	if f.state == model.FeedBackfilling {
		f.state = model.FeedLive
	}
	f.mu.Unlock()
}

// terminate moves the feed to its terminal state after an unrecoverable
// failure.
func (f *Feed) terminate(err error) {
	f.mu.Lock()
	if f.state == model.FeedTerminated {
		f.mu.Unlock()
		return
	}
	f.state = model.FeedTerminated
	f.lastErr = err
	f.mu.Unlock()

	f.logger.Error("feed terminated", "error", err)
	f.publish(event.ErrorEvent{
		Time:      time.Now(),
		Component: "feed",
		Err:       err,
		Fatal:     true,
	})
}

func (f *Feed) publish(e event.Event) {
	if f.bus != nil {
		f.bus.Publish(e)
	}
}
