package feed

import (
	"context"
	"errors"
	"time"

	"marketlink/internal/model"
)

// Errors
var (
	ErrFeedTerminated = errors.New("feed terminated")
	ErrAlreadyStarted = errors.New("feed already started")
)

// HistorySource fetches ordered historical bars for one instrument.
type HistorySource interface {
	FetchHistory(ctx context.Context, instrument string, from, to time.Time) ([]model.Bar, error)
}

// Config holds feed settings.
type Config struct {
	Instruments         []string
	BarInterval         time.Duration // Expected spacing between bars
	GapTolerance        int           // Intervals beyond expected before a gap is declared
	PollInterval        time.Duration // Bounded wait between Next() polls
	HistoryWindow       time.Duration // How far back the initial backfill reaches
	BackfillOnReconnect bool          // Re-fetch the missed window after reconnection
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BarInterval:         time.Minute,
		GapTolerance:        1,
		PollInterval:        100 * time.Millisecond,
		HistoryWindow:       24 * time.Hour,
		BackfillOnReconnect: true,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	State       model.FeedState
	Emitted     int64
	Gaps        int64
	ParseErrors int64
	Pending     int
}

// barFrame is a live bar message on the wire.
type barFrame struct {
	Type       string  `json:"type"`
	Instrument string  `json:"instrument"`
	Timestamp  int64   `json:"ts"` // Unix milliseconds, bar open
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
}
