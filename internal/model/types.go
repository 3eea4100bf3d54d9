package model

import "time"

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// BarSource identifies where a bar was observed.
type BarSource string

const (
	SourceHistorical BarSource = "historical"
	SourceLive       BarSource = "live"
)

// Bar is one immutable market observation for an instrument.
type Bar struct {
	Instrument string    // Instrument identifier (e.g., "BTC-USD")
	Timestamp  time.Time // Bar open time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Source     BarSource // Historical backfill or live stream
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// ConnectionState is the lifecycle state of a streaming connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	ShuttingDown
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Feed
// -----------------------------------------------------------------------------

// FeedState is the lifecycle state of a live data feed.
type FeedState int

const (
	FeedInitial FeedState = iota
	FeedFetchingHistory
	FeedLive
	FeedBackfilling
	FeedTerminated
)

func (s FeedState) String() string {
	switch s {
	case FeedInitial:
		return "initial"
	case FeedFetchingHistory:
		return "fetching_history"
	case FeedLive:
		return "live"
	case FeedBackfilling:
		return "backfilling"
	case FeedTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
