package api

// placeOrderRequest is the order placement payload. ClientOrderID is the
// idempotency key: the venue rejects or echoes duplicates rather than
// executing twice.
type placeOrderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Instrument    string  `json:"instrument"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
}

// VenueOrder is the venue's view of one order.
type VenueOrder struct {
	VenueRef      string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Instrument    string  `json:"instrument"`
	Status        string  `json:"status"`
	FilledQty     float64 `json:"filled_quantity"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	Reason        string  `json:"reason,omitempty"`
}

// orderResponse wraps a single order payload.
type orderResponse struct {
	Order VenueOrder `json:"order"`
}

// candle is one historical OHLCV observation on the wire.
type candle struct {
	Timestamp int64   `json:"ts"` // Unix milliseconds, bar open
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// candlesResponse is one page of historical candles.
type candlesResponse struct {
	Candles []candle `json:"candles"`
	Cursor  string   `json:"cursor,omitempty"` // Empty on the last page
}
