package api

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"marketlink/internal/model"
)

// FetchHistory returns the historical bars for one instrument over [from, to),
// in ascending timestamp order. Pages are followed via the response cursor.
// The call is idempotent and retried per the retry policy.
func (c *Client) FetchHistory(ctx context.Context, instrument string, from, to time.Time) ([]model.Bar, error) {
	var bars []model.Bar
	cursor := ""

	for {
		query := url.Values{}
		query.Set("instrument", instrument)
		query.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
		query.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp candlesResponse
		if err := c.get(ctx, "/candles", query, &resp); err != nil {
			return nil, err
		}

		for _, cd := range resp.Candles {
			bars = append(bars, convertCandle(instrument, cd))
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return bars, nil
}

// convertCandle maps a wire candle to a historical bar.
func convertCandle(instrument string, cd candle) model.Bar {
	return model.Bar{
		Instrument: instrument,
		Timestamp:  time.UnixMilli(cd.Timestamp).UTC(),
		Open:       cd.Open,
		High:       cd.High,
		Low:        cd.Low,
		Close:      cd.Close,
		Volume:     cd.Volume,
		Source:     model.SourceHistorical,
	}
}
