package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"marketlink/internal/model"
)

// ErrOrderNotFound is returned when the venue has no record of the order.
var ErrOrderNotFound = errors.New("order not found at venue")

// PlaceOrder submits an order to the venue and returns its view of the new
// order, including the assigned venue reference.
//
// Retries happen only for transport-level failures where no response was
// received; the client order id makes such a resend idempotent at the venue.
// Any HTTP-level error means the venue saw the request, so it is never
// retried here — resolution is left to status reconciliation.
func (c *Client) PlaceOrder(ctx context.Context, localRef string, req model.OrderRequest) (VenueOrder, error) {
	payload := placeOrderRequest{
		ClientOrderID: localRef,
		Instrument:    req.Instrument,
		Side:          string(req.Side),
		Type:          string(req.Type),
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		body, err := c.doRequest(ctx, http.MethodPost, "/orders", nil, payload)
		if err == nil {
			var resp orderResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return VenueOrder{}, fmt.Errorf("unmarshal order response: %w", err)
			}
			return resp.Order, nil
		}
		lastErr = err

		// An APIError means the venue acknowledged receipt; stop here.
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return VenueOrder{}, err
		}
		if !c.policy.ShouldRetry(attempt, err) {
			return VenueOrder{}, fmt.Errorf("place order: %w", lastErr)
		}

		c.logger.Debug("retrying order placement after transport failure",
			"attempt", attempt,
			"local_ref", localRef,
		)
		if err := c.policy.Wait(ctx, attempt); err != nil {
			return VenueOrder{}, err
		}
	}
}

// CancelOrder requests cancellation of an order at the venue. The caller's
// local state must not change until the venue confirms via stream or
// reconciliation.
func (c *Client) CancelOrder(ctx context.Context, venueRef string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/orders/"+url.PathEscape(venueRef), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return ErrOrderNotFound
		}
		return err
	}
	return nil
}

// GetOrder queries authoritative order status by venue reference.
func (c *Client) GetOrder(ctx context.Context, venueRef string) (VenueOrder, error) {
	var resp orderResponse
	err := c.get(ctx, "/orders/"+url.PathEscape(venueRef), nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return VenueOrder{}, ErrOrderNotFound
		}
		return VenueOrder{}, err
	}
	return resp.Order, nil
}

// GetOrderByClientID queries order status by the client order id. Used during
// reconciliation for orders that were submitted but never acknowledged.
func (c *Client) GetOrderByClientID(ctx context.Context, localRef string) (VenueOrder, error) {
	query := url.Values{}
	query.Set("client_order_id", localRef)

	var resp orderResponse
	err := c.get(ctx, "/orders", query, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return VenueOrder{}, ErrOrderNotFound
		}
		return VenueOrder{}, err
	}
	if resp.Order.VenueRef == "" {
		return VenueOrder{}, ErrOrderNotFound
	}
	return resp.Order, nil
}
