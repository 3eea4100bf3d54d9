package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Venue.RestURL == "" {
		return errors.New("venue.rest_url is required")
	}
	if c.Venue.WSURL == "" {
		return errors.New("venue.ws_url is required")
	}

	if c.Connection.HeartbeatTimeout <= c.Connection.HeartbeatInterval {
		return fmt.Errorf("connection.heartbeat_timeout (%v) must exceed heartbeat_interval (%v)",
			c.Connection.HeartbeatTimeout, c.Connection.HeartbeatInterval)
	}
	if c.Connection.ReconnectBaseDelay > c.Connection.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Connection.ReconnectBaseDelay, c.Connection.ReconnectMaxDelay)
	}
	if c.Connection.SendBufferSize < 1 {
		return errors.New("connection.send_buffer_size must be >= 1")
	}

	if len(c.Feed.Instruments) == 0 {
		return errors.New("feed.instruments must list at least one instrument")
	}
	if c.Feed.GapTolerance < 1 {
		return errors.New("feed.gap_tolerance must be >= 1")
	}

	if c.Broker.SubmitQueueSize < 1 {
		return errors.New("broker.submit_queue_size must be >= 1")
	}

	if c.RateLimit.Requests < 1 {
		return errors.New("rate_limit.requests must be >= 1")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay (%v) cannot exceed max_delay (%v)",
			c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	return nil
}
