// Package connection maintains the streaming connection to the venue.
//
// Client is the raw WebSocket transport: one read loop, one heartbeat loop,
// silent-death detection. Manager owns the logical connection lifecycle:
// connect, reconnect with exponential backoff, offline send buffering, and
// synchronous dispatch of inbound frames to a registered handler.
package connection
