// Package event defines the typed notifications published by the connectivity
// core and the in-process Bus that fans them out to subscribers.
//
// Delivery is synchronous and in subscription order. A panicking handler is
// recovered and counted; it never blocks delivery to later subscribers or
// crashes the publisher.
package event
