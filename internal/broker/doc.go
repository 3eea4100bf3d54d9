// Package broker submits orders to the venue and tracks their lifecycle.
//
// Placement is asynchronous behind a bounded queue; state transitions come
// from venue execution reports and from periodic reconciliation against the
// venue's authoritative status. An order is never re-submitted after its
// first wire attempt: a lost acknowledgement is resolved by querying, not by
// placing again.
package broker
