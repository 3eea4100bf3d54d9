// Package model defines the domain types shared across the connectivity core:
// market bars, orders, and the state enums for connections, feeds, and orders.
//
// All types here are plain data. Bars are immutable after creation; Order
// values handed out through queries are snapshots, never shared pointers.
package model
