// Package feed merges a historical backfill with the live stream into one
// ordered, gap-aware bar sequence per instrument.
//
// The feed never fabricates data: a detected gap is surfaced as an explicit
// gap event before emission resumes. Within one instrument, emitted bars are
// strictly increasing in timestamp; overlap between history and the live
// stream is deduplicated preferring the live observation.
package feed
