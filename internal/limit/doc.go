// Package limit bounds outbound traffic to the venue REST API: a shared rate
// limiter for request pacing and a retry policy for transient failures.
package limit
