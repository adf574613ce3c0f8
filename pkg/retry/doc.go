// Package retry provides exponential backoff for transient failures.
//
// Two styles are offered:
//
//   - Do / DoWithResult: run a function with bounded retries, sleeping
//     with exponential backoff between attempts. Used for one-shot
//     operations such as broker connects.
//
//   - Backoff: a stateful delay tracker for long-lived restart loops.
//     The caller owns the loop (and the sleep, typically via a
//     clock.Clock so it is testable) and asks Backoff for the next
//     delay after each consecutive failure. Used by the process
//     supervisor's restart policy.
//
// All delays grow by a multiplier up to a cap, with optional jitter to
// avoid synchronized retries. Do respects context cancellation both
// during the operation and during backoff sleeps.
package retry
