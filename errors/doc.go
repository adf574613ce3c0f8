// Package errors provides standardized error handling for rtl433-ha
// components. It classifies errors into transient, invalid, and fatal
// classes, defines the sentinel errors shared across the pipeline, and
// offers helpers for consistent wrapping with component/operation
// context.
//
// Classification drives behavior: transient errors feed the supervisor's
// restart/backoff policy, invalid errors are surfaced synchronously to
// the caller (user action required), and fatal errors stop the feed.
// Record-level errors (malformed JSON, missing identity) are invalid but
// never propagate past the normalizer boundary; the coordinator counts
// and rate-limit-logs them instead.
package errors
