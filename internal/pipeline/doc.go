// Package pipeline feeds inbound patient messages to the coordinators.
//
// A run resumes from the saved progress watermark, skips messages at or below
// it, and fans the rest out to a pool of workers. Each worker throttles intake
// with a token bucket, drops re-deliveries it has seen recently, and applies
// the message. Failures are logged and counted; the run carries on, except
// for inconsistent stored state, which stops it.
//
// The watermark only advances over a contiguous prefix of finished sequence
// numbers, so a crash re-delivers anything that might not have been applied.
// Re-delivery is safe because applying an event twice is a no-op.
package pipeline
