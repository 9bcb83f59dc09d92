// Package keylock provides mutual exclusion keyed by arbitrary identifiers,
// typically patient MRNs.
//
// Memory is proportional to the number of keys currently claimed, not to the
// number of keys ever seen: a bookkeeping entry (claimant count plus a
// one-slot semaphore) exists only while at least one caller holds or waits
// for the key.
//
// # Multi-key acquisition
//
// AcquireAll sorts the requested keys into one canonical order before taking
// them one at a time. Any two callers contending for overlapping key sets
// therefore take the shared keys in the same relative order, so circular wait
// cannot happen.
//
// # Cancellation
//
// A caller blocked in Acquire returns ctx.Err() when its context is done. The
// claimant count is decremented on that path as if the acquire never
// happened, and AcquireAll releases whatever it had already taken.
package keylock
