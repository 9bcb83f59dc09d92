// Package temporal implements the bitemporal versioned-record model.
//
// Every stored record carries a Stamp with two independent time axes:
//
//   - Valid time (ValidFrom, ValidUntil): when the fact was true in the hospital.
//     Back-dated data keeps the original event time as ValidFrom.
//   - Record time (StoredFrom, StoredUntil): when this system believed the fact.
//
// A row is the current representation of an entity iff StoredUntil is unset.
// Superseded rows are never deleted or changed; they become HistoricalCopy values
// appended to a per-kind history log, so the question "what did we believe was
// true at T, as of processing time P" can always be answered from stored rows
// alone (see Stamp.VisibleAt).
//
// Business data is a plain struct parameterising Entity and HistoricalCopy.
// Optional business values use Opt, and inbound message values use the tri-state
// Field (unknown / delete / value) so that "not sent" never overwrites a known
// value while an explicit retraction always clears it.
package temporal
