// Package patient is the patient-identity domain: core demographics keyed by
// MRN, the MRN-to-live-MRN links that record merges, and hospital visits
// keyed by encounter.
//
// Inbound messages arrive as YAML or JSON event files. Each file is checked
// against an embedded CUE schema before any message is decoded, so a bad file
// is rejected as a whole with a positioned error.
//
// Field semantics follow the tri-state convention: a member that is missing
// leaves the stored value alone, null deletes it, anything else overwrites it.
package patient
