package temporal

import (
	"fmt"
	"time"
)

// Stamp is the bitemporal clock pair carried by every versioned row.
// A zero ValidUntil or StoredUntil means "unset" (still true / still current).
type Stamp struct {
	ValidFrom   time.Time `json:"valid_from"`
	ValidUntil  time.Time `json:"valid_until,omitzero"`
	StoredFrom  time.Time `json:"stored_from"`
	StoredUntil time.Time `json:"stored_until,omitzero"`
}

// Open returns a stamp for a row that became true at validFrom and was
// recorded at storedFrom. Both until instants are unset.
func Open(validFrom, storedFrom time.Time) Stamp {
	return Stamp{ValidFrom: validFrom, StoredFrom: storedFrom}
}

// IsCurrent reports whether the row is the current record-time state.
func (s Stamp) IsCurrent() bool {
	return s.StoredUntil.IsZero()
}

// Validate checks that neither axis is inverted.
func (s Stamp) Validate() error {
	if !s.ValidUntil.IsZero() && s.ValidUntil.Before(s.ValidFrom) {
		return fmt.Errorf("valid_until %s before valid_from %s",
			s.ValidUntil.Format(time.RFC3339Nano), s.ValidFrom.Format(time.RFC3339Nano))
	}
	if !s.StoredUntil.IsZero() && s.StoredUntil.Before(s.StoredFrom) {
		return fmt.Errorf("stored_until %s before stored_from %s",
			s.StoredUntil.Format(time.RFC3339Nano), s.StoredFrom.Format(time.RFC3339Nano))
	}
	return nil
}

// ValidAt reports whether validAt falls in [ValidFrom, ValidUntil).
func (s Stamp) ValidAt(validAt time.Time) bool {
	if validAt.Before(s.ValidFrom) {
		return false
	}
	return s.ValidUntil.IsZero() || validAt.Before(s.ValidUntil)
}

// StoredAt reports whether storedAt falls in [StoredFrom, StoredUntil).
func (s Stamp) StoredAt(storedAt time.Time) bool {
	if storedAt.Before(s.StoredFrom) {
		return false
	}
	return s.StoredUntil.IsZero() || storedAt.Before(s.StoredUntil)
}

// VisibleAt answers "was this row what we believed was true at validAt, as of
// processing time storedAt". It never mutates the row.
func (s Stamp) VisibleAt(validAt, storedAt time.Time) bool {
	return s.StoredAt(storedAt) && s.ValidAt(validAt)
}
