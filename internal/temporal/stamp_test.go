package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func TestStamp_OpenIsCurrent(t *testing.T) {
	s := Open(at(0), at(1))
	assert.True(t, s.IsCurrent())
	assert.NoError(t, s.Validate())
}

func TestStamp_ValidateRejectsInvertedAxes(t *testing.T) {
	tests := []struct {
		name  string
		stamp Stamp
	}{
		{"valid axis", Stamp{ValidFrom: at(2), ValidUntil: at(1), StoredFrom: at(0)}},
		{"stored axis", Stamp{ValidFrom: at(0), StoredFrom: at(3), StoredUntil: at(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.stamp.Validate())
		})
	}
}

func TestStamp_ValidateAllowsEmptySpans(t *testing.T) {
	s := Stamp{ValidFrom: at(1), ValidUntil: at(1), StoredFrom: at(2), StoredUntil: at(2)}
	assert.NoError(t, s.Validate())
}

func TestStamp_VisibleAt(t *testing.T) {
	s := Stamp{ValidFrom: at(0), ValidUntil: at(10), StoredFrom: at(5), StoredUntil: at(20)}

	assert.True(t, s.VisibleAt(at(0), at(5)), "both lower bounds are inclusive")
	assert.False(t, s.VisibleAt(at(10), at(5)), "valid upper bound is exclusive")
	assert.False(t, s.VisibleAt(at(3), at(20)), "stored upper bound is exclusive")
	assert.False(t, s.VisibleAt(at(3), at(4)), "not yet recorded")
	assert.False(t, s.VisibleAt(at(-1), at(6)), "not yet valid")

	open := Open(at(0), at(5))
	assert.True(t, open.VisibleAt(at(1000), at(1000)))
}
