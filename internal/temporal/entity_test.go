package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bed struct {
	Ward  string
	Notes []string
}

func (b bed) Clone() bed {
	out := b
	out.Notes = append([]string(nil), b.Notes...)
	return out
}

func TestEntity_SnapshotIsDetached(t *testing.T) {
	e := NewEntity("mrn-1", bed{Ward: "T07", Notes: []string{"a"}}, at(0), at(1))

	snap := e.Snapshot()
	snap.Data.Notes[0] = "changed"
	snap.Data.Ward = "T08"

	assert.Equal(t, "a", e.Data.Notes[0])
	assert.Equal(t, "T07", e.Data.Ward)
}

func TestEntity_SupersedeLeavesOriginalCurrent(t *testing.T) {
	e := NewEntity("mrn-1", bed{Ward: "T07"}, at(0), at(1))

	h, err := e.Supersede(at(4), at(5))
	require.NoError(t, err)

	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "mrn-1", h.Identity)
	assert.Equal(t, at(0), h.ValidFrom)
	assert.Equal(t, at(4), h.ValidUntil)
	assert.Equal(t, at(1), h.StoredFrom)
	assert.Equal(t, at(5), h.StoredUntil)
	assert.False(t, h.IsCurrent())

	assert.True(t, e.IsCurrent())
	assert.True(t, e.ValidUntil.IsZero())
}

func TestEntity_SupersedeCopyDoesNotShareState(t *testing.T) {
	e := NewEntity("mrn-1", bed{Notes: []string{"a"}}, at(0), at(1))

	h, err := e.Supersede(at(2), at(2))
	require.NoError(t, err)

	e.Data.Notes[0] = "mutated after supersede"
	assert.Equal(t, "a", h.Data.Notes[0])
}

func TestEntity_SupersedeRejectsInvertedRanges(t *testing.T) {
	e := NewEntity("mrn-1", bed{}, at(5), at(5))

	_, err := e.Supersede(at(4), at(6))
	assert.Error(t, err)

	_, err = e.Supersede(at(6), at(4))
	assert.Error(t, err)
}

func TestEntity_SupersedeRequiresCurrent(t *testing.T) {
	e := NewEntity("mrn-1", bed{}, at(0), at(0))
	e.StoredUntil = at(1)

	_, err := e.Supersede(at(2), at(2))
	assert.ErrorIs(t, err, ErrNotCurrent)
}

func TestBackfill(t *testing.T) {
	h, err := Backfill("mrn-1", bed{Ward: "T01"}, at(1), at(3), at(9))
	require.NoError(t, err)
	assert.Equal(t, at(9), h.StoredFrom)
	assert.Equal(t, at(9), h.StoredUntil)
	assert.True(t, h.ValidAt(at(2)))
	for _, p := range []int{8, 9, 10} {
		assert.False(t, h.VisibleAt(at(2), at(p)), "stored at %d", p)
	}
	_, ok := AsOf(nil, []HistoricalCopy[bed]{h}, at(2), at(9))
	assert.False(t, ok)

	_, err = Backfill("mrn-1", bed{}, at(3), at(1), at(9))
	assert.Error(t, err)
}

func TestTimelineAndAsOf(t *testing.T) {
	v1 := NewEntity("mrn-1", bed{Ward: "A"}, at(0), at(0))
	h1, err := v1.Supersede(at(10), at(11))
	require.NoError(t, err)

	current := NewEntity("mrn-1", bed{Ward: "B"}, at(10), at(11))

	chain := Timeline(&current, []HistoricalCopy[bed]{h1})
	require.Len(t, chain, 2)
	assert.Equal(t, "A", chain[0].Data.Ward)
	assert.Equal(t, "B", chain[1].Data.Ward)

	// Before the change was recorded we believed A.
	got, ok := AsOf(&current, []HistoricalCopy[bed]{h1}, at(5), at(5))
	require.True(t, ok)
	assert.Equal(t, "A", got.Data.Ward)

	got, ok = AsOf(&current, []HistoricalCopy[bed]{h1}, at(12), at(12))
	require.True(t, ok)
	assert.Equal(t, "B", got.Data.Ward)

	_, ok = AsOf(&current, []HistoricalCopy[bed]{h1}, at(5), at(12))
	assert.False(t, ok, "A is no longer believed and B was not yet valid")
}
