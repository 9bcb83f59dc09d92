package patient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/starcore/internal/temporal"
)

func msgAt(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}

func TestMessage_EventIDUsesSourceID(t *testing.T) {
	id, err := Message{Type: TypeDemographics, SourceID: "adt-1", Mrn: "1", EventTime: msgAt(1)}.EventID()
	require.NoError(t, err)
	assert.Equal(t, "adt-1", id)
}

func TestMessage_EventIDIsContentDerived(t *testing.T) {
	base := Message{
		Type:      TypeDemographics,
		Mrn:       "40800000",
		EventTime: msgAt(9),
		Fields:    &DemographicFields{FirstName: temporal.Value("Ada")},
	}

	id1, err := base.EventID()
	require.NoError(t, err)
	assert.Len(t, id1, 64)

	redelivered := base
	redelivered.Seq = 17
	redelivered.EventTime = msgAt(9).In(time.FixedZone("BST", 3600))
	id2, err := redelivered.EventID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "sequence number and zone do not change identity")

	deleted := base
	deleted.Fields = &DemographicFields{FirstName: temporal.Delete[string]()}
	id3, err := deleted.EventID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	unknown := base
	unknown.Fields = &DemographicFields{}
	id4, err := unknown.EventID()
	require.NoError(t, err)
	assert.NotEqual(t, id3, id4, "delete and unknown hash differently")
}
