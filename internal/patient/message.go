package patient

import (
	"fmt"
	"time"

	"github.com/roach88/starcore/internal/canonical"
)

// MessageType names what a message does.
type MessageType string

const (
	// TypeDemographics updates core demographics for an MRN.
	TypeDemographics MessageType = "demographics"
	// TypeDelete retracts a patient's demographics.
	TypeDelete MessageType = "delete"
	// TypeMerge retires MRN in favour of SurvivingMrn.
	TypeMerge MessageType = "merge"
	// TypeVisit updates the hospital visit for Encounter.
	TypeVisit MessageType = "visit"
)

// Message is one inbound patient message.
type Message struct {
	Type MessageType `json:"type"`

	// Seq is the arrival sequence number. Files may omit it, in which case
	// decoding assigns file order starting at 1.
	Seq int64 `json:"seq,omitempty"`

	// SourceID is the sender's message identifier. When empty the event ID
	// is derived from the message content.
	SourceID string `json:"source_id,omitempty"`

	Mrn          string             `json:"mrn"`
	EventTime    time.Time          `json:"event_time"`
	Fields       *DemographicFields `json:"fields,omitempty"`
	SurvivingMrn string             `json:"surviving_mrn,omitempty"`

	// Encounter and Visit are set on visit messages only.
	Encounter string       `json:"encounter,omitempty"`
	Visit     *VisitFields `json:"visit,omitempty"`
}

// EventID returns a stable identifier: SourceID when set, otherwise a hash of
// the canonical message content (Seq excluded, so a redelivery under a new
// sequence number keeps its ID).
func (m Message) EventID() (string, error) {
	if m.SourceID != "" {
		return m.SourceID, nil
	}
	content := m
	content.Seq = 0
	content.EventTime = m.EventTime.UTC()
	id, err := canonical.Hash(canonical.DomainEvent, content)
	if err != nil {
		return "", fmt.Errorf("event id for %s message on %s: %w", m.Type, m.Mrn, err)
	}
	return id, nil
}
