package patient

import (
	"time"

	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/temporal"
)

// demographicsEvent adapts a demographics or delete message to the
// coordinator.
type demographicsEvent struct {
	id  string
	msg Message
}

var _ coordinator.Event[Demographics] = demographicsEvent{}

func (e demographicsEvent) EventID() string    { return e.id }
func (e demographicsEvent) Identity() string   { return e.msg.Mrn }
func (e demographicsEvent) LockKeys() []string { return nil }
func (e demographicsEvent) ValidAt() time.Time { return e.msg.EventTime }
func (e demographicsEvent) Deletes() bool      { return e.msg.Type == TypeDelete }

func (e demographicsEvent) Patch(d *Demographics) bool {
	if e.msg.Fields == nil {
		return false
	}
	return e.msg.Fields.Normalized().ApplyTo(d)
}

// linkEvent points one MRN at a live MRN. Merges lock both MRNs.
type linkEvent struct {
	id       string
	identity string
	live     string
	at       time.Time
	keys     []string
	// onlyIfUnset leaves an existing link alone; used for the surviving
	// MRN's self link.
	onlyIfUnset bool
}

var _ coordinator.Event[MrnLink] = linkEvent{}

func (e linkEvent) EventID() string    { return e.id }
func (e linkEvent) Identity() string   { return e.identity }
func (e linkEvent) LockKeys() []string { return e.keys }
func (e linkEvent) ValidAt() time.Time { return e.at }
func (e linkEvent) Deletes() bool      { return false }

func (e linkEvent) Patch(l *MrnLink) bool {
	if e.onlyIfUnset && l.LiveMrn.IsSet() {
		return false
	}
	return temporal.Value(e.live).AssignTo(&l.LiveMrn)
}

// mergeEvents returns the events a merge message applies: the retiring MRN is
// re-pointed at the surviving one, and the surviving MRN gets a self link if
// it has none.
func mergeEvents(id string, msg Message) (retire, survive linkEvent) {
	keys := []string{msg.Mrn, msg.SurvivingMrn}
	retire = linkEvent{
		id:       id,
		identity: msg.Mrn,
		live:     msg.SurvivingMrn,
		at:       msg.EventTime,
		keys:     keys,
	}
	survive = linkEvent{
		id:          id + "/surviving",
		identity:    msg.SurvivingMrn,
		live:        msg.SurvivingMrn,
		at:          msg.EventTime,
		keys:        keys,
		onlyIfUnset: true,
	}
	return retire, survive
}
