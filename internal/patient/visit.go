package patient

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/temporal"
)

// KindHospitalVisit is the entity kind for hospital visits, keyed by
// encounter.
const KindHospitalVisit = "hospital_visit"

// HospitalVisit is the stored record of one encounter.
type HospitalVisit struct {
	// Mrn is the MRN the visit happened under.
	Mrn          temporal.Opt[string] `json:"mrn"`
	SourceSystem temporal.Opt[string] `json:"source_system"`
	// PresentationTime is when the patient was first seen, possibly before
	// admission.
	PresentationTime     temporal.Opt[time.Time] `json:"presentation_time"`
	AdmissionTime        temporal.Opt[time.Time] `json:"admission_time"`
	DischargeTime        temporal.Opt[time.Time] `json:"discharge_time"`
	PatientClass         temporal.Opt[string]    `json:"patient_class"`
	ArrivalMethod        temporal.Opt[string]    `json:"arrival_method"`
	DischargeDestination temporal.Opt[string]    `json:"discharge_destination"`
	DischargeDisposition temporal.Opt[string]    `json:"discharge_disposition"`
}

// VisitFields is the inbound tri-state form of HospitalVisit. The MRN comes
// from the message itself.
type VisitFields struct {
	SourceSystem         temporal.Field[string]    `json:"source_system,omitzero"`
	PresentationTime     temporal.Field[time.Time] `json:"presentation_time,omitzero"`
	AdmissionTime        temporal.Field[time.Time] `json:"admission_time,omitzero"`
	DischargeTime        temporal.Field[time.Time] `json:"discharge_time,omitzero"`
	PatientClass         temporal.Field[string]    `json:"patient_class,omitzero"`
	ArrivalMethod        temporal.Field[string]    `json:"arrival_method,omitzero"`
	DischargeDestination temporal.Field[string]    `json:"discharge_destination,omitzero"`
	DischargeDisposition temporal.Field[string]    `json:"discharge_disposition,omitzero"`
}

// ApplyTo folds the fields into v and reports whether anything changed.
func (f VisitFields) ApplyTo(v *HospitalVisit) bool {
	changed := f.SourceSystem.AssignTo(&v.SourceSystem)
	changed = f.PresentationTime.AssignTo(&v.PresentationTime) || changed
	changed = f.AdmissionTime.AssignTo(&v.AdmissionTime) || changed
	changed = f.DischargeTime.AssignTo(&v.DischargeTime) || changed
	changed = f.PatientClass.AssignTo(&v.PatientClass) || changed
	changed = f.ArrivalMethod.AssignTo(&v.ArrivalMethod) || changed
	changed = f.DischargeDestination.AssignTo(&v.DischargeDestination) || changed
	changed = f.DischargeDisposition.AssignTo(&v.DischargeDisposition) || changed
	return changed
}

// Normalized is DemographicFields.Normalized for visits.
func (f VisitFields) Normalized() VisitFields {
	f.SourceSystem = f.SourceSystem.Map(norm.NFC.String)
	f.PresentationTime = f.PresentationTime.Map(storedInstant)
	f.AdmissionTime = f.AdmissionTime.Map(storedInstant)
	f.DischargeTime = f.DischargeTime.Map(storedInstant)
	f.PatientClass = f.PatientClass.Map(norm.NFC.String)
	f.ArrivalMethod = f.ArrivalMethod.Map(norm.NFC.String)
	f.DischargeDestination = f.DischargeDestination.Map(norm.NFC.String)
	f.DischargeDisposition = f.DischargeDisposition.Map(norm.NFC.String)
	return f
}

// visitEvent adapts a visit message to the coordinator.
type visitEvent struct {
	id  string
	msg Message
}

var _ coordinator.Event[HospitalVisit] = visitEvent{}

func (e visitEvent) EventID() string    { return e.id }
func (e visitEvent) Identity() string   { return e.msg.Encounter }
func (e visitEvent) LockKeys() []string { return nil }
func (e visitEvent) ValidAt() time.Time { return e.msg.EventTime }
func (e visitEvent) Deletes() bool      { return false }

func (e visitEvent) Patch(v *HospitalVisit) bool {
	changed := temporal.Value(e.msg.Mrn).AssignTo(&v.Mrn)
	if e.msg.Visit != nil {
		changed = e.msg.Visit.Normalized().ApplyTo(v) || changed
	}
	return changed
}
