package patient

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/starcore/internal/temporal"
)

// Entity kinds.
const (
	KindDemographics = "core_demographic"
	KindMrnLink      = "mrn_to_live"
)

// Demographics is the stored core demographic record for one MRN.
type Demographics struct {
	FirstName  temporal.Opt[string]    `json:"first_name"`
	MiddleName temporal.Opt[string]    `json:"middle_name"`
	LastName   temporal.Opt[string]    `json:"last_name"`
	BirthDate  temporal.Opt[string]    `json:"birth_date"`
	DeathTime  temporal.Opt[time.Time] `json:"death_time"`
	Alive      temporal.Opt[bool]      `json:"alive"`
	Sex        temporal.Opt[string]    `json:"sex"`
	Postcode   temporal.Opt[string]    `json:"home_postcode"`
	Ethnicity  temporal.Opt[string]    `json:"ethnicity"`
}

// DemographicFields is the inbound tri-state form of Demographics.
type DemographicFields struct {
	FirstName  temporal.Field[string]    `json:"first_name,omitzero"`
	MiddleName temporal.Field[string]    `json:"middle_name,omitzero"`
	LastName   temporal.Field[string]    `json:"last_name,omitzero"`
	BirthDate  temporal.Field[string]    `json:"birth_date,omitzero"`
	DeathTime  temporal.Field[time.Time] `json:"death_time,omitzero"`
	Alive      temporal.Field[bool]      `json:"alive,omitzero"`
	Sex        temporal.Field[string]    `json:"sex,omitzero"`
	Postcode   temporal.Field[string]    `json:"home_postcode,omitzero"`
	Ethnicity  temporal.Field[string]    `json:"ethnicity,omitzero"`
}

// ApplyTo folds the fields into d and reports whether anything changed.
func (f DemographicFields) ApplyTo(d *Demographics) bool {
	changed := f.FirstName.AssignTo(&d.FirstName)
	changed = f.MiddleName.AssignTo(&d.MiddleName) || changed
	changed = f.LastName.AssignTo(&d.LastName) || changed
	changed = f.BirthDate.AssignTo(&d.BirthDate) || changed
	changed = f.DeathTime.AssignTo(&d.DeathTime) || changed
	changed = f.Alive.AssignTo(&d.Alive) || changed
	changed = f.Sex.AssignTo(&d.Sex) || changed
	changed = f.Postcode.AssignTo(&d.Postcode) || changed
	changed = f.Ethnicity.AssignTo(&d.Ethnicity) || changed
	return changed
}

// Normalized returns f with text in NFC and the death time in UTC at
// microsecond precision, the forms a stored row reads back as. Two spellings
// of the same value therefore patch identically.
func (f DemographicFields) Normalized() DemographicFields {
	f.FirstName = f.FirstName.Map(norm.NFC.String)
	f.MiddleName = f.MiddleName.Map(norm.NFC.String)
	f.LastName = f.LastName.Map(norm.NFC.String)
	f.BirthDate = f.BirthDate.Map(norm.NFC.String)
	f.DeathTime = f.DeathTime.Map(storedInstant)
	f.Sex = f.Sex.Map(norm.NFC.String)
	f.Postcode = f.Postcode.Map(norm.NFC.String)
	f.Ethnicity = f.Ethnicity.Map(norm.NFC.String)
	return f
}

func storedInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// MrnLink points an MRN at the MRN that is live for the same person.
type MrnLink struct {
	LiveMrn temporal.Opt[string] `json:"live_mrn"`
}
