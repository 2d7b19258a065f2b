package records

import (
	"time"

	"github.com/wardwatch/wardwatch/internal/platform/temporal"
)

// DefaultReleaseGrace keeps just-discharged patients visible briefly: an
// admission released within this window still counts as active.
const DefaultReleaseGrace = 2 * time.Hour

// Patient maps to the patients table.
type Patient struct {
	ID                int64      `db:"patient_id" json:"patient_id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	DateOfBirth       *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	PrimaryPhysician  *string    `db:"primary_physician" json:"primary_physician,omitempty"`
	InsuranceProvider *string    `db:"insurance_provider" json:"insurance_provider,omitempty"`
	BloodType         *string    `db:"blood_type" json:"blood_type,omitempty"`
	Allergies         *string    `db:"allergies" json:"allergies,omitempty"`
}

func (p *Patient) FullName() string { return p.FirstName + " " + p.LastName }

// AgeAt returns the patient's age in full years at ref, or nil when the
// birth date is unknown.
func (p *Patient) AgeAt(ref time.Time) *int {
	if p.DateOfBirth == nil {
		return nil
	}
	age := temporal.Age(*p.DateOfBirth, ref)
	return &age
}

// Admission maps to the admissions table. The case number identifies one
// hospitalization episode; a patient may hold several.
type Admission struct {
	CaseNumber    int64      `db:"hospitalization_case_number" json:"case_number"`
	PatientID     int64      `db:"patient_id" json:"patient_id"`
	AdmissionDate time.Time  `db:"admission_date" json:"admission_date"`
	AdmissionTime *time.Time `db:"admission_time" json:"admission_time,omitempty"`
	ReleaseDate   *time.Time `db:"release_date" json:"release_date,omitempty"`
	ReleaseTime   *time.Time `db:"release_time" json:"release_time,omitempty"`
	Department    *string    `db:"department" json:"department,omitempty"`
	RoomNumber    *string    `db:"room_number" json:"room_number,omitempty"`
}

// AdmissionInstant resolves the admission date and optional time-of-day into
// one instant. Missing time-of-day means midnight.
func (a *Admission) AdmissionInstant() time.Time {
	return temporal.Combine(a.AdmissionDate, a.AdmissionTime)
}

// ReleaseInstant resolves the release instant, or nil while the patient is
// still admitted.
func (a *Admission) ReleaseInstant() *time.Time {
	return temporal.CombineOpt(a.ReleaseDate, a.ReleaseTime)
}

// ActiveAt reports whether the admission counts as active at now: never
// released, or released within the grace window.
func (a *Admission) ActiveAt(now time.Time, grace time.Duration) bool {
	rel := a.ReleaseInstant()
	if rel == nil {
		return true
	}
	return now.Sub(*rel) <= grace
}

// StayBoundary is the instant the stay measurement runs to: the release
// instant once one exists, otherwise now.
func (a *Admission) StayBoundary(now time.Time) time.Time {
	if rel := a.ReleaseInstant(); rel != nil {
		return *rel
	}
	return now
}

// StayHours returns fractional hours from admission to the stay boundary.
func (a *Admission) StayHours(now time.Time) float64 {
	return temporal.HoursBetween(a.AdmissionInstant(), a.StayBoundary(now))
}

// AdmissionRecord is an admission joined with its patient, the unit the
// monitoring aggregation works on.
type AdmissionRecord struct {
	Admission
	Patient Patient `json:"patient"`
}

// LabTest maps to the lab_tests table, carrying its result when one has been
// recorded.
type LabTest struct {
	ID                int64      `db:"test_id" json:"test_id"`
	PatientID         int64      `db:"patient_id" json:"patient_id"`
	TestName          string     `db:"test_name" json:"test_name"`
	OrderDate         time.Time  `db:"order_date" json:"order_date"`
	OrderTime         *time.Time `db:"order_time" json:"order_time,omitempty"`
	OrderingPhysician *string    `db:"ordering_physician" json:"ordering_physician,omitempty"`
	Result            *LabResult `json:"result,omitempty"`
}

// LabResult maps to the lab_results table.
type LabResult struct {
	ID                 int64      `db:"result_id" json:"result_id"`
	TestID             int64      `db:"test_id" json:"test_id"`
	Value              *float64   `db:"result_value" json:"result_value,omitempty"`
	Unit               *string    `db:"result_unit" json:"result_unit,omitempty"`
	ReferenceRange     *string    `db:"reference_range" json:"reference_range,omitempty"`
	Status             *string    `db:"result_status" json:"result_status,omitempty"`
	PerformedDate      *time.Time `db:"performed_date" json:"performed_date,omitempty"`
	PerformedTime      *time.Time `db:"performed_time" json:"performed_time,omitempty"`
	ReviewingPhysician *string    `db:"reviewing_physician" json:"reviewing_physician,omitempty"`
}

// OrderInstant resolves the order date and optional time-of-day.
func (t *LabTest) OrderInstant() time.Time {
	return temporal.Combine(t.OrderDate, t.OrderTime)
}

// ResultInstant resolves the performed instant of the attached result, or nil
// when no result exists yet.
func (t *LabTest) ResultInstant() *time.Time {
	if t.Result == nil {
		return nil
	}
	return temporal.CombineOpt(t.Result.PerformedDate, t.Result.PerformedTime)
}

// EffectiveInstant is the later of the order instant and the result's
// performed instant: a result recorded after ordering counts as the freshest
// signal for recency.
func (t *LabTest) EffectiveInstant() time.Time {
	order := t.OrderInstant()
	if res := t.ResultInstant(); res != nil && res.After(order) {
		return *res
	}
	return order
}

// LatestTest returns the test with the highest effective instant, or nil for
// an empty slice.
func LatestTest(tests []*LabTest) *LabTest {
	var latest *LabTest
	for _, t := range tests {
		if latest == nil || t.EffectiveInstant().After(latest.EffectiveInstant()) {
			latest = t
		}
	}
	return latest
}

// LatestByPatient returns, per patient, the test with the highest effective
// instant.
func LatestByPatient(tests []*LabTest) map[int64]*LabTest {
	latest := make(map[int64]*LabTest)
	for _, t := range tests {
		cur, ok := latest[t.PatientID]
		if !ok || t.EffectiveInstant().After(cur.EffectiveInstant()) {
			latest[t.PatientID] = t
		}
	}
	return latest
}
