package detail

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardwatch/wardwatch/internal/domain/records"
	"github.com/wardwatch/wardwatch/internal/platform/temporal"
)

// Builder computes per-patient drill-down payloads from the clinical record
// source. It holds no state between passes.
type Builder struct {
	repo   records.Repository
	logger zerolog.Logger
}

func NewBuilder(repo records.Repository, logger zerolog.Logger) *Builder {
	return &Builder{repo: repo, logger: logger}
}

// Build produces the detail payload for one patient as of now. Admission
// context comes from the most recently opened active admission, falling back
// to the most recently closed one; a patient never admitted gets null
// context fields. Returns records.ErrNotFound when the patient does not
// exist.
func (b *Builder) Build(ctx context.Context, patientID int64, now time.Time, grace time.Duration) (*Payload, error) {
	patient, err := b.repo.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	admissions, err := b.repo.ListAdmissionsForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list admissions: %w", err)
	}
	tests, err := b.repo.ListTestsForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}

	payload := &Payload{
		PatientID:         patient.ID,
		Name:              patient.FullName(),
		Age:               patient.AgeAt(now),
		PrimaryPhysician:  patient.PrimaryPhysician,
		InsuranceProvider: patient.InsuranceProvider,
		BloodType:         patient.BloodType,
		Allergies:         patient.Allergies,
	}

	if adm := contextAdmission(admissions, now, grace); adm != nil {
		if adm.AdmissionTime == nil {
			b.logger.Debug().
				Int64("case_number", adm.CaseNumber).
				Msg("admission missing time-of-day, resolved to midnight")
		}
		formatted := temporal.FormatDateTime(adm.AdmissionInstant())
		hours := adm.StayHours(now)
		payload.Department = adm.Department
		payload.RoomNumber = adm.RoomNumber
		payload.AdmissionDateTime = &formatted
		payload.HoursSinceAdmission = &hours
	}

	if last := records.LatestTest(tests); last != nil {
		instant := last.EffectiveInstant()
		payload.LastTest = &LastTest{
			TestName:           last.TestName,
			LastTestDateTime:   temporal.FormatDateTime(instant),
			HoursSinceLastTest: temporal.HoursBetween(instant, now),
		}
	}

	payload.LatestResults = latestResults(tests)
	payload.ChartSeries = chartSeries(tests)
	return payload, nil
}

// ActivePatientIDs lists the distinct patients holding an active admission,
// ascending. This is the sweep set for scheduled detail refreshes.
func (b *Builder) ActivePatientIDs(ctx context.Context, now time.Time, grace time.Duration) ([]int64, error) {
	admissions, err := b.repo.ListActiveAdmissions(ctx, now, grace)
	if err != nil {
		return nil, fmt.Errorf("list active admissions: %w", err)
	}
	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(admissions))
	for _, adm := range admissions {
		if seen[adm.PatientID] {
			continue
		}
		seen[adm.PatientID] = true
		ids = append(ids, adm.PatientID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// contextAdmission picks the admission whose stay frames the detail view.
func contextAdmission(admissions []*records.Admission, now time.Time, grace time.Duration) *records.Admission {
	var active, closed *records.Admission
	for _, adm := range admissions {
		if adm.ActiveAt(now, grace) {
			if active == nil || adm.AdmissionInstant().After(active.AdmissionInstant()) {
				active = adm
			}
			continue
		}
		if closed == nil || releasedAfter(adm, closed) {
			closed = adm
		}
	}
	if active != nil {
		return active
	}
	return closed
}

func releasedAfter(a, b *records.Admission) bool {
	ra, rb := a.ReleaseInstant(), b.ReleaseInstant()
	if ra == nil {
		return false
	}
	if rb == nil {
		return true
	}
	return ra.After(*rb)
}

// latestResults keeps the newest row per test name, newest first. A strictly
// newer effective instant replaces; ties keep the earlier row.
func latestResults(tests []*records.LabTest) []*ResultRow {
	index := make(map[string]int)
	rows := make([]*ResultRow, 0, len(tests))
	for _, lt := range tests {
		row := newResultRow(lt)
		i, seen := index[lt.TestName]
		if !seen {
			index[lt.TestName] = len(rows)
			rows = append(rows, row)
			continue
		}
		if row.effectiveAt.After(rows[i].effectiveAt) {
			rows[i] = row
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].effectiveAt.After(rows[j].effectiveAt)
	})
	return rows
}

func newResultRow(lt *records.LabTest) *ResultRow {
	row := &ResultRow{
		TestName:          lt.TestName,
		OrderDate:         temporal.FormatDate(lt.OrderDate),
		OrderTime:         temporal.FormatTimeOpt(lt.OrderTime),
		OrderingPhysician: lt.OrderingPhysician,
		effectiveAt:       lt.EffectiveInstant(),
	}
	if res := lt.Result; res != nil {
		row.ResultValue = res.Value
		row.ResultUnit = res.Unit
		row.ReferenceRange = res.ReferenceRange
		row.ResultStatus = res.Status
		row.PerformedDate = temporal.FormatDateOpt(res.PerformedDate)
		row.PerformedTime = temporal.FormatTimeOpt(res.PerformedTime)
		row.ReviewingPhysician = res.ReviewingPhysician
	}
	return row
}

// chartSeries groups every observation by test name, points in time order,
// series sorted by name so payloads are stable across recomputations.
func chartSeries(tests []*records.LabTest) []*ChartSeries {
	byName := make(map[string]*ChartSeries)
	names := make([]string, 0)
	for _, lt := range tests {
		at := lt.EffectiveInstant()
		point := &ChartPoint{
			Timestamp: temporal.FormatDateTime(at),
			at:        at,
		}
		if res := lt.Result; res != nil {
			point.Value = res.Value
			point.ResultStatus = res.Status
		}
		series, ok := byName[lt.TestName]
		if !ok {
			series = &ChartSeries{TestName: lt.TestName}
			byName[lt.TestName] = series
			names = append(names, lt.TestName)
		}
		series.Points = append(series.Points, point)
	}

	sort.Strings(names)
	out := make([]*ChartSeries, 0, len(names))
	for _, name := range names {
		series := byName[name]
		sort.SliceStable(series.Points, func(i, j int) bool {
			return series.Points[i].at.Before(series.Points[j].at)
		})
		out = append(out, series)
	}
	return out
}
