package monitoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardwatch/wardwatch/internal/domain/records"
	"github.com/wardwatch/wardwatch/internal/platform/temporal"
)

// Builder computes monitoring payloads from the clinical record source. It
// holds no state between passes.
type Builder struct {
	repo   records.Repository
	logger zerolog.Logger
}

func NewBuilder(repo records.Repository, logger zerolog.Logger) *Builder {
	return &Builder{repo: repo, logger: logger}
}

// Build produces the monitoring payload for one pass as of now: every active
// admission at or over the hours threshold, ranked most urgent first. Each
// admission produces its own entry; a patient with several concurrent cases
// appears once per case.
func (b *Builder) Build(ctx context.Context, now time.Time, hoursThreshold int, grace time.Duration) (*Payload, error) {
	admissions, err := b.repo.ListActiveAdmissions(ctx, now, grace)
	if err != nil {
		return nil, fmt.Errorf("list active admissions: %w", err)
	}
	tests, err := b.repo.ListTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	lastTests := records.LatestByPatient(tests)

	entries := make([]*Entry, 0, len(admissions))
	for _, adm := range admissions {
		hoursSinceAdmission := adm.StayHours(now)
		if hoursSinceAdmission < float64(hoursThreshold) {
			continue
		}
		if adm.AdmissionTime == nil {
			b.logger.Debug().
				Int64("case_number", adm.CaseNumber).
				Msg("admission missing time-of-day, resolved to midnight")
		}
		entries = append(entries, buildEntry(adm, lastTests[adm.PatientID], now, hoursSinceAdmission, hoursThreshold))
	}

	sortEntries(entries)

	return &Payload{
		GeneratedAt:    temporal.FormatDateTime(now),
		HoursThreshold: hoursThreshold,
		Patients:       entries,
	}, nil
}

func buildEntry(adm *records.AdmissionRecord, lastTest *records.LabTest, now time.Time, hoursSinceAdmission float64, hoursThreshold int) *Entry {
	admitted := adm.AdmissionInstant()
	entry := &Entry{
		PatientID:           adm.PatientID,
		CaseNumber:          adm.CaseNumber,
		Name:                adm.Patient.FullName(),
		Age:                 adm.Patient.AgeAt(now),
		Department:          adm.Department,
		RoomNumber:          adm.RoomNumber,
		AdmissionDateTime:   temporal.FormatDateTime(admitted),
		HoursSinceAdmission: hoursSinceAdmission,
		AdmissionLength:     temporal.FormatDuration(hoursSinceAdmission),
		TimeSinceLastTest:   "No tests",
		PrimaryPhysician:    adm.Patient.PrimaryPhysician,
		NeedsAlert:          true,
		admittedAt:          admitted,
	}

	if lastTest != nil {
		instant := lastTest.EffectiveInstant()
		hours := temporal.HoursBetween(instant, now)
		formatted := temporal.FormatDateTime(instant)
		entry.LastTestDateTime = &formatted
		entry.HoursSinceLastTest = &hours
		entry.TimeSinceLastTest = temporal.FormatDuration(hours)
		entry.LastTestName = &lastTest.TestName
		entry.NeedsAlert = hours >= float64(hoursThreshold)
	}
	return entry
}

// sortEntries orders most urgent first: hours since last test descending,
// with "no test" above any finite value. Ties go to the longer-admitted
// patient (admission instant ascending).
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.HoursSinceLastTest == nil && b.HoursSinceLastTest != nil:
			return true
		case a.HoursSinceLastTest != nil && b.HoursSinceLastTest == nil:
			return false
		case a.HoursSinceLastTest != nil && b.HoursSinceLastTest != nil &&
			*a.HoursSinceLastTest != *b.HoursSinceLastTest:
			return *a.HoursSinceLastTest > *b.HoursSinceLastTest
		}
		return a.admittedAt.Before(b.admittedAt)
	})
}
