package detail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardwatch/wardwatch/internal/domain/records"
)

var testNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func hoursAgo(h float64) time.Time {
	return testNow.Add(-time.Duration(h * float64(time.Hour)))
}

// splitInstant breaks an instant into the calendar-date / time-of-day pair
// the clinical schema stores.
func splitInstant(t time.Time) (time.Time, *time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	clock := time.Date(0, time.January, 1, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	return day, &clock
}

// -- Mock record source --

type mockRecords struct {
	patients   map[int64]*records.Patient
	admissions []*records.AdmissionRecord
	tests      []*records.LabTest
	err        error
}

func newMockRecords() *mockRecords {
	return &mockRecords{patients: make(map[int64]*records.Patient)}
}

func (m *mockRecords) addPatient(p *records.Patient) {
	m.patients[p.ID] = p
}

func (m *mockRecords) admit(patientID, caseNumber int64, at time.Time) *records.Admission {
	day, clock := splitInstant(at)
	department := "Internal Medicine"
	room := "12B"
	rec := &records.AdmissionRecord{
		Admission: records.Admission{
			CaseNumber:    caseNumber,
			PatientID:     patientID,
			AdmissionDate: day,
			AdmissionTime: clock,
			Department:    &department,
			RoomNumber:    &room,
		},
	}
	if p, ok := m.patients[patientID]; ok {
		rec.Patient = *p
	}
	m.admissions = append(m.admissions, rec)
	return &rec.Admission
}

func release(adm *records.Admission, at time.Time) {
	day, clock := splitInstant(at)
	adm.ReleaseDate = &day
	adm.ReleaseTime = clock
}

func (m *mockRecords) GetPatient(_ context.Context, id int64) (*records.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return p, nil
}

func (m *mockRecords) ListActiveAdmissions(_ context.Context, now time.Time, grace time.Duration) ([]*records.AdmissionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*records.AdmissionRecord
	for _, rec := range m.admissions {
		if rec.ActiveAt(now, grace) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockRecords) ListAdmissionsForPatient(_ context.Context, patientID int64) ([]*records.Admission, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*records.Admission
	for _, rec := range m.admissions {
		if rec.PatientID == patientID {
			out = append(out, &rec.Admission)
		}
	}
	return out, nil
}

func (m *mockRecords) ListTests(_ context.Context) ([]*records.LabTest, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tests, nil
}

func (m *mockRecords) ListTestsForPatient(_ context.Context, patientID int64) ([]*records.LabTest, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*records.LabTest
	for _, lt := range m.tests {
		if lt.PatientID == patientID {
			out = append(out, lt)
		}
	}
	return out, nil
}

// -- Fixtures --

func testPatient(id int64) *records.Patient {
	dob := time.Date(1958, time.July, 2, 0, 0, 0, 0, time.UTC)
	physician := "Dr. Navarro"
	insurance := "Acme Health"
	blood := "A+"
	allergies := "Penicillin"
	return &records.Patient{
		ID:                id,
		FirstName:         "Dana",
		LastName:          "Reyes",
		DateOfBirth:       &dob,
		PrimaryPhysician:  &physician,
		InsuranceProvider: &insurance,
		BloodType:         &blood,
		Allergies:         &allergies,
	}
}

func orderedTest(id, patientID int64, name string, at time.Time) *records.LabTest {
	day, clock := splitInstant(at)
	return &records.LabTest{
		ID:        id,
		PatientID: patientID,
		TestName:  name,
		OrderDate: day,
		OrderTime: clock,
	}
}

func resultedTest(id, patientID int64, name string, ordered, performed time.Time, value float64) *records.LabTest {
	lt := orderedTest(id, patientID, name, ordered)
	day, clock := splitInstant(performed)
	unit := "g/dL"
	status := "Final"
	lt.Result = &records.LabResult{
		ID:            id * 10,
		TestID:        id,
		Value:         &value,
		Unit:          &unit,
		Status:        &status,
		PerformedDate: &day,
		PerformedTime: clock,
	}
	return lt
}

func newTestBuilder(repo records.Repository) *Builder {
	return NewBuilder(repo, zerolog.Nop())
}

// -- Tests --

func TestBuilder_DemographicsWithoutAdmission(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.PatientID != 1 || payload.Name != "Dana Reyes" {
		t.Errorf("unexpected identity: %d %q", payload.PatientID, payload.Name)
	}
	if payload.Age == nil || *payload.Age != 65 {
		t.Errorf("expected age 65, got %v", payload.Age)
	}
	if payload.InsuranceProvider == nil || *payload.InsuranceProvider != "Acme Health" {
		t.Errorf("unexpected insurance: %v", payload.InsuranceProvider)
	}
	if payload.BloodType == nil || *payload.BloodType != "A+" {
		t.Errorf("unexpected blood type: %v", payload.BloodType)
	}
	if payload.Allergies == nil || *payload.Allergies != "Penicillin" {
		t.Errorf("unexpected allergies: %v", payload.Allergies)
	}
	if payload.Department != nil || payload.RoomNumber != nil ||
		payload.AdmissionDateTime != nil || payload.HoursSinceAdmission != nil {
		t.Error("expected null admission context for a patient never admitted")
	}
	if payload.LastTest != nil {
		t.Errorf("expected null last_test, got %+v", payload.LastTest)
	}
	if payload.LatestResults == nil || len(payload.LatestResults) != 0 {
		t.Errorf("expected empty non-nil latest_results, got %v", payload.LatestResults)
	}
	if payload.ChartSeries == nil || len(payload.ChartSeries) != 0 {
		t.Errorf("expected empty non-nil chart_series, got %v", payload.ChartSeries)
	}
}

func TestBuilder_AdmissionContext(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	repo.admit(1, 500, hoursAgo(72))

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.Department == nil || *payload.Department != "Internal Medicine" {
		t.Errorf("unexpected department: %v", payload.Department)
	}
	if payload.RoomNumber == nil || *payload.RoomNumber != "12B" {
		t.Errorf("unexpected room: %v", payload.RoomNumber)
	}
	if payload.AdmissionDateTime == nil || *payload.AdmissionDateTime != "12.03.2024 12:00:00" {
		t.Errorf("unexpected admission_datetime: %v", payload.AdmissionDateTime)
	}
	if payload.HoursSinceAdmission == nil || *payload.HoursSinceAdmission != 72 {
		t.Errorf("expected 72 hours since admission, got %v", payload.HoursSinceAdmission)
	}
}

func TestBuilder_GraceWindowFreezesStay(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	adm := repo.admit(1, 500, hoursAgo(73))
	release(adm, hoursAgo(1))

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// Stay is measured to the release instant, not to now.
	if payload.HoursSinceAdmission == nil || *payload.HoursSinceAdmission != 72 {
		t.Errorf("expected 72 hours admission-to-release, got %v", payload.HoursSinceAdmission)
	}
}

func TestBuilder_PrefersActiveAdmission(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	old := repo.admit(1, 500, hoursAgo(400))
	release(old, hoursAgo(300))
	repo.admit(1, 501, hoursAgo(10))

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.AdmissionDateTime == nil || *payload.AdmissionDateTime != "15.03.2024 02:00:00" {
		t.Errorf("expected the open admission as context, got %v", payload.AdmissionDateTime)
	}
	if payload.HoursSinceAdmission == nil || *payload.HoursSinceAdmission != 10 {
		t.Errorf("expected 10 hours since admission, got %v", payload.HoursSinceAdmission)
	}
}

func TestBuilder_FallsBackToLatestClosed(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	first := repo.admit(1, 500, hoursAgo(400))
	release(first, hoursAgo(350))
	second := repo.admit(1, 501, hoursAgo(200))
	release(second, hoursAgo(100))

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.AdmissionDateTime == nil || *payload.AdmissionDateTime != "07.03.2024 04:00:00" {
		t.Errorf("expected the later-closed admission as context, got %v", payload.AdmissionDateTime)
	}
	if payload.HoursSinceAdmission == nil || *payload.HoursSinceAdmission != 100 {
		t.Errorf("expected the 100h admission-to-release window, got %v", payload.HoursSinceAdmission)
	}
}

func TestBuilder_LastTestSummary(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	repo.admit(1, 500, hoursAgo(72))
	repo.tests = append(repo.tests,
		resultedTest(1, 1, "CBC", hoursAgo(70), hoursAgo(60), 7.8),
		orderedTest(2, 1, "CRP", hoursAgo(5)),
	)

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.LastTest == nil {
		t.Fatal("expected a last_test summary")
	}
	if payload.LastTest.TestName != "CRP" {
		t.Errorf("expected CRP as the most recent test, got %s", payload.LastTest.TestName)
	}
	if payload.LastTest.LastTestDateTime != "15.03.2024 07:00:00" {
		t.Errorf("unexpected last_test_datetime %q", payload.LastTest.LastTestDateTime)
	}
	if payload.LastTest.HoursSinceLastTest != 5 {
		t.Errorf("expected 5 hours since last test, got %v", payload.LastTest.HoursSinceLastTest)
	}
}

func TestBuilder_LatestResultPerTestName(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	repo.admit(1, 500, hoursAgo(72))
	repo.tests = append(repo.tests,
		resultedTest(1, 1, "CBC", hoursAgo(70), hoursAgo(60), 7.8),
		resultedTest(2, 1, "CBC", hoursAgo(20), hoursAgo(10), 8.4),
		orderedTest(3, 1, "CRP", hoursAgo(5)),
	)

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(payload.LatestResults) != 2 {
		t.Fatalf("expected one row per test name, got %d", len(payload.LatestResults))
	}

	// Newest effective instant first: the pending CRP order, then the
	// second CBC result.
	crp := payload.LatestResults[0]
	if crp.TestName != "CRP" {
		t.Fatalf("expected CRP first, got %s", crp.TestName)
	}
	if crp.ResultValue != nil || crp.PerformedDate != nil {
		t.Error("expected null result fields for the pending order")
	}
	if crp.OrderDate != "15.03.2024" || crp.OrderTime == nil || *crp.OrderTime != "07:00" {
		t.Errorf("unexpected order fields: %s %v", crp.OrderDate, crp.OrderTime)
	}

	cbc := payload.LatestResults[1]
	if cbc.TestName != "CBC" {
		t.Fatalf("expected CBC second, got %s", cbc.TestName)
	}
	if cbc.ResultValue == nil || *cbc.ResultValue != 8.4 {
		t.Errorf("expected the later CBC result value 8.4, got %v", cbc.ResultValue)
	}
	if cbc.PerformedDate == nil || *cbc.PerformedDate != "15.03.2024" {
		t.Errorf("unexpected performed_date: %v", cbc.PerformedDate)
	}
	if cbc.PerformedTime == nil || *cbc.PerformedTime != "02:00" {
		t.Errorf("unexpected performed_time: %v", cbc.PerformedTime)
	}
}

func TestBuilder_ChartSeries(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	repo.admit(1, 500, hoursAgo(72))
	repo.tests = append(repo.tests,
		resultedTest(1, 1, "CRP", hoursAgo(30), hoursAgo(25), 6.1),
		resultedTest(2, 1, "CBC", hoursAgo(70), hoursAgo(60), 7.8),
		resultedTest(3, 1, "CBC", hoursAgo(20), hoursAgo(10), 8.4),
		orderedTest(4, 1, "CBC", hoursAgo(2)),
	)

	payload, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(payload.ChartSeries) != 2 {
		t.Fatalf("expected 2 series, got %d", len(payload.ChartSeries))
	}
	// Series sorted by test name.
	if payload.ChartSeries[0].TestName != "CBC" || payload.ChartSeries[1].TestName != "CRP" {
		t.Errorf("unexpected series order: %s, %s", payload.ChartSeries[0].TestName, payload.ChartSeries[1].TestName)
	}

	cbc := payload.ChartSeries[0]
	if len(cbc.Points) != 3 {
		t.Fatalf("expected every CBC observation charted, got %d points", len(cbc.Points))
	}
	// Points in time order, including the pending order with a null value.
	if cbc.Points[0].Timestamp != "13.03.2024 00:00:00" ||
		cbc.Points[1].Timestamp != "15.03.2024 02:00:00" ||
		cbc.Points[2].Timestamp != "15.03.2024 10:00:00" {
		t.Errorf("unexpected point order: %s, %s, %s",
			cbc.Points[0].Timestamp, cbc.Points[1].Timestamp, cbc.Points[2].Timestamp)
	}
	if cbc.Points[0].Value == nil || *cbc.Points[0].Value != 7.8 {
		t.Errorf("unexpected first CBC value: %v", cbc.Points[0].Value)
	}
	if cbc.Points[2].Value != nil {
		t.Error("expected null value for the pending order point")
	}

	crp := payload.ChartSeries[1]
	if len(crp.Points) != 1 || crp.Points[0].Value == nil || *crp.Points[0].Value != 6.1 {
		t.Errorf("unexpected CRP series: %+v", crp.Points)
	}
}

func TestBuilder_UnknownPatient(t *testing.T) {
	repo := newMockRecords()

	_, err := newTestBuilder(repo).Build(context.Background(), 99, testNow, records.DefaultReleaseGrace)
	if !errors.Is(err, records.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuilder_SourceErrorPropagates(t *testing.T) {
	repo := newMockRecords()
	repo.err = records.ErrSourceUnavailable

	_, err := newTestBuilder(repo).Build(context.Background(), 1, testNow, records.DefaultReleaseGrace)
	if !errors.Is(err, records.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestBuilder_ActivePatientIDs(t *testing.T) {
	repo := newMockRecords()
	repo.addPatient(testPatient(1))
	repo.addPatient(testPatient(2))
	repo.addPatient(testPatient(3))
	repo.admit(2, 500, hoursAgo(72))
	repo.admit(1, 501, hoursAgo(96))
	repo.admit(1, 502, hoursAgo(48))
	gone := repo.admit(3, 503, hoursAgo(200))
	release(gone, hoursAgo(50))

	ids, err := newTestBuilder(repo).ActivePatientIDs(context.Background(), testNow, records.DefaultReleaseGrace)
	if err != nil {
		t.Fatalf("ActivePatientIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("expected [1 2], got %v", ids)
	}
}
