package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardwatch/wardwatch/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `patient_id, first_name, last_name, date_of_birth,
	primary_physician, insurance_provider, blood_type, allergies`

func (r *repoPG) GetPatient(ctx context.Context, patientID int64) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_id = $1 AND deleted_at IS NULL`,
		patientID,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.PrimaryPhysician, &p.InsuranceProvider, &p.BloodType, &p.Allergies)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return &p, nil
}

const admissionJoinCols = `p.patient_id, p.first_name, p.last_name, p.date_of_birth,
	p.primary_physician, p.insurance_provider, p.blood_type, p.allergies,
	a.hospitalization_case_number, a.admission_date, a.admission_time,
	a.release_date, a.release_time, a.department, a.room_number`

func (r *repoPG) ListActiveAdmissions(ctx context.Context, now time.Time, grace time.Duration) ([]*AdmissionRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+admissionJoinCols+`
		FROM admissions a
		JOIN patients p ON p.patient_id = a.patient_id
		WHERE a.deleted_at IS NULL AND p.deleted_at IS NULL
		ORDER BY a.hospitalization_case_number`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var recs []*AdmissionRecord
	for rows.Next() {
		var (
			rec              AdmissionRecord
			admTime, relTime pgtype.Time
		)
		if err := rows.Scan(
			&rec.Patient.ID, &rec.Patient.FirstName, &rec.Patient.LastName, &rec.Patient.DateOfBirth,
			&rec.Patient.PrimaryPhysician, &rec.Patient.InsuranceProvider, &rec.Patient.BloodType, &rec.Patient.Allergies,
			&rec.CaseNumber, &rec.AdmissionDate, &admTime,
			&rec.ReleaseDate, &relTime, &rec.Department, &rec.RoomNumber,
		); err != nil {
			return nil, fmt.Errorf("scan admission: %w", err)
		}
		rec.PatientID = rec.Patient.ID
		rec.AdmissionTime = clockTime(admTime)
		rec.ReleaseTime = clockTime(relTime)
		if !rec.ActiveAt(now, grace) {
			continue
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return recs, nil
}

const admissionCols = `hospitalization_case_number, patient_id, admission_date, admission_time,
	release_date, release_time, department, room_number`

func (r *repoPG) ListAdmissionsForPatient(ctx context.Context, patientID int64) ([]*Admission, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+admissionCols+`
		FROM admissions
		WHERE patient_id = $1 AND deleted_at IS NULL
		ORDER BY hospitalization_case_number`, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var adms []*Admission
	for rows.Next() {
		var (
			a                Admission
			admTime, relTime pgtype.Time
		)
		if err := rows.Scan(&a.CaseNumber, &a.PatientID, &a.AdmissionDate, &admTime,
			&a.ReleaseDate, &relTime, &a.Department, &a.RoomNumber); err != nil {
			return nil, fmt.Errorf("scan admission: %w", err)
		}
		a.AdmissionTime = clockTime(admTime)
		a.ReleaseTime = clockTime(relTime)
		adms = append(adms, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return adms, nil
}

const testCols = `lt.test_id, lt.patient_id, lt.test_name, lt.order_date, lt.order_time, lt.ordering_physician,
	lr.result_id, lr.result_value, lr.result_unit, lr.reference_range, lr.result_status,
	lr.performed_date, lr.performed_time, lr.reviewing_physician`

func (r *repoPG) ListTests(ctx context.Context) ([]*LabTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+testCols+`
		FROM lab_tests lt
		LEFT JOIN lab_results lr ON lr.test_id = lt.test_id AND lr.deleted_at IS NULL
		WHERE lt.deleted_at IS NULL
		ORDER BY lt.test_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()
	return collectTests(rows)
}

func (r *repoPG) ListTestsForPatient(ctx context.Context, patientID int64) ([]*LabTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+testCols+`
		FROM lab_tests lt
		LEFT JOIN lab_results lr ON lr.test_id = lt.test_id AND lr.deleted_at IS NULL
		WHERE lt.patient_id = $1 AND lt.deleted_at IS NULL
		ORDER BY lt.test_id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()
	return collectTests(rows)
}

func collectTests(rows pgx.Rows) ([]*LabTest, error) {
	var tests []*LabTest
	for rows.Next() {
		var (
			t                                LabTest
			orderTime, performedTime         pgtype.Time
			resultID                         *int64
			value                            *float64
			unit, refRange, status, reviewer *string
			performedDate                    *time.Time
		)
		if err := rows.Scan(
			&t.ID, &t.PatientID, &t.TestName, &t.OrderDate, &orderTime, &t.OrderingPhysician,
			&resultID, &value, &unit, &refRange, &status,
			&performedDate, &performedTime, &reviewer,
		); err != nil {
			return nil, fmt.Errorf("scan lab test: %w", err)
		}
		t.OrderTime = clockTime(orderTime)
		if resultID != nil {
			t.Result = &LabResult{
				ID:                 *resultID,
				TestID:             t.ID,
				Value:              value,
				Unit:               unit,
				ReferenceRange:     refRange,
				Status:             status,
				PerformedDate:      performedDate,
				PerformedTime:      clockTime(performedTime),
				ReviewingPhysician: reviewer,
			}
		}
		tests = append(tests, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return tests, nil
}

// clockTime converts a scanned TIME column into a wall-clock value usable by
// the temporal resolver. NULL maps to nil, which resolves to midnight.
func clockTime(t pgtype.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	c := time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(t.Microseconds) * time.Microsecond)
	return &c
}
