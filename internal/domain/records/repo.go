package records

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested patient does not exist.
	ErrNotFound = errors.New("patient not found")

	// ErrSourceUnavailable indicates the clinical record source could not be
	// queried. Aggregation passes abort on it; previously stored snapshots
	// keep serving.
	ErrSourceUnavailable = errors.New("clinical record source unavailable")
)

// Repository is the read-only view over normalized clinical records. All
// methods honor a transaction carried in ctx so one aggregation pass sees a
// consistent point in time.
type Repository interface {
	GetPatient(ctx context.Context, patientID int64) (*Patient, error)
	ListActiveAdmissions(ctx context.Context, now time.Time, grace time.Duration) ([]*AdmissionRecord, error)
	ListAdmissionsForPatient(ctx context.Context, patientID int64) ([]*Admission, error)
	ListTests(ctx context.Context) ([]*LabTest, error)
	ListTestsForPatient(ctx context.Context, patientID int64) ([]*LabTest, error)
}
