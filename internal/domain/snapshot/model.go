package snapshot

import (
	"encoding/json"
	"time"
)

// Monitoring maps to the patient_monitoring_snapshots table: one immutable
// computed monitoring payload. Rows are append-only; the latest row per
// hours threshold is the serving snapshot.
type Monitoring struct {
	ID             int64           `db:"snapshot_id" json:"snapshot_id"`
	CreatedAt      time.Time       `db:"response_created_at" json:"response_created_at"`
	HoursThreshold int             `db:"hours_threshold" json:"hours_threshold"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
}

// Detail maps to the patient_detail_snapshots table: one immutable
// per-patient drill-down payload, keyed by patient.
type Detail struct {
	ID        int64           `db:"snapshot_id" json:"snapshot_id"`
	PatientID int64           `db:"patient_id" json:"patient_id"`
	CreatedAt time.Time       `db:"response_created_at" json:"response_created_at"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
}
