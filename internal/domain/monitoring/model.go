package monitoring

import "time"

// Entry is one monitored patient row in a snapshot payload. Field order and
// names are the wire contract consumed by the dashboard; null fields stay
// present in the JSON.
type Entry struct {
	PatientID           int64    `json:"patient_id"`
	CaseNumber          int64    `json:"case_number"`
	Name                string   `json:"name"`
	Age                 *int     `json:"age"`
	Department          *string  `json:"department"`
	RoomNumber          *string  `json:"room_number"`
	AdmissionDateTime   string   `json:"admission_datetime"`
	HoursSinceAdmission float64  `json:"hours_since_admission"`
	AdmissionLength     string   `json:"admission_length"`
	LastTestDateTime    *string  `json:"last_test_datetime"`
	HoursSinceLastTest  *float64 `json:"hours_since_last_test"`
	TimeSinceLastTest   string   `json:"time_since_last_test"`
	LastTestName        *string  `json:"last_test_name"`
	PrimaryPhysician    *string  `json:"primary_physician"`
	NeedsAlert          bool     `json:"needs_alert"`

	// admittedAt breaks ordering ties at build time; it is not part of the
	// stored payload.
	admittedAt time.Time
}

// Payload is the stored snapshot envelope.
type Payload struct {
	GeneratedAt    string   `json:"generated_at"`
	HoursThreshold int      `json:"hours_threshold"`
	Patients       []*Entry `json:"patients"`
}
