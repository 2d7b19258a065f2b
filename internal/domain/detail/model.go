package detail

import "time"

// LastTest summarizes the patient's most recent lab activity.
type LastTest struct {
	TestName           string  `json:"test_name"`
	LastTestDateTime   string  `json:"last_test_datetime"`
	HoursSinceLastTest float64 `json:"hours_since_last_test"`
}

// ResultRow is one row in latest_results: the newest order-plus-result for a
// test name. Result fields stay null while the order is unresulted.
type ResultRow struct {
	TestName           string   `json:"test_name"`
	OrderDate          string   `json:"order_date"`
	OrderTime          *string  `json:"order_time"`
	OrderingPhysician  *string  `json:"ordering_physician"`
	ResultValue        *float64 `json:"result_value"`
	ResultUnit         *string  `json:"result_unit"`
	ReferenceRange     *string  `json:"reference_range"`
	ResultStatus       *string  `json:"result_status"`
	PerformedDate      *string  `json:"performed_date"`
	PerformedTime      *string  `json:"performed_time"`
	ReviewingPhysician *string  `json:"reviewing_physician"`

	// effectiveAt orders rows at build time; it is not part of the stored
	// payload.
	effectiveAt time.Time
}

// ChartPoint is one observation in a test's timeseries. Value stays null for
// orders without a result yet.
type ChartPoint struct {
	Timestamp    string   `json:"timestamp"`
	Value        *float64 `json:"value"`
	ResultStatus *string  `json:"result_status"`

	at time.Time
}

// ChartSeries groups a patient's observations for one test name.
type ChartSeries struct {
	TestName string        `json:"test_name"`
	Points   []*ChartPoint `json:"points"`
}

// Payload is the stored per-patient drill-down document. Field names are the
// wire contract consumed by the dashboard; null fields stay present in the
// JSON. Admission context fields are null for a patient never admitted.
type Payload struct {
	PatientID           int64          `json:"patient_id"`
	Name                string         `json:"name"`
	Age                 *int           `json:"age"`
	PrimaryPhysician    *string        `json:"primary_physician"`
	InsuranceProvider   *string        `json:"insurance_provider"`
	BloodType           *string        `json:"blood_type"`
	Allergies           *string        `json:"allergies"`
	Department          *string        `json:"department"`
	RoomNumber          *string        `json:"room_number"`
	AdmissionDateTime   *string        `json:"admission_datetime"`
	HoursSinceAdmission *float64       `json:"hours_since_admission"`
	LastTest            *LastTest      `json:"last_test"`
	LatestResults       []*ResultRow   `json:"latest_results"`
	ChartSeries         []*ChartSeries `json:"chart_series"`
}
