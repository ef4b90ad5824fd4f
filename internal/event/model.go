package event

import (
	"strings"
	"time"
)

type Kind string

const (
	KindAppointmentCreated Kind = "appointment_created"
	KindRecordUpdated      Kind = "record_updated"
	KindPatientRegistered  Kind = "patient_registered"
	KindQueueStatusChanged Kind = "queue_status_changed"
)

// Kinds lists every kind in a stable order. Registries keyed by kind are
// checked against it at startup.
var Kinds = []Kind{
	KindAppointmentCreated,
	KindRecordUpdated,
	KindPatientRegistered,
	KindQueueStatusChanged,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

type PatientRef struct {
	HospitalNumber string `json:"hospital_number" validate:"required,max=64"`
	NationalID     string `json:"national_id,omitempty" validate:"omitempty,max=64"`
	DisplayName    string `json:"display_name,omitempty"`
	Phone          string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
}

type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Payload carries kind-specific fields, e.g. doctor/date/time for an appointment.
type Payload map[string]string

// Get returns the trimmed value for key, or "" when absent.
func (p Payload) Get(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[key])
}

func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NotificationEvent is one clinical occurrence submitted for notification.
type NotificationEvent struct {
	Kind       Kind       `json:"kind" validate:"required"`
	Patient    PatientRef `json:"patient"`
	Payload    Payload    `json:"payload"`
	Actor      Actor      `json:"actor"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Well-known payload keys.
const (
	FieldDoctor         = "doctor"
	FieldDate           = "date"
	FieldTime           = "time"
	FieldDepartment     = "department"
	FieldLocation       = "location"
	FieldNote           = "note"
	FieldSummary        = "summary"
	FieldAppointmentID  = "appointment_id"
	FieldVisitID        = "visit_id"
	FieldRecordID       = "record_id"
	FieldRecordType     = "record_type"
	FieldStatus         = "status"
	FieldQueueNumber    = "queue_number"
	FieldRegisteredAt   = "registered_at"
	FieldTemperature    = "temperature"
	FieldPulse          = "pulse"
	FieldBloodPressure  = "blood_pressure"
	FieldRespiratory    = "respiratory_rate"
	FieldSpO2           = "spo2"
	FieldWeight         = "weight"
	FieldHeight         = "height"
	FieldTestName       = "test_name"
	FieldResult         = "result"
	FieldUnit           = "unit"
	FieldReferenceRange = "reference_range"
)

// Record types understood by templates and the document layout.
const (
	RecordTypeVitals    = "vitals"
	RecordTypeLabResult = "lab_result"
)

// VisitOrRecordID is the identifier artifacts are indexed under besides the patient.
func (e NotificationEvent) VisitOrRecordID() string {
	for _, key := range []string{FieldVisitID, FieldAppointmentID, FieldRecordID} {
		if v := e.Payload.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// Normalize trims identity and contact fields and fills OccurredAt.
func (e NotificationEvent) Normalize(now time.Time) NotificationEvent {
	e.Kind = Kind(strings.TrimSpace(string(e.Kind)))
	e.Patient.HospitalNumber = strings.TrimSpace(e.Patient.HospitalNumber)
	e.Patient.NationalID = strings.TrimSpace(e.Patient.NationalID)
	e.Patient.DisplayName = strings.TrimSpace(e.Patient.DisplayName)
	e.Patient.Phone = strings.TrimSpace(e.Patient.Phone)
	e.Patient.Email = strings.TrimSpace(e.Patient.Email)
	e.Actor.ID = strings.TrimSpace(e.Actor.ID)
	e.Actor.DisplayName = strings.TrimSpace(e.Actor.DisplayName)
	e.Payload = e.Payload.Clone()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	e.OccurredAt = e.OccurredAt.UTC()
	return e
}
