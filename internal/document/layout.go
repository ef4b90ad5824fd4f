package document

import (
	"github.com/example/clinical-notify/internal/event"
)

// Field is one labelled row of the event detail block.
type Field struct {
	Label string
	Key   string
}

// Layout describes the event detail block for one kind. Fields may depend on
// the payload, e.g. on the record type.
type Layout struct {
	Title  string
	Fields func(p event.Payload) []Field
}

var vitalsFields = []Field{
	{"Temperature (C)", event.FieldTemperature},
	{"Pulse (bpm)", event.FieldPulse},
	{"Blood pressure (mmHg)", event.FieldBloodPressure},
	{"Respiratory rate (/min)", event.FieldRespiratory},
	{"SpO2 (%)", event.FieldSpO2},
	{"Weight (kg)", event.FieldWeight},
	{"Height (cm)", event.FieldHeight},
}

var labFields = []Field{
	{"Test", event.FieldTestName},
	{"Result", event.FieldResult},
	{"Unit", event.FieldUnit},
	{"Reference range", event.FieldReferenceRange},
}

// DefaultLayouts covers every kind that produces a document. Queue status
// changes do not.
func DefaultLayouts() map[event.Kind]Layout {
	return map[event.Kind]Layout{
		event.KindAppointmentCreated: {
			Title: "Appointment Confirmation",
			Fields: func(event.Payload) []Field {
				return []Field{
					{"Appointment ID", event.FieldAppointmentID},
					{"Doctor", event.FieldDoctor},
					{"Date", event.FieldDate},
					{"Time", event.FieldTime},
					{"Department", event.FieldDepartment},
					{"Location", event.FieldLocation},
					{"Note", event.FieldNote},
				}
			},
		},
		event.KindRecordUpdated: {
			Title: "Clinical Record Update",
			Fields: func(p event.Payload) []Field {
				fields := []Field{
					{"Record type", event.FieldRecordType},
					{"Record ID", event.FieldRecordID},
					{"Visit ID", event.FieldVisitID},
				}
				switch p.Get(event.FieldRecordType) {
				case event.RecordTypeVitals:
					fields = append(fields, vitalsFields...)
				case event.RecordTypeLabResult:
					fields = append(fields, labFields...)
				}
				return append(fields, Field{"Summary", event.FieldSummary}, Field{"Note", event.FieldNote})
			},
		},
		event.KindPatientRegistered: {
			Title: "Patient Registration",
			Fields: func(event.Payload) []Field {
				return []Field{
					{"Registered at", event.FieldRegisteredAt},
					{"Department", event.FieldDepartment},
					{"Note", event.FieldNote},
				}
			},
		},
	}
}
