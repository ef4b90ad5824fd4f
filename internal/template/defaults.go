package template

import (
	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/notifylog"
)

const emailFooter = `

Recorded by {{.ActorName}} at {{.OccurredAt}}.
This message was sent automatically. Please contact the hospital if any detail is incorrect.`

// Default returns the built-in templates. The returned set is a fresh copy.
func Default() Set {
	return Set{
		{event.KindAppointmentCreated, notifylog.ChannelSMS}: {Clauses: []string{
			`Appointment for {{.PatientName}} on {{.Payload.Get "date"}} at {{.Payload.Get "time"}} with {{.Payload.Get "doctor"}}.`,
			`{{if .Payload.Has "department"}}Dept: {{.Payload.Get "department"}}.{{end}}`,
			`{{if .Payload.Has "location"}}Where: {{.Payload.Get "location"}}.{{end}}`,
			`{{if .Payload.Has "note"}}Note: {{.Payload.Get "note"}}{{end}}`,
		}},
		{event.KindAppointmentCreated, notifylog.ChannelEmail}: {
			Subject: `Appointment on {{.Payload.Get "date"}} at {{.Payload.Get "time"}}`,
			Text: `Dear {{.PatientName}},

An appointment has been booked for you.

Hospital number: {{.Patient.HospitalNumber}}
Doctor: {{.Payload.Get "doctor"}}
Date: {{.Payload.Get "date"}}
Time: {{.Payload.Get "time"}}
Department: {{.Payload.Get "department"}}
Location: {{.Payload.Get "location"}}
Note: {{.Payload.Get "note"}}` + emailFooter,
		},
		{event.KindAppointmentCreated, notifylog.ChannelInApp}: {
			Text: `Appointment with {{.Payload.Get "doctor"}} on {{.Payload.Get "date"}} at {{.Payload.Get "time"}}.`,
		},

		{event.KindRecordUpdated, notifylog.ChannelSMS}: {Clauses: []string{
			`{{.PatientName}}: your {{label (.Payload.Get "record_type")}} record was updated on {{.OccurredAt}}.`,
			`{{if .Payload.Has "summary"}}{{.Payload.Get "summary"}}{{end}}`,
			`{{if .Payload.Has "note"}}Note: {{.Payload.Get "note"}}{{end}}`,
		}},
		{event.KindRecordUpdated, notifylog.ChannelEmail}: {
			Subject: `Your {{label (.Payload.Get "record_type")}} record was updated`,
			Text: `Dear {{.PatientName}},

Your {{label (.Payload.Get "record_type")}} record was updated.

Hospital number: {{.Patient.HospitalNumber}}
{{- if eq (.Payload.Get "record_type") "vitals"}}
Temperature: {{.Payload.Get "temperature"}}
Pulse: {{.Payload.Get "pulse"}}
Blood pressure: {{.Payload.Get "blood_pressure"}}
Respiratory rate: {{.Payload.Get "respiratory_rate"}}
SpO2: {{.Payload.Get "spo2"}}
Weight: {{.Payload.Get "weight"}}
Height: {{.Payload.Get "height"}}
{{- else if eq (.Payload.Get "record_type") "lab_result"}}
Test: {{.Payload.Get "test_name"}}
Result: {{.Payload.Get "result"}} {{if .Payload.Has "unit"}}{{.Payload.Get "unit"}}{{end}}
Reference range: {{.Payload.Get "reference_range"}}
{{- end}}
Summary: {{.Payload.Get "summary"}}
Note: {{.Payload.Get "note"}}` + emailFooter,
		},
		{event.KindRecordUpdated, notifylog.ChannelInApp}: {
			Text: `{{label (.Payload.Get "record_type")}} record updated by {{.ActorName}}.`,
		},

		{event.KindPatientRegistered, notifylog.ChannelSMS}: {Clauses: []string{
			`Welcome {{.PatientName}}. Your hospital number is {{.Patient.HospitalNumber}}.`,
			`{{if .Payload.Has "department"}}Registered at {{.Payload.Get "department"}}.{{end}}`,
			`Please bring this number to every visit.`,
		}},
		{event.KindPatientRegistered, notifylog.ChannelEmail}: {
			Subject: `Welcome, your hospital number is {{.Patient.HospitalNumber}}`,
			Text: `Dear {{.PatientName}},

Your registration is complete.

Hospital number: {{.Patient.HospitalNumber}}
Name: {{if .Patient.DisplayName}}{{.Patient.DisplayName}}{{else}}not provided{{end}}
Registered at: {{.Payload.Get "registered_at"}}
Department: {{.Payload.Get "department"}}

Please bring your hospital number to every visit.` + emailFooter,
		},
		{event.KindPatientRegistered, notifylog.ChannelInApp}: {
			Text: `Patient {{.PatientName}} registered with hospital number {{.Patient.HospitalNumber}}.`,
		},

		{event.KindQueueStatusChanged, notifylog.ChannelSMS}: {Clauses: []string{
			`{{.PatientName}}: queue status is now {{.Payload.Get "status"}}.`,
			`{{if .Payload.Has "queue_number"}}Queue number {{.Payload.Get "queue_number"}}.{{end}}`,
			`{{if .Payload.Has "location"}}Please go to {{.Payload.Get "location"}}.{{end}}`,
		}},
		{event.KindQueueStatusChanged, notifylog.ChannelEmail}: {
			Subject: `Queue status: {{.Payload.Get "status"}}`,
			Text: `Dear {{.PatientName}},

Your queue status has changed.

Status: {{.Payload.Get "status"}}
Queue number: {{.Payload.Get "queue_number"}}
Location: {{.Payload.Get "location"}}` + emailFooter,
		},
		{event.KindQueueStatusChanged, notifylog.ChannelInApp}: {
			Text: `Queue status changed to {{.Payload.Get "status"}}.`,
		},
	}
}
