package template

import (
	"strings"
	"text/template"

	"github.com/example/clinical-notify/internal/event"
)

const occurredAtLayout = "2006-01-02 15:04 UTC"

// view is the data every template executes against.
type view struct {
	Kind        event.Kind
	Patient     event.PatientRef
	PatientName string
	Actor       event.Actor
	ActorName   string
	OccurredAt  string
	Payload     fields
}

func newView(e event.NotificationEvent) view {
	return view{
		Kind:        e.Kind,
		Patient:     e.Patient,
		PatientName: firstNonEmpty(e.Patient.DisplayName, e.Patient.HospitalNumber),
		Actor:       e.Actor,
		ActorName:   firstNonEmpty(e.Actor.DisplayName, e.Actor.ID, NotProvided),
		OccurredAt:  e.OccurredAt.UTC().Format(occurredAtLayout),
		Payload:     fields(e.Payload),
	}
}

// fields wraps the payload so templates can tell absent values apart.
type fields event.Payload

func (f fields) Get(key string) string {
	if v := event.Payload(f).Get(key); v != "" {
		return v
	}
	return NotProvided
}

func (f fields) Has(key string) bool {
	return event.Payload(f).Get(key) != ""
}

var recordLabels = map[string]string{
	event.RecordTypeVitals:    "vital signs",
	event.RecordTypeLabResult: "lab result",
}

var funcs = template.FuncMap{
	"label": func(recordType string) string {
		if l, ok := recordLabels[recordType]; ok {
			return l
		}
		return strings.ReplaceAll(recordType, "_", " ")
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
