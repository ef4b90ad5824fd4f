package notifylog

import (
	"context"
	"time"

	"github.com/example/clinical-notify/internal/event"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// Channels lists every delivery channel in dispatch order.
var Channels = []Channel{ChannelSMS, ChannelEmail, ChannelInApp}

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Reasons recorded on failed or skipped attempts.
const (
	ReasonNoDestination    = "no_destination"
	ReasonTimeout          = "timeout"
	ReasonCancelled        = "cancelled"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonGatewayError     = "gateway_error"
	ReasonTemplateError    = "template_error"
)

// Record is one channel attempt for one event. Only ReadAt changes after Append.
type Record struct {
	ID                    string            `json:"id"`
	EventID               string            `json:"event_id"`
	PatientHospitalNumber string            `json:"patient_hospital_number"`
	Kind                  event.Kind        `json:"kind"`
	Channel               Channel           `json:"channel"`
	Status                Status            `json:"status"`
	Reason                string            `json:"reason,omitempty"`
	SentAt                time.Time         `json:"sent_at"`
	ReadAt                *time.Time        `json:"read_at,omitempty"`
	RenderedSummary       string            `json:"rendered_summary"`
	ArtifactID            string            `json:"artifact_id,omitempty"`
	Data                  map[string]string `json:"data,omitempty"`
}

func (r Record) clone() Record {
	if r.ReadAt != nil {
		readAt := *r.ReadAt
		r.ReadAt = &readAt
	}
	if r.Data != nil {
		data := make(map[string]string, len(r.Data))
		for k, v := range r.Data {
			data[k] = v
		}
		r.Data = data
	}
	return r
}

// Store is the append-only notification log.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	ListByPatient(ctx context.Context, hospitalNumber string) ([]Record, error)
	// MarkRead sets ReadAt on an in-app record once; repeated calls succeed without change.
	MarkRead(ctx context.Context, id string, now time.Time) error
	Ping(ctx context.Context) error
	Close() error
}
