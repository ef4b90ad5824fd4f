package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/artifact"
	"github.com/example/clinical-notify/internal/channel"
	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/eventbus"
	"github.com/example/clinical-notify/internal/notifylog"
	"github.com/example/clinical-notify/internal/template"
)

// Renderer turns an event into document bytes.
type Renderer interface {
	Wants(kind event.Kind) bool
	Render(kind event.Kind, payload event.Payload, patient event.PatientRef, actor event.Actor) ([]byte, error)
}

// Publisher announces in-app records to live subscribers.
type Publisher interface {
	Publish(topic string, rec notifylog.Record) int
}

type Config struct {
	Resolver *template.Resolver
	SMS      channel.Dispatcher
	Email    channel.Dispatcher
	InApp    channel.Dispatcher
	Log      notifylog.Store

	// Documents enables rendering and storing an artifact for kinds the
	// renderer wants. Renderer and Artifacts are required when set.
	Documents bool
	Renderer  Renderer
	Artifacts artifact.Store

	Bus    Publisher
	Logger zerolog.Logger
	Clock  func() time.Time
}

// Options controls one Notify call. In-app delivery cannot be disabled.
type Options struct {
	Disable      map[notifylog.Channel]bool
	SkipDocument bool
}

func (o Options) enabled(ch notifylog.Channel) bool {
	return ch == notifylog.ChannelInApp || !o.Disable[ch]
}

type NotifyResult struct {
	EventID     string             `json:"event_id"`
	Records     []notifylog.Record `json:"records"`
	Outcomes    []channel.Outcome  `json:"outcomes"`
	Artifact    *artifact.Artifact `json:"artifact,omitempty"`
	DocumentErr error              `json:"-"`
	Published   int                `json:"published"`
}

// Record returns the record written for ch, if any.
func (r NotifyResult) Record(ch notifylog.Channel) (notifylog.Record, bool) {
	for _, rec := range r.Records {
		if rec.Channel == ch {
			return rec, true
		}
	}
	return notifylog.Record{}, false
}

type Orchestrator struct {
	resolver  *template.Resolver
	external  []channel.Dispatcher
	inApp     channel.Dispatcher
	log       notifylog.Store
	documents bool
	renderer  Renderer
	artifacts artifact.Store
	bus       Publisher
	logger    zerolog.Logger
	clock     func() time.Time
	tracer    trace.Tracer
	newID     func() (uuid.UUID, error)
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("notify: template resolver is required")
	}
	if cfg.SMS == nil || cfg.Email == nil || cfg.InApp == nil {
		return nil, errors.New("notify: sms, email and in-app dispatchers are required")
	}
	if cfg.Log == nil {
		return nil, errors.New("notify: notification log is required")
	}
	if cfg.Documents && (cfg.Renderer == nil || cfg.Artifacts == nil) {
		return nil, errors.New("notify: documents need a renderer and an artifact store")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		resolver:  cfg.Resolver,
		external:  []channel.Dispatcher{cfg.SMS, cfg.Email},
		inApp:     cfg.InApp,
		log:       cfg.Log,
		documents: cfg.Documents,
		renderer:  cfg.Renderer,
		artifacts: cfg.Artifacts,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		clock:     clock,
		tracer:    otel.Tracer("notify"),
		newID:     uuid.NewV7,
	}, nil
}

type attempt struct {
	record  notifylog.Record
	outcome channel.Outcome
}

type document struct {
	artifact *artifact.Artifact
	err      error
}

// Notify validates e, delivers it on every enabled channel and records each
// attempt. Only an invalid event or a log that cannot be written is returned
// as an error; channel and document failures are reported in the result.
func (o *Orchestrator) Notify(ctx context.Context, e event.NotificationEvent, opts Options) (NotifyResult, error) {
	ctx, span := o.tracer.Start(ctx, "notify")
	defer span.End()

	e = e.Normalize(o.clock().UTC())
	if err := event.Validate(e); err != nil {
		eventsTotal.WithLabelValues(kindLabel(e.Kind), "invalid").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event")
		return NotifyResult{}, err
	}

	id, err := o.newID()
	if err != nil {
		return NotifyResult{}, apperr.Wrap(apperr.CodeInternal, err, "generate event id")
	}
	res := NotifyResult{EventID: id.String()}
	span.SetAttributes(
		attribute.String("event.id", res.EventID),
		attribute.String("event.kind", string(e.Kind)),
	)
	logger := common.WithContext(ctx, o.logger).With().
		Str("event_id", res.EventID).
		Str("kind", string(e.Kind)).
		Str("hospital_number", e.Patient.HospitalNumber).
		Logger()

	// Channels and the document have no data dependency on each other.
	attempts := make([]*attempt, len(o.external))
	var doc document
	var wg sync.WaitGroup
	for i, d := range o.external {
		if !opts.enabled(d.Channel()) {
			continue
		}
		wg.Add(1)
		go func(i int, d channel.Dispatcher) {
			defer wg.Done()
			attempts[i] = o.dispatch(ctx, logger, e, res.EventID, d)
		}(i, d)
	}
	if o.documents && !opts.SkipDocument && o.renderer.Wants(e.Kind) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc = o.document(ctx, logger, e, res.EventID)
		}()
	}
	wg.Wait()

	res.DocumentErr = doc.err
	res.Artifact = doc.artifact

	// Appends run one at a time and survive caller cancellation.
	writeCtx := context.WithoutCancel(ctx)
	var appendErrs error
	for _, a := range attempts {
		if a == nil {
			continue
		}
		if err := o.log.Append(writeCtx, a.record); err != nil {
			appendErrs = multierr.Append(appendErrs, fmt.Errorf("append %s record: %w", a.record.Channel, err))
			logger.Error().Err(err).Str("channel", string(a.record.Channel)).Msg("failed to append notification record")
		}
		res.Records = append(res.Records, a.record)
		res.Outcomes = append(res.Outcomes, a.outcome)
	}

	inApp, outcome := o.deliverInApp(writeCtx, logger, e, res.EventID, res.Artifact)
	res.Records = append(res.Records, inApp)
	res.Outcomes = append(res.Outcomes, outcome)
	if outcome.Status != notifylog.StatusSent {
		appendErrs = multierr.Append(appendErrs, fmt.Errorf("append in_app record: %w", outcome.Err))
		logger.Error().Err(outcome.Err).Msg("failed to append in-app record")
	} else if o.bus != nil {
		res.Published = o.bus.Publish(eventbus.TopicInApp, inApp)
	}

	if appendErrs != nil {
		eventsTotal.WithLabelValues(string(e.Kind), "storage_unavailable").Inc()
		span.RecordError(appendErrs)
		span.SetStatus(codes.Error, "notification log unavailable")
		return res, apperr.StorageUnavailable(appendErrs, "notification log")
	}
	eventsTotal.WithLabelValues(string(e.Kind), "processed").Inc()
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, logger zerolog.Logger, e event.NotificationEvent, eventID string, d channel.Dispatcher) *attempt {
	ch := d.Channel()
	ctx, span := o.tracer.Start(ctx, "notify.channel", trace.WithAttributes(attribute.String("channel", string(ch))))
	defer span.End()

	var outcome channel.Outcome
	rendered, err := o.resolver.Resolve(e.Kind, ch, e)
	if err != nil {
		outcome = channel.Outcome{Channel: ch, Status: notifylog.StatusFailed, Reason: notifylog.ReasonTemplateError, Err: err, CompletedAt: o.clock().UTC()}
	} else {
		outcome = d.Send(ctx, channel.Message{
			Destination: destination(e.Patient, ch),
			Subject:     rendered.Subject,
			Text:        rendered.Text,
		})
	}

	channelOutcomes.WithLabelValues(string(ch), string(outcome.Status)).Inc()
	channelDuration.WithLabelValues(string(ch)).Observe(outcome.Duration.Seconds())
	span.SetAttributes(attribute.String("status", string(outcome.Status)))

	l := logger.With().Str("channel", string(ch)).Str("status", string(outcome.Status)).Logger()
	switch outcome.Status {
	case notifylog.StatusFailed:
		span.RecordError(outcome.Err)
		l.Warn().Err(outcome.Err).Str("reason", outcome.Reason).Msg("channel delivery failed")
	case notifylog.StatusSkipped:
		l.Debug().Str("reason", outcome.Reason).Msg("channel delivery skipped")
	default:
		l.Debug().Str("to", outcome.Destination).Msg("channel delivered")
	}

	sentAt := outcome.CompletedAt
	if sentAt.IsZero() {
		sentAt = o.clock().UTC()
	}
	return &attempt{
		outcome: outcome,
		record: notifylog.Record{
			ID:                    o.recordID(),
			EventID:               eventID,
			PatientHospitalNumber: e.Patient.HospitalNumber,
			Kind:                  e.Kind,
			Channel:               ch,
			Status:                outcome.Status,
			Reason:                outcome.Reason,
			SentAt:                sentAt,
			RenderedSummary:       rendered.Summary,
		},
	}
}

func (o *Orchestrator) deliverInApp(ctx context.Context, logger zerolog.Logger, e event.NotificationEvent, eventID string, a *artifact.Artifact) (notifylog.Record, channel.Outcome) {
	ctx, span := o.tracer.Start(ctx, "notify.channel", trace.WithAttributes(attribute.String("channel", string(notifylog.ChannelInApp))))
	defer span.End()

	rendered, err := o.resolver.Resolve(e.Kind, notifylog.ChannelInApp, e)
	if err != nil {
		logger.Warn().Err(err).Msg("in-app template failed, using fallback summary")
		rendered = template.Rendered{
			Summary: fmt.Sprintf("%s for %s", e.Kind, e.Patient.HospitalNumber),
			Data:    e.Payload.Clone(),
		}
	}
	rec := notifylog.Record{
		ID:                    o.recordID(),
		EventID:               eventID,
		PatientHospitalNumber: e.Patient.HospitalNumber,
		Kind:                  e.Kind,
		Channel:               notifylog.ChannelInApp,
		SentAt:                o.clock().UTC(),
		RenderedSummary:       rendered.Summary,
		Data:                  rendered.Data,
	}
	if a != nil {
		rec.ArtifactID = a.ID
	}

	outcome := o.inApp.Send(ctx, channel.Message{Record: rec})
	rec.Status = outcome.Status
	rec.Reason = outcome.Reason
	channelOutcomes.WithLabelValues(string(notifylog.ChannelInApp), string(outcome.Status)).Inc()
	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
	}
	return rec, outcome
}

func (o *Orchestrator) document(ctx context.Context, logger zerolog.Logger, e event.NotificationEvent, eventID string) document {
	ctx, span := o.tracer.Start(ctx, "notify.document")
	defer span.End()

	if err := ctx.Err(); err != nil {
		documentsTotal.WithLabelValues(string(e.Kind), "cancelled").Inc()
		return document{err: err}
	}

	content, err := o.renderer.Render(e.Kind, e.Payload, e.Patient, e.Actor)
	if err != nil {
		documentsTotal.WithLabelValues(string(e.Kind), "render_failed").Inc()
		span.RecordError(err)
		logger.Warn().Err(err).Msg("document render failed, continuing without artifact")
		return document{err: err}
	}

	stored, err := o.artifacts.Store(context.WithoutCancel(ctx), content, artifact.Metadata{
		PatientHospitalNumber: e.Patient.HospitalNumber,
		VisitOrRecordID:       e.VisitOrRecordID(),
		Kind:                  e.Kind,
		EventID:               eventID,
		CreatedByActorID:      e.Actor.ID,
		ContentType:           artifact.ContentTypePDF,
	})
	if err != nil {
		documentsTotal.WithLabelValues(string(e.Kind), "store_failed").Inc()
		span.RecordError(err)
		logger.Error().Err(err).Msg("artifact store failed, continuing without artifact")
		return document{err: err}
	}

	documentsTotal.WithLabelValues(string(e.Kind), "stored").Inc()
	span.SetAttributes(attribute.String("artifact.id", stored.ID))
	logger.Info().Str("artifact_id", stored.ID).Int64("bytes", stored.ByteSize).Msg("document stored")
	return document{artifact: &stored}
}

// ListByPatient returns a patient's notification records, newest first.
func (o *Orchestrator) ListByPatient(ctx context.Context, hospitalNumber string) ([]notifylog.Record, error) {
	return o.log.ListByPatient(ctx, hospitalNumber)
}

// MarkRead acknowledges an in-app record. Repeated calls succeed and keep the
// first read time.
func (o *Orchestrator) MarkRead(ctx context.Context, id string) error {
	return o.log.MarkRead(ctx, id, o.clock().UTC())
}

func (o *Orchestrator) recordID() string {
	id, err := o.newID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func destination(p event.PatientRef, ch notifylog.Channel) string {
	switch ch {
	case notifylog.ChannelSMS:
		return p.Phone
	case notifylog.ChannelEmail:
		return p.Email
	default:
		return p.HospitalNumber
	}
}

func kindLabel(k event.Kind) string {
	if k.Valid() {
		return string(k)
	}
	return "unknown"
}
