package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/notify"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "consumer_messages_total",
	Help: "Clinical event messages by handling result",
}, []string{"result"})

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Notifier interface {
	Notify(ctx context.Context, e event.NotificationEvent, opts notify.Options) (notify.NotifyResult, error)
}

// Consumer feeds clinical events from Kafka into the orchestrator. Offsets
// are committed only after the notification log accepted the event, or when
// the message can never succeed.
type Consumer struct {
	reader   Reader
	notifier Notifier
	tracer   trace.Tracer
	logger   zerolog.Logger
}

func New(reader Reader, notifier Notifier, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		notifier: notifier,
		tracer:   otel.Tracer("consumer"),
		logger:   logger,
	}
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: group,
		Topic:   topic,
	})
}

// Run consumes until ctx is done or the notification log becomes unavailable.
// A cancelled context is a clean stop and returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	if c.reader == nil || c.notifier == nil {
		return errors.New("consumer requires a reader and a notifier")
	}
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handle(ctx, m); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// handle returns an error only when the message must be redelivered.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &m})
	ctx, span := c.tracer.Start(ctx, "consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.kafka.topic", m.Topic),
		attribute.Int("messaging.kafka.partition", m.Partition),
		attribute.Int64("messaging.kafka.offset", m.Offset),
	)
	logger := common.WithContext(ctx, c.logger).With().
		Str("topic", m.Topic).
		Int("partition", m.Partition).
		Int64("offset", m.Offset).
		Logger()

	req, err := notify.DecodeRequest(bytes.NewReader(m.Value))
	if err != nil {
		messagesTotal.WithLabelValues("undecodable").Inc()
		logger.Error().Err(err).Msg("failed to decode message, skipping")
		return nil
	}
	opts, err := req.Options.Resolve()
	if err != nil {
		messagesTotal.WithLabelValues("invalid").Inc()
		logger.Error().Err(err).Msg("invalid message options, skipping")
		return nil
	}

	res, err := c.notifier.Notify(ctx, req.NotificationEvent, opts)
	switch {
	case err == nil:
		messagesTotal.WithLabelValues("processed").Inc()
		logger.Info().Str("event_id", res.EventID).Int("records", len(res.Records)).Msg("event processed")
		return nil
	case errors.Is(err, apperr.ErrInvalidEvent):
		messagesTotal.WithLabelValues("invalid").Inc()
		logger.Error().Err(err).Msg("invalid event, skipping")
		return nil
	default:
		messagesTotal.WithLabelValues("retry").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "event not recorded")
		logger.Error().Err(err).Str("event_id", res.EventID).Msg("event not recorded, stopping without commit")
		return fmt.Errorf("notify: %w", err)
	}
}
