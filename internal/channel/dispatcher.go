package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/clinical-notify/internal/gateway"
	"github.com/example/clinical-notify/internal/notifylog"
)

const (
	DefaultSMSTimeout   = 10 * time.Second
	DefaultEmailTimeout = 15 * time.Second

	maxReasonLength = 200
)

// Message is what a dispatcher delivers. Record is used by the in-app
// dispatcher only and must carry its ID, event and patient.
type Message struct {
	Destination string
	Subject     string
	Text        string
	Record      notifylog.Record
}

// Outcome is the result of one delivery attempt. Err keeps the underlying
// cause for logging and is never serialized.
type Outcome struct {
	Channel     notifylog.Channel `json:"channel"`
	Status      notifylog.Status  `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Destination string            `json:"destination,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
	Duration    time.Duration     `json:"-"`
	Err         error             `json:"-"`
}

// Dispatcher delivers on one channel. Send never panics and never returns an
// error; every result is an Outcome.
type Dispatcher interface {
	Channel() notifylog.Channel
	Send(ctx context.Context, msg Message) Outcome
}

type Option func(*options)

type options struct {
	timeout time.Duration
	now     func() time.Time
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(timeout time.Duration, opts []Option) options {
	o := options{timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SMS sends through an SMSGateway.
type SMS struct {
	gateway gateway.SMSGateway
	opts    options
}

func NewSMS(gw gateway.SMSGateway, opts ...Option) *SMS {
	return &SMS{gateway: gw, opts: buildOptions(DefaultSMSTimeout, opts)}
}

func (d *SMS) Channel() notifylog.Channel { return notifylog.ChannelSMS }

func (d *SMS) Send(ctx context.Context, msg Message) Outcome {
	return deliver(ctx, notifylog.ChannelSMS, msg.Destination, d.opts, func(ctx context.Context) error {
		return d.gateway.Send(ctx, msg.Destination, msg.Text)
	})
}

// Email sends through an EmailGateway.
type Email struct {
	gateway gateway.EmailGateway
	opts    options
}

func NewEmail(gw gateway.EmailGateway, opts ...Option) *Email {
	return &Email{gateway: gw, opts: buildOptions(DefaultEmailTimeout, opts)}
}

func (d *Email) Channel() notifylog.Channel { return notifylog.ChannelEmail }

func (d *Email) Send(ctx context.Context, msg Message) Outcome {
	return deliver(ctx, notifylog.ChannelEmail, msg.Destination, d.opts, func(ctx context.Context) error {
		return d.gateway.Send(ctx, msg.Destination, msg.Subject, msg.Text)
	})
}

// deliver runs one gateway call under its own deadline. The call happens on a
// separate goroutine so a gateway that ignores its context cannot hold the
// dispatcher past the timeout.
func deliver(ctx context.Context, ch notifylog.Channel, destination string, o options, send func(context.Context) error) Outcome {
	start := o.now()
	out := Outcome{Channel: ch, Destination: gateway.Mask(destination)}
	finish := func(status notifylog.Status, reason string, err error) Outcome {
		out.Status, out.Reason, out.Err = status, reason, err
		out.CompletedAt = o.now().UTC()
		out.Duration = out.CompletedAt.Sub(start)
		return out
	}

	if destination == "" {
		return finish(notifylog.StatusSkipped, notifylog.ReasonNoDestination, nil)
	}
	if err := ctx.Err(); err != nil {
		return finish(notifylog.StatusSkipped, notifylog.ReasonCancelled, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("gateway panic: %v", r)
			}
		}()
		done <- send(callCtx)
	}()

	select {
	case err := <-done:
		switch {
		case err == nil:
			return finish(notifylog.StatusSent, "", nil)
		case ctx.Err() != nil:
			return finish(notifylog.StatusSkipped, notifylog.ReasonCancelled, err)
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return finish(notifylog.StatusFailed, notifylog.ReasonTimeout, err)
		default:
			return finish(notifylog.StatusFailed, gatewayReason(err), err)
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return finish(notifylog.StatusSkipped, notifylog.ReasonCancelled, ctx.Err())
		}
		return finish(notifylog.StatusFailed, notifylog.ReasonTimeout, callCtx.Err())
	}
}

func gatewayReason(err error) string {
	reason := notifylog.ReasonGatewayError + ": " + err.Error()
	if r := []rune(reason); len(r) > maxReasonLength {
		reason = string(r[:maxReasonLength])
	}
	return reason
}

// InApp writes the record straight to the notification log.
type InApp struct {
	log notifylog.Store
	now func() time.Time
}

func NewInApp(log notifylog.Store, opts ...Option) *InApp {
	o := buildOptions(0, opts)
	return &InApp{log: log, now: o.now}
}

func (d *InApp) Channel() notifylog.Channel { return notifylog.ChannelInApp }

func (d *InApp) Send(ctx context.Context, msg Message) Outcome {
	rec := msg.Record
	rec.Channel = notifylog.ChannelInApp
	rec.Status = notifylog.StatusSent
	rec.Reason = ""
	if rec.SentAt.IsZero() {
		rec.SentAt = d.now().UTC()
	}

	out := Outcome{Channel: notifylog.ChannelInApp, Status: notifylog.StatusSent}
	if err := d.log.Append(ctx, rec); err != nil {
		out.Status = notifylog.StatusFailed
		out.Reason = notifylog.ReasonStoreUnavailable
		out.Err = err
	}
	out.CompletedAt = d.now().UTC()
	return out
}
