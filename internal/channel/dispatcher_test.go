package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/notifylog"
)

type mockSMS struct{ mock.Mock }

func (m *mockSMS) Send(ctx context.Context, phone, text string) error {
	return m.Called(ctx, phone, text).Error(0)
}

type mockEmail struct{ mock.Mock }

func (m *mockEmail) Send(ctx context.Context, address, subject, body string) error {
	return m.Called(ctx, address, subject, body).Error(0)
}

func blockUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

func TestSMSSent(t *testing.T) {
	gw := &mockSMS{}
	gw.On("Send", mock.Anything, "0812345678", "hello").Return(nil).Once()

	out := NewSMS(gw).Send(context.Background(), Message{Destination: "0812345678", Text: "hello"})
	assert.Equal(t, notifylog.StatusSent, out.Status)
	assert.Empty(t, out.Reason)
	assert.Equal(t, "******5678", out.Destination)
	gw.AssertExpectations(t)
}

func TestSMSSkippedWithoutDestination(t *testing.T) {
	gw := &mockSMS{}

	out := NewSMS(gw).Send(context.Background(), Message{Text: "hello"})
	assert.Equal(t, notifylog.StatusSkipped, out.Status)
	assert.Equal(t, notifylog.ReasonNoDestination, out.Reason)
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmailGatewayError(t *testing.T) {
	gw := &mockEmail{}
	gw.On("Send", mock.Anything, "a@b.com", "subj", "body").Return(errors.New("mailbox full")).Once()

	out := NewEmail(gw).Send(context.Background(), Message{Destination: "a@b.com", Subject: "subj", Text: "body"})
	assert.Equal(t, notifylog.StatusFailed, out.Status)
	assert.Equal(t, "gateway_error: mailbox full", out.Reason)
	assert.EqualError(t, out.Err, "mailbox full")
}

func TestGatewayReasonIsTruncated(t *testing.T) {
	gw := &mockEmail{}
	gw.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New(strings.Repeat("x", 500)))

	out := NewEmail(gw).Send(context.Background(), Message{Destination: "a@b.com"})
	assert.Equal(t, notifylog.StatusFailed, out.Status)
	assert.Len(t, out.Reason, maxReasonLength)
}

func TestSMSTimeout(t *testing.T) {
	gw := &mockSMS{}
	gw.On("Send", mock.Anything, mock.Anything, mock.Anything).Run(blockUntilDone).Return(context.DeadlineExceeded)

	out := NewSMS(gw, WithTimeout(20*time.Millisecond)).Send(context.Background(), Message{Destination: "0812345678"})
	assert.Equal(t, notifylog.StatusFailed, out.Status)
	assert.Equal(t, notifylog.ReasonTimeout, out.Reason)
}

func TestTimeoutWhenGatewayIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gw := &mockSMS{}
	gw.On("Send", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)

	start := time.Now()
	out := NewSMS(gw, WithTimeout(20*time.Millisecond)).Send(context.Background(), Message{Destination: "0812345678"})
	assert.Equal(t, notifylog.ReasonTimeout, out.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCancelledBeforeSend(t *testing.T) {
	gw := &mockSMS{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewSMS(gw).Send(ctx, Message{Destination: "0812345678"})
	assert.Equal(t, notifylog.StatusSkipped, out.Status)
	assert.Equal(t, notifylog.ReasonCancelled, out.Reason)
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelledDuringSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &mockEmail{}
	gw.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			blockUntilDone(args)
		}).
		Return(context.Canceled)

	out := NewEmail(gw).Send(ctx, Message{Destination: "a@b.com"})
	assert.Equal(t, notifylog.StatusSkipped, out.Status)
	assert.Equal(t, notifylog.ReasonCancelled, out.Reason)
}

func TestGatewayPanicIsRecovered(t *testing.T) {
	gw := &mockSMS{}
	gw.On("Send", mock.Anything, mock.Anything, mock.Anything).Panic("gateway exploded")

	out := NewSMS(gw).Send(context.Background(), Message{Destination: "0812345678"})
	assert.Equal(t, notifylog.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "gateway exploded")
}

type failingLog struct{ notifylog.Store }

func (failingLog) Append(context.Context, notifylog.Record) error {
	return apperr.StorageUnavailable(errors.New("disk full"), "append")
}

func TestInAppAppendsRecord(t *testing.T) {
	log := notifylog.NewMemoryStore()
	fixed := time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC)
	d := NewInApp(log, WithClock(func() time.Time { return fixed }))

	out := d.Send(context.Background(), Message{Record: notifylog.Record{ID: "r1", EventID: "e1", PatientHospitalNumber: "HN1", RenderedSummary: "hi"}})
	require.Equal(t, notifylog.StatusSent, out.Status)

	got, err := log.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, notifylog.ChannelInApp, got.Channel)
	assert.Equal(t, notifylog.StatusSent, got.Status)
	assert.True(t, got.SentAt.Equal(fixed))
}

func TestInAppStoreFailure(t *testing.T) {
	out := NewInApp(failingLog{}).Send(context.Background(), Message{Record: notifylog.Record{ID: "r1"}})
	assert.Equal(t, notifylog.StatusFailed, out.Status)
	assert.Equal(t, notifylog.ReasonStoreUnavailable, out.Reason)
	assert.ErrorIs(t, out.Err, apperr.ErrStorageUnavailable)
}
