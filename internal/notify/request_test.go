package notify

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/notifylog"
)

func TestDecodeRequest(t *testing.T) {
	body := `{
		"kind": "appointment_created",
		"patient": {"hospital_number": "HN250001", "phone": "0812345678"},
		"payload": {"doctor": "Dr. A", "date": "2025-09-10", "time": "09:00"},
		"actor": {"id": "nurse-7"},
		"options": {"disable": ["email"], "skip_document": true}
	}`
	req, err := DecodeRequest(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, event.KindAppointmentCreated, req.Kind)
	assert.Equal(t, "HN250001", req.Patient.HospitalNumber)
	assert.Equal(t, "Dr. A", req.Payload[event.FieldDoctor])

	opts, err := req.Options.Resolve()
	require.NoError(t, err)
	assert.True(t, opts.SkipDocument)
	assert.True(t, opts.Disable[notifylog.ChannelEmail])
	assert.False(t, opts.enabled(notifylog.ChannelEmail))
	assert.True(t, opts.enabled(notifylog.ChannelSMS))
}

func TestDecodeRequestMalformed(t *testing.T) {
	_, err := DecodeRequest(strings.NewReader(`{"kind":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidEvent))
}

func TestResolveOptions(t *testing.T) {
	cases := map[string]struct {
		disable []notifylog.Channel
		wantErr bool
	}{
		"none":    {nil, false},
		"both":    {[]notifylog.Channel{notifylog.ChannelSMS, notifylog.ChannelEmail}, false},
		"in app":  {[]notifylog.Channel{notifylog.ChannelInApp}, true},
		"unknown": {[]notifylog.Channel{"fax"}, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := RequestOptions{Disable: tc.disable}.Resolve()
			if tc.wantErr {
				require.ErrorIs(t, err, apperr.ErrInvalidEvent)
				return
			}
			require.NoError(t, err)
		})
	}
}
