package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinical-notify/internal/eventbus"
	"github.com/example/clinical-notify/internal/notifylog"
)

func dialFeed(t *testing.T, srv *httptest.Server, hn string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/patients/" + hn + "/feed"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestFeedStreamsPatientRecords(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler.Router())
	defer srv.Close()

	conn := dialFeed(t, srv, "HN250001")
	require.Eventually(t, func() bool {
		return f.bus.Subscribers(eventbus.TopicInApp) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(eventbus.TopicInApp, notifylog.Record{ID: "other", PatientHospitalNumber: "HN999"})
	f.bus.Publish(eventbus.TopicInApp, notifylog.Record{
		ID:                    "mine",
		PatientHospitalNumber: "HN250001",
		Channel:               notifylog.ChannelInApp,
		Status:                notifylog.StatusSent,
		RenderedSummary:       "Appointment with Dr. A on 2025-09-10 at 09:00.",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got notifylog.Record
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "mine", got.ID)
	assert.Equal(t, "Appointment with Dr. A on 2025-09-10 at 09:00.", got.RenderedSummary)
}

func TestFeedUnsubscribesWhenClientLeaves(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler.Router())
	defer srv.Close()

	conn := dialFeed(t, srv, "HN1")
	require.Eventually(t, func() bool {
		return f.bus.Subscribers(eventbus.TopicInApp) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.bus.Subscribers(eventbus.TopicInApp) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedClosesWithBus(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler.Router())
	defer srv.Close()

	conn := dialFeed(t, srv, "HN1")
	require.Eventually(t, func() bool {
		return f.bus.Subscribers(eventbus.TopicInApp) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error %v", err)
}

func dialFeedFrom(srv *httptest.Server, origin string) (*websocket.Conn, int, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/patients/HN1/feed"
	header := http.Header{}
	header.Set("Origin", origin)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
	return conn, status, err
}

func TestFeedRejectsCrossOriginBrowsers(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler.Router())
	defer srv.Close()

	_, status, err := dialFeedFrom(srv, "http://evil.example")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Zero(t, f.bus.Subscribers(eventbus.TopicInApp))

	conn, _, err := dialFeedFrom(srv, srv.URL)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestFeedAllowedOrigins(t *testing.T) {
	f := newFixture(t, WithAllowedOrigins("https://ward.hospital.local/"))
	srv := httptest.NewServer(f.handler.Router())
	defer srv.Close()

	conn, _, err := dialFeedFrom(srv, "https://ward.hospital.local")
	require.NoError(t, err)
	_ = conn.Close()

	conn, _, err = dialFeedFrom(srv, srv.URL)
	require.NoError(t, err)
	_ = conn.Close()

	_, status, err := dialFeedFrom(srv, "http://evil.example")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)
}
