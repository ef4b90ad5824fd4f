package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/gateway"
	"github.com/example/clinical-notify/internal/notifylog"
)

func memoryConfig() *common.Config {
	return &common.Config{
		ServiceName:    "notifier",
		HTTPPort:       8080,
		LogLevel:       "info",
		StoreDriver:    common.DriverMemory,
		BlobDriver:     common.DriverMemory,
		StartupTimeout: time.Second,
		SMSTimeout:     time.Second,
		EmailTimeout:   time.Second,
		Documents:      true,
		FacilityName:   "General Hospital",
		FeedBuffer:     8,
	}
}

func TestNewWithMemoryStores(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	srv := httptest.NewServer(a.Handler().Router())
	defer srv.Close()

	body := `{
		"kind": "appointment_created",
		"patient": {"hospital_number": "HN250001", "display_name": "Somchai P.", "phone": "0812345678", "email": "a@b.com"},
		"payload": {"doctor": "Dr. A", "date": "2025-09-10", "time": "09:00", "appointment_id": "APT-1"},
		"actor": {"id": "nurse-7", "display_name": "Nurse B"}
	}`
	resp, err := http.Post(srv.URL+"/v1/notify", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		EventID  string             `json:"event_id"`
		Records  []notifylog.Record `json:"records"`
		Artifact *struct {
			ID string `json:"id"`
		} `json:"artifact"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.EventID)
	require.Len(t, result.Records, 3)
	for _, rec := range result.Records {
		assert.Equal(t, notifylog.StatusSent, rec.Status, rec.Channel)
	}
	require.NotNil(t, result.Artifact)

	records, err := a.Log.ListByPatient(context.Background(), "HN250001")
	require.NoError(t, err)
	assert.Len(t, records, 3)

	content, err := http.Get(srv.URL + "/v1/artifacts/" + result.Artifact.ID + "/content")
	require.NoError(t, err)
	defer content.Body.Close()
	assert.Equal(t, http.StatusOK, content.StatusCode)
	assert.Equal(t, "application/pdf", content.Header.Get("Content-Type"))

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestNewWithoutDocuments(t *testing.T) {
	cfg := memoryConfig()
	cfg.Documents = false
	cfg.FacilityName = ""

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestGatewaysFollowConfig(t *testing.T) {
	cfg := memoryConfig()
	sms, email := gateways(cfg, zerolog.Nop())
	assert.IsType(t, gatewayLogSMS, sms)
	assert.IsType(t, gatewayLogEmail, email)

	cfg.SMSEndpoint = "http://sms.local"
	cfg.EmailEndpoint = "http://mail.local"
	sms, email = gateways(cfg, zerolog.Nop())
	assert.IsType(t, gatewayHTTPSMS, sms)
	assert.IsType(t, gatewayHTTPEmail, email)
}

func TestNewRejectsBadDocumentsConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.FacilityName = ""

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, a)
}

func TestNewLoadsDocumentFont(t *testing.T) {
	cfg := memoryConfig()
	cfg.DocumentFontPath = filepath.Join("..", "document", "testdata", "DejaVuSans.ttf")

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	cfg.DocumentFontPath = filepath.Join(t.TempDir(), "missing.ttf")
	_, err = New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document font")
}

func TestFeedRejectsCrossOriginByDefault(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	srv := httptest.NewServer(a.Handler().Router())
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/patients/HN1/feed", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

var (
	gatewayLogSMS    = gateway.LogSMSGateway{}
	gatewayLogEmail  = gateway.LogEmailGateway{}
	gatewayHTTPSMS   = &gateway.HTTPSMSGateway{}
	gatewayHTTPEmail = &gateway.HTTPEmailGateway{}
)
