package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/eventbus"
)

const writeWait = 10 * time.Second

var feedConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "api_feed_connections",
	Help: "Open in-app feed websocket connections",
})

// streamFeed pushes in-app records for one patient as JSON text frames. Only
// records published after the connection opens are sent.
func (h *Handler) streamFeed(w http.ResponseWriter, r *http.Request) {
	hn := chi.URLParam(r, "hn")
	logger := common.WithContext(r.Context(), h.logger).With().Str("hospital_number", hn).Logger()
	if h.feed == nil {
		http.Error(w, "feed not configured", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("feed upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := h.feed.Subscribe(ctx, eventbus.TopicInApp)
	defer sub.Close()

	feedConnections.Inc()
	defer feedConnections.Dec()
	logger.Debug().Msg("feed opened")

	// The client only sends control frames; a read error means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case rec, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(writeWait))
				return
			}
			if rec.PatientHospitalNumber != hn {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				logger.Debug().Err(err).Msg("feed write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
