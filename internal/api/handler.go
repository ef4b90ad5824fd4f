package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/artifact"
	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/eventbus"
	"github.com/example/clinical-notify/internal/notify"
	"github.com/example/clinical-notify/internal/notifylog"
)

const maxRequestBytes = 1 << 20

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total HTTP requests by route and status code",
	}, []string{"route", "status"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Latency of HTTP requests by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Notifier is the orchestrator surface the API needs.
type Notifier interface {
	Notify(ctx context.Context, e event.NotificationEvent, opts notify.Options) (notify.NotifyResult, error)
	ListByPatient(ctx context.Context, hospitalNumber string) ([]notifylog.Record, error)
	MarkRead(ctx context.Context, id string) error
}

// Feed hands out live subscriptions to in-app records.
type Feed interface {
	Subscribe(ctx context.Context, topic string) *eventbus.Subscription[notifylog.Record]
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	notifier  Notifier
	artifacts artifact.Store
	feed      Feed
	checks    map[string]HealthCheck
	upgrader  websocket.Upgrader
	pingEvery time.Duration
	tracer    trace.Tracer
	logger    zerolog.Logger
}

type Option func(*Handler)

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// WithPingInterval sets how often idle feed connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) { h.pingEvery = d }
}

// WithAllowedOrigins lets feed clients served from the listed origins connect
// in addition to same-origin pages. Without it only same-origin browsers and
// clients that send no Origin header can open the feed.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[strings.ToLower(origin)] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
	}
}

func NewHandler(notifier Notifier, artifacts artifact.Store, feed Feed, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		notifier:  notifier,
		artifacts: artifacts,
		feed:      feed,
		checks:    make(map[string]HealthCheck),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingEvery: 30 * time.Second,
		tracer:    otel.Tracer("api"),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/notify", h.notify)
		r.Get("/patients/{hn}/notifications", h.listNotifications)
		r.Post("/notifications/{id}/read", h.markRead)
		r.Get("/patients/{hn}/feed", h.streamFeed)

		if h.artifacts != nil {
			r.Get("/patients/{hn}/artifacts", h.listPatientArtifacts)
			r.Get("/visits/{id}/artifacts", h.listVisitArtifacts)
			r.Get("/artifacts/{id}", h.getArtifact)
			r.Get("/artifacts/{id}/content", h.getArtifactContent)
			r.Delete("/artifacts/{id}", h.deleteArtifact)
		}
	})
	return r
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		reqCounter.WithLabelValues(route, http.StatusText(status)).Inc()
		requestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type notifyResponse struct {
	notify.NotifyResult
	DocumentError string     `json:"document_error,omitempty"`
	Error         *errorBody `json:"error,omitempty"`
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.notify")
	defer span.End()

	req, err := notify.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	opts, err := req.Options.Resolve()
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}

	res, err := h.notifier.Notify(ctx, req.NotificationEvent, opts)
	resp := notifyResponse{NotifyResult: res}
	if res.DocumentErr != nil {
		resp.DocumentError = res.DocumentErr.Error()
	}
	if err != nil {
		// A storage outage still reports what was delivered.
		if errors.Is(err, apperr.ErrStorageUnavailable) && res.EventID != "" {
			body := toErrorBody(err)
			resp.Error = &body
			h.log(ctx, http.StatusServiceUnavailable, err)
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		h.respondErr(ctx, w, err)
		return
	}
	span.SetAttributes(attribute.String("event.id", res.EventID))
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.notifier.ListByPatient(ctx, chi.URLParam(r, "hn"))
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	if records == nil {
		records = []notifylog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.notifier.MarkRead(ctx, chi.URLParam(r, "id")); err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "unavailable"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	h.log(ctx, status, err)
	writeJSON(w, status, errorResponse{Error: toErrorBody(err)})
}

func (h *Handler) log(ctx context.Context, status int, err error) {
	logger := common.WithContext(ctx, h.logger)
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Int("status", status).Msg("api request failed")
}

func toErrorBody(err error) errorBody {
	code := apperr.CodeOf(err)
	var appErr *apperr.Error
	if code == apperr.CodeInternal || !errors.As(err, &appErr) {
		return errorBody{Code: string(apperr.CodeInternal), Message: "internal error"}
	}
	return errorBody{Code: string(code), Message: appErr.Message()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
