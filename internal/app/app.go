package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/example/clinical-notify/internal/api"
	"github.com/example/clinical-notify/internal/artifact"
	"github.com/example/clinical-notify/internal/channel"
	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/document"
	"github.com/example/clinical-notify/internal/eventbus"
	"github.com/example/clinical-notify/internal/gateway"
	"github.com/example/clinical-notify/internal/migrate"
	"github.com/example/clinical-notify/internal/notify"
	"github.com/example/clinical-notify/internal/notifylog"
	"github.com/example/clinical-notify/internal/template"
)

// App holds the wired components shared by the service binaries.
type App struct {
	Config    *common.Config
	Log       notifylog.Store
	Artifacts *artifact.Service
	Bus       *eventbus.Bus[notifylog.Record]
	Notifier  *notify.Orchestrator

	checks []api.Option
	logger zerolog.Logger
}

// New connects the configured stores and builds the orchestrator. Stores
// opened before a failure are closed again.
func New(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.logger

	var index artifact.Index
	switch cfg.StoreDriver {
	case common.DriverPostgres:
		pool, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		a.Log = notifylog.NewPostgresStore(pool)
		index = artifact.NewPostgresIndex(pool)
	default:
		a.Log = notifylog.NewMemoryStore()
		index = artifact.NewMemoryIndex()
	}
	a.checks = append(a.checks, api.WithHealthCheck("notification_log", a.Log.Ping))

	var blobs artifact.BlobStore
	switch cfg.BlobDriver {
	case common.DriverRedis:
		var rb *artifact.RedisBlobs
		err := common.Retry(ctx, logger, "redis", cfg.StartupTimeout, func(ctx context.Context) error {
			var err error
			rb, err = artifact.NewRedisBlobs(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
			return err
		})
		if err != nil {
			_ = index.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		blobs = rb
		a.checks = append(a.checks, api.WithHealthCheck("artifact_blobs", rb.Ping))
	default:
		blobs = artifact.NewMemoryBlobs()
	}
	a.Artifacts = artifact.NewService(index, blobs)
	a.Bus = eventbus.New[notifylog.Record](cfg.FeedBuffer)

	resolver, err := template.NewResolver(template.Default())
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	var renderer notify.Renderer
	if cfg.Documents {
		opts, err := documentOptions(cfg)
		if err != nil {
			return err
		}
		r, err := document.NewRenderer(document.Facility{
			Name:    cfg.FacilityName,
			Address: cfg.FacilityAddress,
			Phone:   cfg.FacilityPhone,
		}, opts...)
		if err != nil {
			return err
		}
		renderer = r
	}

	sms, email := gateways(cfg, logger)
	a.Notifier, err = notify.New(notify.Config{
		Resolver:  resolver,
		SMS:       channel.NewSMS(sms, channel.WithTimeout(cfg.SMSTimeout)),
		Email:     channel.NewEmail(email, channel.WithTimeout(cfg.EmailTimeout)),
		InApp:     channel.NewInApp(a.Log),
		Log:       a.Log,
		Documents: cfg.Documents,
		Renderer:  renderer,
		Artifacts: a.Artifacts,
		Bus:       a.Bus,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("store", cfg.StoreDriver).
		Str("blobs", cfg.BlobDriver).
		Bool("documents", cfg.Documents).
		Msg("notification pipeline ready")
	return nil
}

func connectPostgres(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.MigrateOnStart {
		err := common.Retry(ctx, logger, "postgres-migrate", cfg.StartupTimeout, func(ctx context.Context) error {
			return migrate.Up(ctx, cfg.DatabaseURL, logger)
		})
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := common.Retry(ctx, logger, "postgres", cfg.StartupTimeout, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// documentOptions loads the configured document font from disk.
func documentOptions(cfg *common.Config) ([]document.Option, error) {
	if cfg.DocumentFontPath == "" {
		return nil, nil
	}
	var font document.Font
	var err error
	if font.Regular, err = os.ReadFile(cfg.DocumentFontPath); err != nil {
		return nil, fmt.Errorf("read document font: %w", err)
	}
	if cfg.DocumentBoldFontPath != "" {
		if font.Bold, err = os.ReadFile(cfg.DocumentBoldFontPath); err != nil {
			return nil, fmt.Errorf("read document bold font: %w", err)
		}
	}
	return []document.Option{document.WithFont(font)}, nil
}

func gateways(cfg *common.Config, logger zerolog.Logger) (gateway.SMSGateway, gateway.EmailGateway) {
	var sms gateway.SMSGateway = gateway.LogSMSGateway{Logger: logger}
	if cfg.SMSEndpoint != "" {
		sms = &gateway.HTTPSMSGateway{
			Endpoint: cfg.SMSEndpoint,
			APIKey:   cfg.SMSAPIKey,
			Sender:   cfg.SMSSender,
			Client:   &http.Client{},
		}
	}
	var email gateway.EmailGateway = gateway.LogEmailGateway{Logger: logger}
	if cfg.EmailEndpoint != "" {
		email = &gateway.HTTPEmailGateway{
			Endpoint: cfg.EmailEndpoint,
			APIKey:   cfg.EmailAPIKey,
			From:     cfg.EmailFrom,
			Client:   &http.Client{},
		}
	}
	return sms, email
}

// Handler returns the HTTP API over the wired components.
func (a *App) Handler() *api.Handler {
	opts := append([]api.Option{api.WithAllowedOrigins(a.Config.FeedAllowedOrigins...)}, a.checks...)
	return api.NewHandler(a.Notifier, a.Artifacts, a.Bus, a.logger, opts...)
}

// Close releases every store. The artifact index shares the Postgres pool
// with the log, so the log is closed last.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var err error
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Artifacts != nil {
		err = multierr.Append(err, a.Artifacts.Close())
	}
	if a.Log != nil {
		err = multierr.Append(err, a.Log.Close())
	}
	return err
}
