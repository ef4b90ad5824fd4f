package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/clinical-notify/internal/app"
	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/consumer"
)

func main() {
	if err := run(); err != nil {
		log.Printf("event consumer: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("event-consumer")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build notification pipeline: %w", err)
	}
	defer a.Close()

	reader := consumer.NewReader(cfg.KafkaBrokers, cfg.ClinicalEventsTopic, cfg.ConsumerGroup)
	c := consumer.New(reader, a.Notifier, logger)

	logger.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("topic", cfg.ClinicalEventsTopic).
		Str("group", cfg.ConsumerGroup).
		Msg("event consumer started")
	// Uncommitted messages are redelivered once the process is restarted.
	if err := c.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("event consumer stopped")
		return err
	}
	logger.Info().Msg("event consumer stopped")
	return nil
}
