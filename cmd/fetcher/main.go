// Package main provides the entrypoint for the fuelfeed fetcher: a
// single-shot pipeline that pulls UK fuel prices from the GOV UK Fuel
// Finder API and republishes them as one static JSON artifact.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fuelfeed/fuelfeed/internal/config"
	"github.com/fuelfeed/fuelfeed/internal/fuel/govuk"
	"github.com/fuelfeed/fuelfeed/internal/pipeline"
	"github.com/fuelfeed/fuelfeed/internal/publish"
	"github.com/fuelfeed/fuelfeed/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes per failure class. The external scheduler only needs
// zero/non-zero, the distinct codes help humans reading run logs.
const (
	exitOK      = 0
	exitFailure = 1
	exitAuth    = 2
	exitFetch   = 3
	exitPublish = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	const serviceName = "fuelfeed-fetcher"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Str("run_id", uuid.NewString()).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting fuel price fetch run")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	tokens := govuk.NewTokenManager(govuk.TokenManagerConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Logger:       log,
	})

	client := govuk.NewClient(govuk.ClientConfig{
		BaseURL:           cfg.APIBaseURL,
		Tokens:            tokens,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            log,
	})

	publisher := publish.NewPublisher(publish.PublisherConfig{
		Path:   cfg.OutputPath,
		Logger: log,
	})

	pipe, err := pipeline.New(pipeline.Config{
		Fetcher:   client,
		Publisher: publisher,
		Logger:    log,
		Tracer:    tp.Tracer,
		Meter:     tp.Meter,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build pipeline")
		return exitFailure
	}

	// Hard wall-clock budget so a stuck run cannot block the next
	// scheduled trigger.
	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	result, err := pipe.Run(runCtx)
	if err != nil {
		return classifyFailure(log, err)
	}

	log.Info().
		Int("stations", result.Stations).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Str("output", cfg.OutputPath).
		Msg("run succeeded")

	return exitOK
}

// classifyFailure logs the failing stage and maps the error to an exit
// code. AuthError is checked before FetchError: a credential rejection
// during pagination surfaces wrapped in a FetchError but is still an
// authentication failure.
func classifyFailure(log zerolog.Logger, err error) int {
	var (
		authErr    *govuk.AuthError
		fetchErr   *govuk.FetchError
		publishErr *publish.PublishError
	)

	switch {
	case errors.As(err, &authErr):
		log.Error().Err(err).Msg("authentication failed; credentials rejected by upstream")
		return exitAuth
	case errors.As(err, &fetchErr):
		log.Error().Err(err).Int("page", fetchErr.Page).Msg("fetch failed; aborting without publishing a partial dataset")
		return exitFetch
	case errors.As(err, &publishErr):
		log.Error().Err(err).Str("path", publishErr.Path).Msg("publish failed; previous artifact left untouched")
		return exitPublish
	default:
		log.Error().Err(err).Msg("run failed")
		return exitFailure
	}
}
