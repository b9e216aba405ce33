// Package pipeline orchestrates one fetch-normalize-aggregate-publish
// run. A run is single-shot and linear; the only state that survives it
// is the published artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fuelfeed/fuelfeed/internal/fuel"
	"github.com/fuelfeed/fuelfeed/internal/telemetry"
)

// ErrNoStations is returned when a run yields zero valid station
// records. Publishing an empty artifact would wipe the previous
// snapshot, so the run fails instead.
var ErrNoStations = errors.New("no valid station records fetched")

// Fetcher retrieves the full raw result set from the upstream API.
type Fetcher interface {
	FetchAllStations(ctx context.Context) ([]fuel.RawRecord, error)
}

// Publisher writes the aggregate artifact to its destination.
type Publisher interface {
	Publish(aggregate *fuel.Aggregate) error
}

// Config holds dependencies for the pipeline.
type Config struct {
	// Fetcher retrieves raw station records (required).
	Fetcher Fetcher

	// Publisher writes the artifact (required).
	Publisher Publisher

	// Logger for run progress.
	Logger zerolog.Logger

	// Tracer and Meter default to the globals (noop unless telemetry
	// was enabled at startup).
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Pipeline executes runs.
type Pipeline struct {
	fetcher   Fetcher
	publisher Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer

	rawRecords  metric.Int64Counter
	skips       metric.Int64Counter
	published   metric.Int64Counter
	runDuration metric.Float64Histogram
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer("fuelfeed.pipeline")
	}
	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.Meter("fuelfeed.pipeline")
	}

	rawRecords, err := meter.Int64Counter("pipeline.raw_records",
		metric.WithDescription("Raw station records fetched from upstream"))
	if err != nil {
		return nil, err
	}
	skips, err := meter.Int64Counter("pipeline.records_skipped",
		metric.WithDescription("Raw records dropped during normalization"))
	if err != nil {
		return nil, err
	}
	published, err := meter.Int64Counter("pipeline.stations_published",
		metric.WithDescription("Deduplicated stations written to the artifact"))
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram("pipeline.run_duration_seconds",
		metric.WithDescription("Wall-clock duration of a full pipeline run"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		fetcher:     cfg.Fetcher,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		tracer:      tracer,
		rawRecords:  rawRecords,
		skips:       skips,
		published:   published,
		runDuration: runDuration,
	}, nil
}

// Result summarizes a completed run.
type Result struct {
	StartedAt  time.Time
	Duration   time.Duration
	RawRecords int
	Skipped    int
	Stations   int
}

// Run executes one full pipeline pass: fetch everything, normalize per
// record (skips counted, never fatal), aggregate with last-write-wins
// dedup, publish atomically. Any stage failure aborts the run before
// the artifact is touched.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	startedAt := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	raw, err := p.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetch stage: %w", err)
	}
	p.rawRecords.Add(ctx, int64(len(raw)))

	aggregate, skipped := p.normalizeAndAggregate(ctx, raw)
	p.skips.Add(ctx, int64(skipped))

	if aggregate.StationCount == 0 {
		span.RecordError(ErrNoStations)
		return nil, ErrNoStations
	}

	if err := p.publish(ctx, aggregate); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("publish stage: %w", err)
	}
	p.published.Add(ctx, int64(aggregate.StationCount))

	result := &Result{
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
		RawRecords: len(raw),
		Skipped:    skipped,
		Stations:   aggregate.StationCount,
	}
	p.runDuration.Record(ctx, result.Duration.Seconds())

	p.logger.Info().
		Dur("duration", result.Duration).
		Int("raw_records", result.RawRecords).
		Int("skipped", result.Skipped).
		Int("stations", result.Stations).
		Msg("pipeline run completed")

	return result, nil
}

func (p *Pipeline) fetch(ctx context.Context) ([]fuel.RawRecord, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	raw, err := p.fetcher.FetchAllStations(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("raw_records", len(raw)))
	return raw, nil
}

func (p *Pipeline) normalizeAndAggregate(ctx context.Context, raw []fuel.RawRecord) (*fuel.Aggregate, int) {
	_, span := p.tracer.Start(ctx, "pipeline.normalize")
	defer span.End()

	aggregator := fuel.NewAggregator()
	skipped := 0

	for _, record := range raw {
		normalized, err := fuel.Normalize(record)
		if err != nil {
			skipped++
			p.logger.Debug().Err(err).Msg("dropping raw record")
			continue
		}
		aggregator.Add(normalized)
	}

	if skipped > 0 {
		p.logger.Warn().
			Int("skipped", skipped).
			Int("kept", aggregator.Len()).
			Msg("some raw records were dropped during normalization")
	}

	span.SetAttributes(
		attribute.Int("skipped", skipped),
		attribute.Int("stations", aggregator.Len()),
	)

	return aggregator.Aggregate(), skipped
}

func (p *Pipeline) publish(ctx context.Context, aggregate *fuel.Aggregate) error {
	_, span := p.tracer.Start(ctx, "pipeline.publish")
	defer span.End()

	return p.publisher.Publish(aggregate)
}
