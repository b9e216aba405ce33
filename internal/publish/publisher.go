// Package publish writes the aggregate artifact to its destination
// atomically, so readers never observe a partially written file.
package publish

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/fuelfeed/fuelfeed/internal/fuel"
)

// PublishError represents a failed publish. The previously published
// artifact is left untouched.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// PublisherConfig holds configuration for the publisher.
type PublisherConfig struct {
	// Path is the destination of the JSON artifact (required).
	Path string

	// Logger for publish operations.
	Logger zerolog.Logger
}

// Publisher serializes aggregates to canonical JSON and replaces the
// destination file atomically.
type Publisher struct {
	path   string
	logger zerolog.Logger
}

// NewPublisher creates a publisher for the given destination path.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{
		path:   cfg.Path,
		logger: cfg.Logger,
	}
}

// Publish serializes the aggregate and writes it to the destination.
// The write goes to a temporary file in the destination directory and
// is renamed onto the final path in one step; on any failure the
// previous artifact remains intact and the temporary file is removed.
func (p *Publisher) Publish(aggregate *fuel.Aggregate) error {
	data, err := json.MarshalIndent(aggregate, "", "  ")
	if err != nil {
		return &PublishError{Path: p.path, Err: fmt.Errorf("serialize aggregate: %w", err)}
	}
	data = append(data, '\n')

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PublishError{Path: p.path, Err: fmt.Errorf("create output directory: %w", err)}
	}

	if err := p.writeAtomic(dir, data); err != nil {
		return &PublishError{Path: p.path, Err: err}
	}

	p.logger.Info().
		Str("path", p.path).
		Int("stations", aggregate.StationCount).
		Int("bytes", len(data)).
		Msg("artifact published")

	return nil
}

func (p *Publisher) writeAtomic(dir string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// Remove the temp file on any failure path; after a successful
	// rename it no longer exists and the removal is a no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}

	return nil
}
