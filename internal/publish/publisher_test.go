package publish_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelfeed/fuelfeed/internal/fuel"
	"github.com/fuelfeed/fuelfeed/internal/publish"
)

func sampleAggregate() *fuel.Aggregate {
	return &fuel.Aggregate{
		LastUpdated:  time.Date(2026, 8, 23, 6, 0, 0, 0, time.UTC),
		Source:       fuel.SourceName,
		StationCount: 1,
		Stations: []*fuel.StationRecord{
			{
				SiteID:   "site-1",
				Brand:    "Shell",
				Address:  "1 High Street, Leeds",
				Postcode: "LS1 4AP",
				Location: &fuel.Location{Latitude: 53.7997, Longitude: -1.5492},
				Prices:   map[fuel.FuelType]float64{fuel.FuelE10: 139.9},
			},
		},
	}
}

func TestPublisher_WritesCanonicalJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uk-fuel-prices.json")
	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})

	require.NoError(t, publisher.Publish(sampleAggregate()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "2026-08-23T06:00:00Z", decoded["last_updated"])
	assert.Equal(t, "GOV UK Fuel Finder API", decoded["source"])
	assert.Equal(t, float64(1), decoded["station_count"])

	stations := decoded["stations"].([]any)
	require.Len(t, stations, 1)
	station := stations[0].(map[string]any)
	assert.Equal(t, "site-1", station["site_id"])

	// Numbers stay numbers, never strings.
	prices := station["prices"].(map[string]any)
	assert.Equal(t, 139.9, prices["E10"])
}

func TestPublisher_OmitsLocationWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})

	agg := sampleAggregate()
	agg.Stations[0].Location = nil
	require.NoError(t, publisher.Publish(agg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"location"`)
}

func TestPublisher_CreatesDestinationDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "out.json")
	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})

	require.NoError(t, publisher.Publish(sampleAggregate()))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestPublisher_ReplacesExistingArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"old": true}`), 0o644))

	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})
	require.NoError(t, publisher.Publish(sampleAggregate()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"old"`)
	assert.Contains(t, string(data), `"site-1"`)
}

func TestPublisher_FailureLeavesPreviousArtifactUntouched(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	previous := []byte(`{"previous": "artifact"}`)
	require.NoError(t, os.WriteFile(path, previous, 0o644))

	// Make the destination directory unwritable so the temp-file
	// creation fails before the artifact can be replaced.
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})
	err := publisher.Publish(sampleAggregate())
	require.Error(t, err)

	var pubErr *publish.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, path, pubErr.Path)

	require.NoError(t, os.Chmod(dir, 0o755))
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, previous, data, "previous artifact must be byte-for-byte unchanged")
}

func TestPublisher_AtomicReplaceFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	// A directory squatting on the destination path makes the final
	// rename fail after the temp file was written.
	require.NoError(t, os.Mkdir(path, 0o755))

	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})
	err := publisher.Publish(sampleAggregate())
	require.Error(t, err)

	var pubErr *publish.PublishError
	require.ErrorAs(t, err, &pubErr)

	// The failed attempt must not leave its temp file behind.
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.json", entries[0].Name())
}

func TestPublisher_NoStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	publisher := publish.NewPublisher(publish.PublisherConfig{Path: path})

	require.NoError(t, publisher.Publish(sampleAggregate()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.json", entries[0].Name())
}
