// Package fuel provides the canonical fuel-price data model and the
// normalization and aggregation steps of the publish pipeline.
package fuel

import (
	"errors"
	"time"
)

// SourceName is the fixed source string stamped on every published artifact.
const SourceName = "GOV UK Fuel Finder API"

// ErrSkipRecord marks a raw record that cannot be normalized.
// Skips are counted by the pipeline and never abort a run.
var ErrSkipRecord = errors.New("record skipped")

// FuelType is a CMA Open Data Schema fuel-type code.
type FuelType string

const (
	FuelE10 FuelType = "E10" // unleaded petrol
	FuelE5  FuelType = "E5"  // premium petrol
	FuelB7  FuelType = "B7"  // diesel
	FuelSDV FuelType = "SDV" // super diesel
)

// FuelTypes lists every fuel-type code admitted into a prices mapping.
func FuelTypes() []FuelType {
	return []FuelType{FuelE10, FuelE5, FuelB7, FuelSDV}
}

// RawRecord is a station record as delivered by the upstream API,
// before any validation. Only the normalizer interprets it.
type RawRecord map[string]any

// Location is a WGS84 coordinate pair. A StationRecord carries either
// both coordinates or no location at all.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StationRecord is a single filling station in the canonical schema.
type StationRecord struct {
	SiteID   string `json:"site_id"`
	Brand    string `json:"brand"`
	Address  string `json:"address"`
	Postcode string `json:"postcode"`

	// Location is omitted entirely when either coordinate is unavailable.
	Location *Location `json:"location,omitempty"`

	// Prices maps fuel-type code to price in pence. Absent fuel types
	// have no key; a price is never emitted as zero or null.
	Prices map[FuelType]float64 `json:"prices"`
}

// Aggregate is the published artifact: one full snapshot of all stations.
type Aggregate struct {
	LastUpdated  time.Time        `json:"last_updated"`
	Source       string           `json:"source"`
	StationCount int              `json:"station_count"`
	Stations     []*StationRecord `json:"stations"`
}
