package fuel

import (
	"time"
)

// Aggregator collects normalized station records in arrival order,
// deduplicating by site_id with last-write-wins semantics: a later
// duplicate replaces the earlier record's fields at the earlier
// record's position.
type Aggregator struct {
	order []string
	byID  map[string]*StationRecord
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byID: make(map[string]*StationRecord),
	}
}

// Add inserts or replaces a station record.
func (a *Aggregator) Add(rec *StationRecord) {
	if _, seen := a.byID[rec.SiteID]; !seen {
		a.order = append(a.order, rec.SiteID)
	}
	a.byID[rec.SiteID] = rec
}

// Len returns the current number of deduplicated stations.
func (a *Aggregator) Len() int {
	return len(a.order)
}

// Aggregate builds the publishable artifact. The last_updated timestamp
// is stamped at this moment, in UTC at second precision, and
// station_count is recomputed from the final sequence length.
func (a *Aggregator) Aggregate() *Aggregate {
	stations := make([]*StationRecord, 0, len(a.order))
	for _, id := range a.order {
		stations = append(stations, a.byID[id])
	}

	return &Aggregate{
		LastUpdated:  time.Now().UTC().Truncate(time.Second),
		Source:       SourceName,
		StationCount: len(stations),
		Stations:     stations,
	}
}
