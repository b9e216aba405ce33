package fuel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalize maps a raw upstream record into the canonical StationRecord.
// A record that cannot be normalized returns an error wrapping
// ErrSkipRecord; callers count skips, they never abort the run.
func Normalize(raw RawRecord) (*StationRecord, error) {
	siteID := strings.TrimSpace(stringField(raw, "site_id"))
	if siteID == "" {
		return nil, fmt.Errorf("%w: missing site_id", ErrSkipRecord)
	}

	address, postcode := normalizeAddress(raw)

	rec := &StationRecord{
		SiteID:   siteID,
		Brand:    strings.TrimSpace(stringField(raw, "brand")),
		Address:  address,
		Postcode: NormalizePostcode(postcode),
		Location: normalizeLocation(raw["location"]),
		Prices:   normalizePrices(raw["prices"]),
	}

	return rec, nil
}

// normalizeAddress handles both upstream address shapes: a flat string
// with a separate top-level postcode, or an object with line1/town/postcode.
func normalizeAddress(raw RawRecord) (address, postcode string) {
	postcode = stringField(raw, "postcode")

	switch addr := raw["address"].(type) {
	case string:
		address = strings.TrimSpace(addr)
	case map[string]any:
		var parts []string
		if line1 := strings.TrimSpace(stringField(addr, "line1")); line1 != "" {
			parts = append(parts, line1)
		}
		if town := strings.TrimSpace(stringField(addr, "town")); town != "" {
			parts = append(parts, town)
		}
		address = strings.Join(parts, ", ")
		if postcode == "" {
			postcode = stringField(addr, "postcode")
		}
	}

	return address, postcode
}

// normalizeLocation returns a Location only when both coordinates parse
// as finite numbers within WGS84 bounds. Partial or invalid coordinates
// drop the whole location, never half of it.
func normalizeLocation(v any) *Location {
	loc, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	lat, latOK := numberField(loc["latitude"])
	lon, lonOK := numberField(loc["longitude"])
	if !latOK || !lonOK {
		return nil
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil
	}

	return &Location{Latitude: lat, Longitude: lon}
}

// normalizePrices coerces the upstream prices mapping into pence decimals.
// Keys outside the fixed fuel-type set are dropped; a missing, null or
// unparseable price is omitted rather than coerced to zero.
func normalizePrices(v any) map[FuelType]float64 {
	prices := make(map[FuelType]float64)

	rawPrices, ok := v.(map[string]any)
	if !ok {
		return prices
	}

	for _, ft := range FuelTypes() {
		value, ok := numberField(rawPrices[string(ft)])
		if !ok {
			continue
		}
		prices[ft] = value
	}

	return prices
}

// NormalizePostcode uppercases a UK postcode and collapses internal
// whitespace to the single space before the 3-character inward code.
func NormalizePostcode(pc string) string {
	compact := strings.ToUpper(strings.Join(strings.Fields(pc), ""))
	if len(compact) <= 3 {
		return compact
	}
	return compact[:len(compact)-3] + " " + compact[len(compact)-3:]
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// numberField accepts the value shapes upstream has been observed to use
// for numerics: JSON numbers and numeric strings.
func numberField(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
