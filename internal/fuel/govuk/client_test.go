package govuk_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelfeed/fuelfeed/internal/fuel/govuk"
)

// fakeTokenSource issues sequentially numbered tokens and counts
// invalidations.
type fakeTokenSource struct {
	issued      atomic.Int32
	invalidated atomic.Int32
	current     atomic.Value
}

func newFakeTokenSource() *fakeTokenSource {
	s := &fakeTokenSource{}
	s.current.Store("")
	return s
}

func (s *fakeTokenSource) Token(context.Context) (string, error) {
	if s.current.Load().(string) == "" {
		token := fmt.Sprintf("token-%d", s.issued.Add(1))
		s.current.Store(token)
	}
	return s.current.Load().(string), nil
}

func (s *fakeTokenSource) Invalidate() {
	s.invalidated.Add(1)
	s.current.Store("")
}

func pricesPage(page, lastPage int, siteIDs ...string) map[string]any {
	stations := make([]map[string]any, 0, len(siteIDs))
	for _, id := range siteIDs {
		stations = append(stations, map[string]any{
			"site_id": id,
			"brand":   "Testco",
			"prices":  map[string]any{"E10": 139.9},
		})
	}
	return map[string]any{
		"pagination": map[string]int{
			"current_page": page,
			"last_page":    lastPage,
			"per_page":     len(siteIDs),
			"total_count":  lastPage * len(siteIDs),
		},
		"stations": stations,
	}
}

func newTestFuelClient(baseURL string, tokens govuk.TokenSource) *govuk.Client {
	return govuk.NewClient(govuk.ClientConfig{
		BaseURL:           baseURL,
		Tokens:            tokens,
		HTTPClient:        http.DefaultClient,
		RequestsPerMinute: 60000, // effectively unpaced in tests
	})
}

func TestClient_FetchAllStations_SinglePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pricesPage(1, 1, "a", "b"))
	}))
	defer server.Close()

	client := newTestFuelClient(server.URL, newFakeTokenSource())

	records, err := client.FetchAllStations(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0]["site_id"])
	assert.Equal(t, "b", records[1]["site_id"])
}

func TestClient_FetchAllStations_PaginatesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			json.NewEncoder(w).Encode(pricesPage(1, 3, "a", "b"))
		case "2":
			json.NewEncoder(w).Encode(pricesPage(2, 3, "c"))
		case "3":
			json.NewEncoder(w).Encode(pricesPage(3, 3, "d", "e"))
		default:
			t.Errorf("unexpected page %s", page)
		}
	}))
	defer server.Close()

	client := newTestFuelClient(server.URL, newFakeTokenSource())

	records, err := client.FetchAllStations(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 5)

	var ids []string
	for _, r := range records {
		ids = append(ids, r["site_id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
}

func TestClient_FetchAllStations_ResumesAfterTokenExpiry(t *testing.T) {
	// Page 3 of 5 rejects the first token once; the client must
	// re-authenticate and resume from page 3 with no gaps or duplicates.
	var rejected atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")

		if page == "3" && r.Header.Get("Authorization") == "Bearer token-1" && !rejected.Swap(true) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		pages := map[string][]string{
			"1": {"s1", "s2"},
			"2": {"s3"},
			"3": {"s4"},
			"4": {"s5", "s6"},
			"5": {"s7"},
		}
		var n int
		fmt.Sscanf(page, "%d", &n)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pricesPage(n, 5, pages[page]...))
	}))
	defer server.Close()

	tokens := newFakeTokenSource()
	client := newTestFuelClient(server.URL, tokens)

	records, err := client.FetchAllStations(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, r := range records {
		ids = append(ids, r["site_id"].(string))
	}
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"}, ids)
	assert.Equal(t, int32(1), tokens.invalidated.Load())
	assert.Equal(t, int32(2), tokens.issued.Load())
}

func TestClient_FetchAllStations_RepeatedRejectionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestFuelClient(server.URL, newFakeTokenSource())

	_, err := client.FetchAllStations(context.Background())
	require.Error(t, err)

	var fetchErr *govuk.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 1, fetchErr.Page)
	assert.ErrorIs(t, err, govuk.ErrTokenExpired)
}

func TestClient_FetchAllStations_FetchErrorNamesFailingPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			json.NewEncoder(w).Encode(pricesPage(1, 2, "a"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestFuelClient(server.URL, newFakeTokenSource())

	_, err := client.FetchAllStations(context.Background())
	require.Error(t, err)

	var fetchErr *govuk.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 2, fetchErr.Page)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_FetchAllStations_MissingPaginationIsSinglePage(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"stations": []map[string]any{{"site_id": "only"}},
		})
	}))
	defer server.Close()

	client := newTestFuelClient(server.URL, newFakeTokenSource())

	records, err := client.FetchAllStations(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_FetchAllStations_TokenErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("prices endpoint should not be reached")
	}))
	defer server.Close()

	client := govuk.NewClient(govuk.ClientConfig{
		BaseURL:           server.URL,
		Tokens:            &failingTokenSource{},
		HTTPClient:        http.DefaultClient,
		RequestsPerMinute: 60000,
	})

	_, err := client.FetchAllStations(context.Background())
	require.Error(t, err)

	var authErr *govuk.AuthError
	assert.ErrorAs(t, err, &authErr)
}

type failingTokenSource struct{}

func (s *failingTokenSource) Token(context.Context) (string, error) {
	return "", &govuk.AuthError{StatusCode: http.StatusUnauthorized, Body: "invalid_client"}
}

func (s *failingTokenSource) Invalidate() {}
