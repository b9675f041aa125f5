package quakes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

const feedBody = `{
  "features": [
    {
      "properties": {
        "mag": 6.1, "magType": "mww", "ids": ",us7000abcd,at00abc,",
        "time": 1757500000000, "updated": 1757500600000,
        "title": "M 6.1 - south of Fiji", "place": "south of Fiji",
        "url": "https://example.org/us7000abcd", "felt": 12,
        "tsunami": 0, "status": "reviewed"
      },
      "geometry": {"coordinates": [178.5, -24.1, 550.0]}
    },
    {
      "properties": {
        "mag": 4.2, "magType": "mb", "ids": ",us7000wxyz,",
        "time": 1757503600000, "updated": 1757503700000,
        "title": "M 4.2 - Greece", "place": "Greece",
        "url": "https://example.org/us7000wxyz",
        "tsunami": 0, "status": "automatic"
      },
      "geometry": {"coordinates": [22.0, 38.2, 10.0]}
    }
  ]
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(zerolog.Nop())
	c.baseURL = srv.URL
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
	}
	return c
}

func TestRecentParsesAndFilters(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "geojson" {
			t.Errorf("missing format param: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(feedBody))
	}))

	events, err := c.Recent(context.Background(), 5.0, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events %d, want 1 above magnitude 5", len(events))
	}
	e := events[0]
	if e.EventID != "us7000abcd" {
		t.Fatalf("event id %q", e.EventID)
	}
	if e.Latitude != -24.1 || e.Longitude != 178.5 || e.DepthKm != 550 {
		t.Fatalf("coordinates %v %v %v", e.Latitude, e.Longitude, e.DepthKm)
	}
	if e.FeltReports == nil || *e.FeltReports != 12 {
		t.Fatalf("felt reports %v", e.FeltReports)
	}
	if e.Time != time.UnixMilli(1757500000000).UTC() {
		t.Fatalf("time %v", e.Time)
	}
}

func TestRecentServesFromCache(t *testing.T) {
	var hits atomic.Int64
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(feedBody))
	}))

	for i := 0; i < 3; i++ {
		if _, err := c.Recent(context.Background(), 3.0, 1); err != nil {
			t.Fatalf("Recent: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hit %d times, want 1", got)
	}

	st := c.Stats()
	if st.Events != 2 || st.FetchedAt.IsZero() {
		t.Fatalf("stats %+v", st)
	}
}

func TestRecentRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int64
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feedBody))
	}))

	events, err := c.Recent(context.Background(), 3.0, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events %d", len(events))
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("upstream hit %d times, want 3", got)
	}
}

func TestRecentFallsBackToStaleCache(t *testing.T) {
	var fail atomic.Bool
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(feedBody))
	}))

	if _, err := c.Recent(context.Background(), 3.0, 1); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	fail.Store(true)
	c.mu.Lock()
	c.cachedAt = time.Now().Add(-time.Hour) // expire the cache
	c.mu.Unlock()

	events, err := c.Recent(context.Background(), 3.0, 1)
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("stale events %d", len(events))
	}
}

func TestRecentErrorWithoutCache(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	if _, err := c.Recent(context.Background(), 3.0, 1); err == nil {
		t.Fatal("expected error when no cache exists")
	}
}

func TestDetail(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("eventid") == "us7000abcd" {
			_, _ = w.Write([]byte(feedBody))
			return
		}
		_, _ = w.Write([]byte(`{"features": []}`))
	}))

	e, ok, err := c.Detail(context.Background(), "us7000abcd")
	if err != nil || !ok {
		t.Fatalf("Detail: ok=%v err=%v", ok, err)
	}
	if e.Place != "south of Fiji" {
		t.Fatalf("place %q", e.Place)
	}

	_, ok, err = c.Detail(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if ok {
		t.Fatal("expected no event")
	}
}
