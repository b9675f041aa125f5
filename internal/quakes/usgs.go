// Package quakes fetches recent global earthquake events from the USGS
// FDSN event service and caches them for the dashboard.
package quakes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"
	defaultTTL     = 5 * time.Minute
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	recentLimit    = 300
	nearLimit      = 100
)

// Event is one earthquake, flattened from the USGS GeoJSON feature.
type Event struct {
	EventID       string    `json:"event_id"`
	Magnitude     float64   `json:"magnitude"`
	MagnitudeType string    `json:"magnitude_type"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	DepthKm       float64   `json:"depth_km"`
	Time          time.Time `json:"datetime"`
	Title         string    `json:"title"`
	Place         string    `json:"place"`
	URL           string    `json:"url"`
	FeltReports   *int      `json:"felt_reports"`
	Tsunami       int       `json:"tsunami"`
	Status        string    `json:"status"`
	Updated       time.Time `json:"updated"`
}

// CacheStats describes the event cache for the status endpoint.
type CacheStats struct {
	Events    int       `json:"events"`
	FetchedAt time.Time `json:"fetched_at"`
	TTL       float64   `json:"ttl_seconds"`
}

// Client queries the USGS event service. Recent results are cached for
// a TTL; a failed refresh falls back to the stale cache when one
// exists, so transient feed outages never empty the dashboard.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	ttl     time.Duration

	// newBackOff builds the retry policy per fetch; replaced in tests
	// to avoid real delays.
	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	cache    []Event
	cachedAt time.Time
}

// New creates a client against the public USGS endpoint.
func New(log zerolog.Logger) *Client {
	return NewWithEndpoint(defaultBaseURL, log)
}

// NewWithEndpoint creates a client against an alternative event service
// URL, e.g. a local mirror.
func NewWithEndpoint(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With().Str("component", "quakes").Logger(),
		ttl:     defaultTTL,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
		},
	}
}

// Recent returns earthquakes of at least minMagnitude from the last
// daysBack days, newest request first served from cache within the TTL.
func (c *Client) Recent(ctx context.Context, minMagnitude float64, daysBack int) ([]Event, error) {
	c.mu.Lock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.ttl {
		cached := c.cache
		c.mu.Unlock()
		return filterMagnitude(cached, minMagnitude), nil
	}
	c.mu.Unlock()

	if daysBack <= 0 {
		daysBack = 1
	}
	q := url.Values{
		"format":       {"geojson"},
		"starttime":    {time.Now().UTC().AddDate(0, 0, -daysBack).Format(time.RFC3339)},
		"minmagnitude": {formatFloat(minMagnitude)},
		"limit":        {strconv.Itoa(recentLimit)},
		"orderby":      {"time-asc"},
	}
	events, err := c.fetch(ctx, q)
	if err != nil {
		c.mu.Lock()
		stale := c.cache
		c.mu.Unlock()
		if len(stale) > 0 {
			c.log.Warn().Err(err).Msg("feed refresh failed, serving stale cache")
			return filterMagnitude(stale, minMagnitude), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache = events
	c.cachedAt = time.Now().UTC()
	c.mu.Unlock()

	c.log.Info().Int("events", len(events)).Msg("earthquake feed refreshed")
	return filterMagnitude(events, minMagnitude), nil
}

// Near searches for earthquakes within radiusKm of a point, strongest
// first. Results are not cached.
func (c *Client) Near(ctx context.Context, lat, lon, radiusKm, minMagnitude float64) ([]Event, error) {
	q := url.Values{
		"format":       {"geojson"},
		"latitude":     {formatFloat(lat)},
		"longitude":    {formatFloat(lon)},
		"maxradiuskm":  {formatFloat(radiusKm)},
		"minmagnitude": {formatFloat(minMagnitude)},
		"limit":        {strconv.Itoa(nearLimit)},
		"orderby":      {"magnitude"},
	}
	return c.fetch(ctx, q)
}

// Detail looks up a single event by its USGS identifier.
func (c *Client) Detail(ctx context.Context, eventID string) (Event, bool, error) {
	q := url.Values{
		"format":  {"geojson"},
		"eventid": {eventID},
	}
	events, err := c.fetch(ctx, q)
	if err != nil {
		return Event{}, false, err
	}
	if len(events) == 0 {
		return Event{}, false, nil
	}
	return events[0], true, nil
}

// Stats reports the state of the recent-events cache.
func (c *Client) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Events:    len(c.cache),
		FetchedAt: c.cachedAt,
		TTL:       c.ttl.Seconds(),
	}
}

func (c *Client) fetch(ctx context.Context, q url.Values) ([]Event, error) {
	var events []Event
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("usgs: status %s", resp.Status)
		}

		var doc geoJSON
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return err
		}
		events = events[:0]
		for _, f := range doc.Features {
			events = append(events, f.event())
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("quakes: %w", err)
	}
	return events, nil
}

func filterMagnitude(events []Event, min float64) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Magnitude >= min {
			out = append(out, e)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type geoJSON struct {
	Features []feature `json:"features"`
}

type feature struct {
	Properties struct {
		Mag     float64 `json:"mag"`
		MagType string  `json:"magType"`
		IDs     string  `json:"ids"`
		Time    int64   `json:"time"`
		Updated int64   `json:"updated"`
		Title   string  `json:"title"`
		Place   string  `json:"place"`
		URL     string  `json:"url"`
		Felt    *int    `json:"felt"`
		Tsunami int     `json:"tsunami"`
		Status  string  `json:"status"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
}

// event flattens a GeoJSON feature. Coordinates are ordered longitude,
// latitude, depth; timestamps are epoch milliseconds.
func (f feature) event() Event {
	var lon, lat, depth float64
	c := f.Geometry.Coordinates
	if len(c) > 0 {
		lon = c[0]
	}
	if len(c) > 1 {
		lat = c[1]
	}
	if len(c) > 2 {
		depth = c[2]
	}
	p := f.Properties
	if p.MagType == "" {
		p.MagType = "M"
	}
	return Event{
		EventID:       firstID(p.IDs),
		Magnitude:     p.Mag,
		MagnitudeType: p.MagType,
		Latitude:      lat,
		Longitude:     lon,
		DepthKm:       depth,
		Time:          time.UnixMilli(p.Time).UTC(),
		Title:         p.Title,
		Place:         p.Place,
		URL:           p.URL,
		FeltReports:   p.Felt,
		Tsunami:       p.Tsunami,
		Status:        p.Status,
		Updated:       time.UnixMilli(p.Updated).UTC(),
	}
}

// firstID picks the first identifier from the comma-separated, comma-
// wrapped list USGS returns in the "ids" property.
func firstID(ids string) string {
	for _, id := range strings.Split(strings.Trim(ids, ","), ",") {
		if id != "" {
			return id
		}
	}
	return ""
}
