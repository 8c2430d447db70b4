// Package usgs fetches recent seismic events from the USGS FDSN event service.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-exposure/internal/config"
	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const sourceName = "usgs"

// Client fetches events from the FDSN event query endpoint as GeoJSON.
type Client struct {
	baseURL      string
	daysBack     int
	minMagnitude float64
	httpClient   *http.Client
	clock        clockwork.Clock
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a USGS client from the USGS_* settings.
func NewClient(cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      cfg.USGSBaseURL,
		daysBack:     cfg.USGSDaysBack,
		minMagnitude: cfg.USGSMinMagnitude,
		httpClient: &http.Client{
			Timeout: cfg.USGSTimeout,
		},
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// FetchEvents returns every event of at least the configured magnitude in the
// configured look-back window. A malformed feature fails the whole fetch.
func (c *Client) FetchEvents(ctx context.Context) ([]domain.Event, error) {
	start := time.Now()
	events, err := c.fetch(ctx)
	c.metrics.SourceDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.SourceRequests.WithLabelValues(sourceName, "error").Inc()
		return nil, err
	}
	c.metrics.SourceRequests.WithLabelValues(sourceName, "success").Inc()
	c.logger.Debug("usgs events fetched", "count", len(events))
	return events, nil
}

func (c *Client) fetch(ctx context.Context) ([]domain.Event, error) {
	params := url.Values{
		"format":       {"geojson"},
		"starttime":    {c.clock.Now().UTC().AddDate(0, 0, -c.daysBack).Format("2006-01-02T15:04:05")},
		"minmagnitude": {strconv.FormatFloat(c.minMagnitude, 'f', -1, 64)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usgs event request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("usgs API error: status %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	events := make([]domain.Event, 0, len(fc.Features))
	for i, f := range fc.Features {
		ev, err := domain.ParseEventRecord(i, f.record())
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// FDSN GeoJSON response types.

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   geometry   `json:"geometry"`
}

type properties struct {
	Mag   *float64        `json:"mag"`
	Place string          `json:"place"`
	Time  json.RawMessage `json:"time"` // epoch milliseconds
}

type geometry struct {
	Coordinates []*float64 `json:"coordinates"` // [lon, lat, depth]
}

func (f feature) record() domain.EventRecord {
	rec := domain.EventRecord{
		ID:               f.ID,
		Time:             f.Properties.Time,
		Magnitude:        f.Properties.Mag,
		PlaceDescription: f.Properties.Place,
	}
	coords := f.Geometry.Coordinates
	if len(coords) >= 2 {
		rec.Longitude = coords[0]
		rec.Latitude = coords[1]
	}
	if len(coords) >= 3 && coords[2] != nil {
		// Events above the datum report negative depths.
		depth := max(*coords[2], 0)
		rec.DepthKm = &depth
	}
	return rec
}
