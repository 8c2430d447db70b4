// Package naturalearth loads populated places from the Natural Earth
// populated places dataset (GeoJSON).
package naturalearth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/quake-exposure/internal/config"
	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const (
	sourceName      = "naturalearth"
	defaultFileName = "ne_10m_populated_places_simple.geojson"
)

// Source downloads the places dataset, caches it on disk and filters it to
// large settlements in the configured countries.
type Source struct {
	url           string
	fileName      string
	minPopulation float64
	countries     map[string]bool // nil admits every country
	httpClient    *http.Client
	cache         *FileCache
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewSource creates a place source from the PLACES_* settings.
func NewSource(cfg *config.Config, cache *FileCache, metrics *observability.Metrics, logger *slog.Logger) *Source {
	var countries map[string]bool
	if cfg.PlacesCountries != nil {
		countries = make(map[string]bool, len(cfg.PlacesCountries))
		for _, c := range cfg.PlacesCountries {
			countries[c] = true
		}
	}
	return &Source{
		url:           cfg.PlacesURL,
		fileName:      cacheFileName(cfg.PlacesURL),
		minPopulation: cfg.PlacesMinPopulation,
		countries:     countries,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
	}
}

// LoadPlaces returns the filtered places, in dataset order. A fresh cache
// entry is used as-is; otherwise the dataset is downloaded, and a stale entry
// serves as the fallback if the download fails.
func (s *Source) LoadPlaces(ctx context.Context) ([]domain.Place, error) {
	data, fresh, err := s.cache.Get(s.fileName)
	if err != nil {
		s.logger.Warn("places cache unreadable", "error", err)
		data = nil
	}

	if data != nil && fresh {
		s.metrics.CacheLookups.WithLabelValues("places", "hit").Inc()
		return s.parse(data)
	}
	s.metrics.CacheLookups.WithLabelValues("places", "miss").Inc()

	body, dlErr := s.download(ctx)
	if dlErr != nil {
		if data == nil {
			return nil, dlErr
		}
		s.logger.Warn("places download failed, using stale cache", "error", dlErr)
		return s.parse(data)
	}

	places, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(s.fileName, body); err != nil {
		s.logger.Warn("places cache write failed", "error", err)
	}
	return places, nil
}

func (s *Source) download(ctx context.Context) ([]byte, error) {
	start := time.Now()
	defer func() {
		s.metrics.SourceDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	}()

	body, err := s.get(ctx)
	if err != nil {
		s.metrics.SourceRequests.WithLabelValues(sourceName, "error").Inc()
		return nil, err
	}
	s.metrics.SourceRequests.WithLabelValues(sourceName, "success").Inc()
	s.logger.Info("places dataset downloaded", "url", s.url, "bytes", len(body))
	return body, nil
}

func (s *Source) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("places download error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read places body: %w", err)
	}
	return body, nil
}

func (s *Source) parse(data []byte) ([]domain.Place, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: places dataset: %v", domain.ErrSchema, err)
	}

	places := make([]domain.Place, 0, len(fc.Features)/8)
	for i, f := range fc.Features {
		if !s.keep(f) {
			continue
		}
		p, err := domain.ParsePlaceRecord(i, placeRecord(f))
		if err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	return places, nil
}

func (s *Source) keep(f *geojson.Feature) bool {
	if f.Properties.MustFloat64("pop_max", 0) <= s.minPopulation {
		return false
	}
	return s.countries == nil || s.countries[f.Properties.MustString("adm0name", "")]
}

// placeRecord maps a Natural Earth feature to a place row. The GeoNames ID is
// the stable identifier; features without one fall back to country/name.
func placeRecord(f *geojson.Feature) domain.PlaceRecord {
	name := f.Properties.MustString("name", "")
	rec := domain.PlaceRecord{Name: name}

	if gid := f.Properties.MustFloat64("geonameid", 0); gid > 0 {
		rec.ID = "geonames:" + strconv.FormatInt(int64(gid), 10)
	} else if name != "" {
		rec.ID = f.Properties.MustString("adm0name", "") + "/" + name
	}

	if pt, ok := f.Geometry.(orb.Point); ok {
		lat, lon := pt.Lat(), pt.Lon()
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	pop := f.Properties.MustFloat64("pop_max", 0)
	rec.Population = &pop
	return rec
}

func cacheFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFileName
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return defaultFileName
	}
	return base
}
