package usgs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-exposure/internal/config"
	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var testNow = time.Date(2024, 1, 31, 8, 30, 0, 0, time.UTC)

const sampleFeed = `{
  "type": "FeatureCollection",
  "metadata": {"count": 3},
  "features": [
    {
      "type": "Feature",
      "id": "us6000m0xl",
      "properties": {"mag": 7.5, "place": "2024 Noto Peninsula, Japan Earthquake", "time": 1704093009476},
      "geometry": {"type": "Point", "coordinates": [137.271, 37.4874, 10]}
    },
    {
      "type": "Feature",
      "id": "us7000lsze",
      "properties": {"mag": 5.1, "place": "Bonin Islands, Japan region", "time": 1704200000000},
      "geometry": {"type": "Point", "coordinates": [142.1, 27.3, -1.2]}
    },
    {
      "type": "Feature",
      "id": "ci40000001",
      "properties": {"mag": 5.4, "place": "unknown depth", "time": 1704300000000},
      "geometry": {"type": "Point", "coordinates": [-117.5, 35.7, null]}
    }
  ]
}`

func testClient(baseURL string, metrics *observability.Metrics) *Client {
	cfg := &config.Config{
		USGSBaseURL:      baseURL,
		USGSDaysBack:     30,
		USGSMinMagnitude: 5,
		USGSTimeout:      5 * time.Second,
	}
	return NewClient(cfg, clockwork.NewFakeClockAt(testNow), metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_FetchEvents_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "geojson", q.Get("format"))
		assert.Equal(t, "2024-01-01T08:30:00", q.Get("starttime"))
		assert.Equal(t, "5", q.Get("minmagnitude"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	events, err := testClient(srv.URL, metrics).FetchEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)

	noto := events[0]
	assert.Equal(t, "us6000m0xl", noto.ID)
	assert.Equal(t, time.UnixMilli(1704093009476).UTC(), noto.Time)
	assert.Equal(t, 37.4874, noto.Latitude)
	assert.Equal(t, 137.271, noto.Longitude)
	assert.Equal(t, 7.5, noto.Magnitude)
	require.NotNil(t, noto.DepthKm)
	assert.Equal(t, 10.0, *noto.DepthKm)
	assert.Equal(t, "2024 Noto Peninsula, Japan Earthquake", noto.PlaceDescription)

	require.NotNil(t, events[1].DepthKm)
	assert.Zero(t, *events[1].DepthKm, "negative depth clamps to the surface")

	assert.Nil(t, events[2].DepthKm)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SourceRequests.WithLabelValues("usgs", "success")), 0)
}

func TestClient_FetchEvents_EmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	events, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClient_FetchEvents_MalformedFeature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":[
			{"id":"ok","properties":{"mag":6,"time":1704093009476},"geometry":{"coordinates":[1,2,3]}},
			{"id":"nomag","properties":{"mag":null,"time":1704093009476},"geometry":{"coordinates":[1,2,3]}}
		]}`))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	_, err := testClient(srv.URL, metrics).FetchEvents(context.Background())
	require.ErrorIs(t, err, domain.ErrSchema)

	var rerr *domain.RecordError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Index)
	assert.Equal(t, "nomag", rerr.ID)
	assert.Equal(t, "magnitude", rerr.Field)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SourceRequests.WithLabelValues("usgs", "error")), 0)
}

func TestClient_FetchEvents_MissingCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":[{"id":"nogeo","properties":{"mag":6,"time":1704093009476},"geometry":{"coordinates":[]}}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchEvents(context.Background())
	require.ErrorIs(t, err, domain.ErrSchema)
	assert.Contains(t, err.Error(), "field=latitude")
}

func TestClient_FetchEvents_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`Bad Request: starttime must be before endtime`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "starttime")
}

func TestClient_FetchEvents_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_FetchEvents_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL, observability.NewMetricsForTesting())
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.FetchEvents(context.Background())
	require.Error(t, err)
}
