package usgs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

// --- mock for cache tests ---

type countingFetcher struct {
	calls  int
	events []domain.Event
	err    error
}

func (m *countingFetcher) FetchEvents(_ context.Context) ([]domain.Event, error) {
	m.calls++
	return m.events, m.err
}

// --- CachedSource tests ---

func TestCachedSource_CacheHit(t *testing.T) {
	inner := &countingFetcher{events: []domain.Event{{ID: "a", Magnitude: 6}}}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedSource(inner, time.Minute, metrics)

	e1, err := cached.FetchEvents(context.Background())
	require.NoError(t, err)
	e2, err := cached.FetchEvents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, e1, e2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("events", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("events", "miss")), 0)
}

func TestCachedSource_CallerCannotMutateCache(t *testing.T) {
	inner := &countingFetcher{events: []domain.Event{{ID: "a", Magnitude: 6}}}
	cached := NewCachedSource(inner, time.Minute, observability.NewMetricsForTesting())

	first, err := cached.FetchEvents(context.Background())
	require.NoError(t, err)
	first[0].Magnitude = 9

	second, err := cached.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.0, second[0].Magnitude)
}

func TestCachedSource_ErrorsNotCached(t *testing.T) {
	inner := &countingFetcher{err: errors.New("upstream down")}
	cached := NewCachedSource(inner, time.Minute, observability.NewMetricsForTesting())

	_, err := cached.FetchEvents(context.Background())
	require.Error(t, err)

	inner.err = nil
	inner.events = []domain.Event{{ID: "b"}}
	events, err := cached.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedSource_Expires(t *testing.T) {
	inner := &countingFetcher{events: []domain.Event{{ID: "a"}}}
	cached := NewCachedSource(inner, 20*time.Millisecond, observability.NewMetricsForTesting())

	_, err := cached.FetchEvents(context.Background())
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = cached.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
