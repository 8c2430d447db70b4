package usgs

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const eventsKey = "events"

// EventFetcher is anything that can produce a batch of events.
type EventFetcher interface {
	FetchEvents(ctx context.Context) ([]domain.Event, error)
}

// CachedSource wraps an EventFetcher with a TTL cache so that frequent
// scoring cycles do not hammer the upstream feed.
type CachedSource struct {
	inner   EventFetcher
	cache   *cache.Cache
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around an event fetcher.
func NewCachedSource(inner EventFetcher, ttl time.Duration, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   cache.New(ttl, 2*ttl),
		metrics: metrics,
	}
}

func (c *CachedSource) FetchEvents(ctx context.Context) ([]domain.Event, error) {
	if v, ok := c.cache.Get(eventsKey); ok {
		c.metrics.CacheLookups.WithLabelValues("events", "hit").Inc()
		return slices.Clone(v.([]domain.Event)), nil
	}
	c.metrics.CacheLookups.WithLabelValues("events", "miss").Inc()

	events, err := c.inner.FetchEvents(ctx)
	if err != nil {
		return nil, err
	}
	// Failures are never cached so the next cycle retries upstream.
	c.cache.Set(eventsKey, slices.Clone(events), cache.DefaultExpiration)
	return events, nil
}
