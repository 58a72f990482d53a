package providers

import (
	"context"
	"fmt"
	"time"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// CachedDataPointProvider keeps readings for a short TTL and collapses
// concurrent lookups of the same point into one upstream call. Errors are
// never cached.
type CachedDataPointProvider struct {
	inner   DataPointProvider
	cache   common.CacheInterface
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.MetricsRegistry
}

var _ DataPointProvider = (*CachedDataPointProvider)(nil)

func NewCachedDataPointProvider(inner DataPointProvider, cache common.CacheInterface, ttl time.Duration, m *metrics.MetricsRegistry) *CachedDataPointProvider {
	return &CachedDataPointProvider{inner: inner, cache: cache, ttl: ttl, metrics: m}
}

func (p *CachedDataPointProvider) GetProviderType() string {
	return "cached_" + p.inner.GetProviderType()
}

func (p *CachedDataPointProvider) CurrentValue(ctx context.Context, tenantID, dataPointID int64) (Reading, error) {
	key := cacheKey(dataPointID)
	if v, ok := p.cache.Get(key); ok {
		if r, ok := v.(Reading); ok {
			p.count(true)
			return r, nil
		}
	}
	p.count(false)

	v, err, _ := p.group.Do(key, func() (any, error) {
		r, err := p.inner.CurrentValue(ctx, tenantID, dataPointID)
		if err != nil {
			return nil, err
		}
		p.cache.Set(key, r, p.ttl)
		return r, nil
	})
	if err != nil {
		return Reading{}, err
	}
	return v.(Reading), nil
}

// Invalidate drops a cached reading, e.g. when a change notification arrives.
// Data point ids are unique across tenants.
func (p *CachedDataPointProvider) Invalidate(dataPointID int64) {
	p.cache.Delete(cacheKey(dataPointID))
}

func cacheKey(dataPointID int64) string {
	return fmt.Sprintf("%s%d", constants.CachePrefixDataPoint, dataPointID)
}

func (p *CachedDataPointProvider) count(hit bool) {
	if p.metrics == nil {
		return
	}
	if hit {
		p.metrics.CacheHitsTotal.WithLabelValues("datapoint").Inc()
	} else {
		p.metrics.CacheMissesTotal.WithLabelValues("datapoint").Inc()
	}
}
