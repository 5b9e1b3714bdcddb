package service

import (
	"context"

	"github.com/mhsanaei/xray-daemon/caching"
	"github.com/mhsanaei/xray-daemon/xray"
)

const inboundStatsKey = "inbound_stats"

// InboundTagLister lists the inbounds that have accounts.
type InboundTagLister interface {
	GetInboundTags() ([]string, error)
}

// InboundTrafficReader reads inbound-level counters.
type InboundTrafficReader interface {
	GetInboundTraffic(ctx context.Context, inboundTag string, reset bool) xray.TrafficSample
}

// InboundStats is the traffic of one inbound. A leg is nil when it could
// not be read.
type InboundStats struct {
	InboundTag string `json:"inboundTag"`
	Uplink     *int64 `json:"uplink"`
	Downlink   *int64 `json:"downlink"`
}

// StatsService reports per-inbound traffic. Results are cached briefly so
// polling clients do not hammer the xray API.
type StatsService struct {
	tags  InboundTagLister
	api   InboundTrafficReader
	cache *caching.Cache
}

func NewStatsService(tags InboundTagLister, api InboundTrafficReader, cache *caching.Cache) *StatsService {
	if cache == nil {
		cache = caching.NewCache(0)
	}
	return &StatsService{tags: tags, api: api, cache: cache}
}

func (s *StatsService) GetInboundStats(ctx context.Context) ([]InboundStats, error) {
	if cached, ok := s.cache.Get(inboundStatsKey); ok {
		return cached.([]InboundStats), nil
	}

	tags, err := s.tags.GetInboundTags()
	if err != nil {
		return nil, err
	}
	stats := make([]InboundStats, 0, len(tags))
	for _, tag := range tags {
		sample := s.api.GetInboundTraffic(ctx, tag, false)
		stats = append(stats, InboundStats{
			InboundTag: tag,
			Uplink:     legValue(sample.Uplink),
			Downlink:   legValue(sample.Downlink),
		})
	}
	s.cache.Set(inboundStatsKey, stats)
	return stats, nil
}

func legValue(c xray.Counter) *int64 {
	if c.OK() || c.Missing() {
		v := c.ValueOr(0)
		return &v
	}
	return nil
}
