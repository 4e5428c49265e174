package metrics

import (
	"context"
	"time"
)

// DefaultCollectInterval is how often registry gauges are refreshed
const DefaultCollectInterval = 15 * time.Second

// StatsSource reports registry sizes
type StatsSource interface {
	Stats() (mappings, active, entries int)
}

// Collector periodically copies registry sizes into the gauges
type Collector struct {
	source   StatsSource
	interval time.Duration
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		source:   source,
		interval: interval,
	}
}

// Serve collects immediately and then on every tick until ctx is done
func (c *Collector) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-ctx.Done():
			return nil
		}
	}
}

// Collect updates the registry gauges once
func (c *Collector) Collect() {
	mappings, active, entries := c.source.Stats()
	RegistryMappings.Set(float64(mappings))
	RegistryActiveContainers.Set(float64(active))
	RegistryEntries.Set(float64(entries))
}
