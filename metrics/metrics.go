// Package metrics exposes the balloon device state as a Prometheus
// collector.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nanovmm/balloond/virtio"
)

const namespace = "balloon"

// Source is the device read surface the collector scrapes.
type Source interface {
	Stats() virtio.StatsSnapshot
	NumPages() uint32
	Actual() uint32
}

// Collector turns the balloon stats snapshot and page counters into
// Prometheus metrics. Stat slots the guest has not reported are
// omitted from the scrape.
type Collector struct {
	src Source

	stats       [virtio.StatCount]*prometheus.Desc
	lastUpdate  *prometheus.Desc
	targetPages *prometheus.Desc
	actualPages *prometheus.Desc
}

// NewCollector builds a collector scraping src.
func NewCollector(src Source) *Collector {
	c := &Collector{
		src: src,
		lastUpdate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "stats", "last_update_seconds"),
			"Unix time of the most recent guest statistics buffer.",
			nil, nil),
		targetPages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "target_pages"),
			"Host-desired balloon target in 4 KiB pages.",
			nil, nil),
		actualPages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "actual_pages"),
			"Guest-acknowledged balloon size in 4 KiB pages.",
			nil, nil),
	}

	for tag, name := range virtio.StatNames {
		metric := strings.ReplaceAll(strings.TrimPrefix(name, "stat-"), "-", "_")
		c.stats[tag] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "guest", metric),
			"Guest-reported "+name+" value.",
			nil, nil)
	}

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.stats {
		ch <- d
	}

	ch <- c.lastUpdate
	ch <- c.targetPages
	ch <- c.actualPages
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Stats()

	for tag, v := range snap.Stats {
		if v == virtio.StatUnset {
			continue
		}

		ch <- prometheus.MustNewConstMetric(c.stats[tag], prometheus.GaugeValue, float64(v))
	}

	ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue, float64(snap.LastUpdate))
	ch <- prometheus.MustNewConstMetric(c.targetPages, prometheus.GaugeValue, float64(c.src.NumPages()))
	ch <- prometheus.MustNewConstMetric(c.actualPages, prometheus.GaugeValue, float64(c.src.Actual()))
}
