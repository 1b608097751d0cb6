// Package metrics exposes queue depth, pool health, and warm-path churn as
// Prometheus metrics, collected from storage at scrape time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intronet/warmpath/internal/storage"
)

// DepthStore abstracts the operational counts the collector reads.
type DepthStore interface {
	EnrichmentQueueDepth() (map[string]int, error)
	OutreachQueueDepth() (map[string]int, error)
	GetPoolHealth() (storage.PoolHealth, error)
}

var (
	enrichmentDepthDesc = prometheus.NewDesc(
		"warmpath_enrichment_jobs",
		"Enrichment jobs by status.",
		[]string{"status"}, nil)
	outreachDepthDesc = prometheus.NewDesc(
		"warmpath_outreach_jobs",
		"Outreach jobs by status.",
		[]string{"status"}, nil)
	poolHealthDesc = prometheus.NewDesc(
		"warmpath_scraper_accounts",
		"Scraper pool accounts by status.",
		[]string{"status"}, nil)
)

// Collector reads depths from storage on every scrape. No cached state, so
// the exposed numbers are never stale.
type Collector struct {
	store DepthStore
}

func NewCollector(store DepthStore) *Collector {
	return &Collector{store: store}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- enrichmentDepthDesc
	ch <- outreachDepthDesc
	ch <- poolHealthDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if depth, err := c.store.EnrichmentQueueDepth(); err == nil {
		for status, n := range depth {
			ch <- prometheus.MustNewConstMetric(
				enrichmentDepthDesc, prometheus.GaugeValue, float64(n), status)
		}
	}
	if depth, err := c.store.OutreachQueueDepth(); err == nil {
		for status, n := range depth {
			ch <- prometheus.MustNewConstMetric(
				outreachDepthDesc, prometheus.GaugeValue, float64(n), status)
		}
	}
	if h, err := c.store.GetPoolHealth(); err == nil {
		for status, n := range map[string]int{
			storage.AccountAging:   h.Aging,
			storage.AccountActive:  h.Active,
			storage.AccountWarned:  h.Warned,
			storage.AccountBanned:  h.Banned,
			storage.AccountRetired: h.Retired,
		} {
			ch <- prometheus.MustNewConstMetric(
				poolHealthDesc, prometheus.GaugeValue, float64(n), status)
		}
	}
}

// Handler returns a /metrics handler backed by a fresh registry holding the
// storage collector plus the default Go runtime collectors.
func Handler(store DepthStore) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(store),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
