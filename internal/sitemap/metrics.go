package sitemap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	discoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscrawler",
			Name:      "discovery_total",
			Help:      "Sitemap discovery runs by the tier that produced results",
		},
		[]string{"tier"},
	)

	sitemapFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscrawler",
			Name:      "sitemap_fetches_total",
			Help:      "Sitemap fetch attempts by result",
		},
		[]string{"result"},
	)

	sitemapEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docscrawler",
			Name:      "sitemap_entries_total",
			Help:      "Entries returned by sitemap processing after deduplication",
		},
	)
)
