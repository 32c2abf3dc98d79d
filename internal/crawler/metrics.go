package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	crawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscrawler",
			Name:      "crawl_pages_total",
			Help:      "Pages handled by the crawler by outcome",
		},
		[]string{"status"},
	)

	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscrawler",
			Name:      "crawls_total",
			Help:      "Finished source crawls by final status",
		},
		[]string{"status"},
	)
)
