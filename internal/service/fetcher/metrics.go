package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"uk.co.dudmesh.tgingest/internal/model"
)

var (
	messagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgingest",
		Subsystem: "fetcher",
		Name:      "messages_total",
		Help:      "Messages delivered by the background fetcher.",
	}, []string{"channel"})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgingest",
		Subsystem: "fetcher",
		Name:      "failures_total",
		Help:      "Failed poll attempts.",
	}, []string{"channel"})

	fetcherStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tgingest",
		Subsystem: "fetcher",
		Name:      "status",
		Help:      "1 for the fetcher's current status, 0 otherwise.",
	}, []string{"status"})

	streamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tgingest",
		Name:      "stream_subscribers",
		Help:      "Listeners currently subscribed to fetcher events.",
	})
)

func observeStatus(status model.FetcherStatus) {
	for _, s := range model.FetcherStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		fetcherStatus.WithLabelValues(string(s)).Set(value)
	}
}
