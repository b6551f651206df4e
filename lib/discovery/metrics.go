package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors registered against the default registry on
// import, mirroring the teacher's internal/db/metrics.go (domain packages
// own and account their own metrics rather than having a counter handed
// to them by main).
var (
	metricBroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "discovery", Name: "broadcasts_sent_total",
		Help: "Number of discovery broadcast echoes sent.",
	})
	metricEchoesSeen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "discovery", Name: "echoes_seen_total",
		Help: "Number of inbound echo-request and echo-reply frames observed.",
	})
	metricOnlinePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lcp", Subsystem: "discovery", Name: "online_peers",
		Help: "Peers currently classified online.",
	})
	metricOfflinePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lcp", Subsystem: "discovery", Name: "offline_peers",
		Help: "Peers currently classified offline but retained.",
	})
)
