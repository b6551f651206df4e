// Package metrics serves the Prometheus collectors the domain packages
// register against the default registry (lib/discovery/metrics.go,
// lib/messaging/metrics.go), the way the teacher's cmd/stcrashreceiver
// mounts promhttp.Handler() directly rather than threading a counter
// struct through the call stack.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves every registered collector in the Prometheus exposition
// format.
func Handler() http.Handler {
	return promhttp.Handler()
}
