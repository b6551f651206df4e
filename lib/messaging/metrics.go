package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors registered against the default registry on
// import, mirroring the teacher's internal/db/metrics.go (domain packages
// own and account their own metrics rather than having a counter handed
// to them by main).
var (
	metricMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "messages_sent_total",
		Help: "Text messages successfully delivered.",
	})
	metricMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "messages_received_total",
		Help: "Text messages accepted from the receive loop.",
	})
	metricAckTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "ack_timeouts_total",
		Help: "Send attempts that exhausted all retries without an ACK.",
	})
	metricFilesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "files_sent_total",
		Help: "File transfers completed as sender.",
	})
	metricFilesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "files_received_total",
		Help: "File transfers completed as receiver.",
	})
	metricFileBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "file_bytes_sent_total",
		Help: "Bytes streamed as a file sender.",
	})
	metricFileBytesRecv = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lcp", Subsystem: "messaging", Name: "file_bytes_received_total",
		Help: "Bytes streamed as a file receiver.",
	})
)
