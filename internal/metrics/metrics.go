// Package metrics provides Prometheus metrics for the protocol exchange path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matrixnode",
		Subsystem: "protocol",
		Name:      "commands_total",
		Help:      "Commands sent, labeled by opcode and response status",
	}, []string{"opcode", "status"})

	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "matrixnode",
		Subsystem: "protocol",
		Name:      "timeouts_total",
		Help:      "Commands that got no response within the response timeout",
	})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "matrixnode",
		Subsystem: "transport",
		Name:      "bytes_written_total",
		Help:      "Bytes written to the device link",
	})

	bytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "matrixnode",
		Subsystem: "transport",
		Name:      "bytes_read_total",
		Help:      "Bytes received from the device link",
	})

	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "matrixnode",
		Subsystem: "transport",
		Name:      "connected",
		Help:      "Whether a device link is currently open (1) or not (0)",
	})
)

// ObserveCommand records one completed command exchange.
func ObserveCommand(opcode, status string) {
	commandsTotal.WithLabelValues(opcode, status).Inc()
}

// ObserveTimeout records a command that timed out.
func ObserveTimeout() {
	timeoutsTotal.Inc()
}

// AddBytesWritten accumulates outbound link traffic.
func AddBytesWritten(n int) {
	bytesWritten.Add(float64(n))
}

// AddBytesRead accumulates inbound link traffic.
func AddBytesRead(n int) {
	bytesRead.Add(float64(n))
}

// SetConnected flips the link gauge.
func SetConnected(up bool) {
	if up {
		connected.Set(1)
	} else {
		connected.Set(0)
	}
}
