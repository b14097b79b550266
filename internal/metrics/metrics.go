// Package metrics collects Prometheus metrics for Sirius calls and pushes.
// The registry is written to a node-exporter textfile when a run exits.
package metrics

import (
	"fmt"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"

	"github.com/athera-io/athera-sync/internal/sirius"
)

const namespace = "athera_sync"

// Transfer holds the collectors of one run on a private registry. It
// implements sirius.Observer and push.Observer.
type Transfer struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	files        *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Transfer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Transfer{
		registry: reg,
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sirius_calls_total",
				Help:      "Sirius calls by method and final status code.",
			},
			[]string{"method", "code"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sirius_call_duration_seconds",
				Help:      "Sirius call duration from open to final status.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"method"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transferred_bytes_total",
				Help:      "File content bytes moved, by direction.",
			},
			[]string{"direction"},
		),
		files: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushed_files_total",
				Help:      "Files handled by push, by result.",
			},
			[]string{"result"},
		),
	}
}

// Registry returns the registry holding every collector.
func (t *Transfer) Registry() *prometheus.Registry {
	return t.registry
}

// CallFinished implements sirius.Observer. method is the full gRPC method
// name; only its last element is used as the label.
func (t *Transfer) CallFinished(method string, code codes.Code, elapsed time.Duration) {
	name := path.Base(method)

	t.calls.WithLabelValues(name, code.String()).Inc()
	t.callDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// BytesTransferred implements sirius.Observer.
func (t *Transfer) BytesTransferred(dir sirius.Direction, n int64) {
	t.bytes.WithLabelValues(string(dir)).Add(float64(n))
}

// FilePushed implements push.Observer.
func (t *Transfer) FilePushed(result string) {
	t.files.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry to filename in the text exposition
// format. The file is replaced atomically.
func (t *Transfer) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, t.registry); err != nil {
		return fmt.Errorf("metrics: writing %s: %w", filename, err)
	}

	return nil
}
