// Package metrics wraps prometheus/client_golang, mirroring aistore's
// cluster-wide stats registry but scoped per Context. Registration is
// optional; every method on a nil *Registry is a no-op so the core never
// pays for metrics it wasn't asked to collect.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// WriterState labels the async writer's state-machine transitions: idle,
// spinning, draining, issuing, flushing, exiting.
type WriterState string

const (
	StateIdle     WriterState = "idle"
	StateSpinning WriterState = "spinning"
	StateDraining WriterState = "draining"
	StateIssuing  WriterState = "issuing"
	StateFlushing WriterState = "flushing"
	StateExiting  WriterState = "exiting"
)

type Registry struct {
	reg *prometheus.Registry

	QueueDepth    *prometheus.GaugeVec
	BufferUse     prometheus.Gauge
	WriterState   *prometheus.CounterVec
	PutToDrain    *prometheus.HistogramVec
}

// NewRegistry builds a fresh Registry and registers its collectors against
// a private prometheus.Registry (never the global default registerer, so
// multiple Contexts in one process - as in this module's own test suite -
// never collide on metric names).
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smiol",
			Name:      "queue_depth",
			Help:      "Number of pending async write descriptors per file.",
		}, []string{"file"}),
		BufferUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smiol",
			Name:      "backend_buffer_use_bytes",
			Help:      "Projected maximum pinned backend buffer usage across I/O tasks.",
		}),
		WriterState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smiol",
			Name:      "writer_state_transitions_total",
			Help:      "Count of writer thread state-machine transitions.",
		}, []string{"file", "state"}),
		PutToDrain: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smiol",
			Name:      "put_to_drain_seconds",
			Help:      "Latency from put_var enqueue to backend drain.",
		}, []string{"file"}),
	}
	r.reg.MustRegister(r.QueueDepth, r.BufferUse, r.WriterState, r.PutToDrain)
	return r
}

func (r *Registry) SetQueueDepth(file string, n int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(file).Set(float64(n))
}

func (r *Registry) SetBufferUse(n int64) {
	if r == nil {
		return
	}
	r.BufferUse.Set(float64(n))
}

func (r *Registry) RecordState(file string, s WriterState) {
	if r == nil {
		return
	}
	r.WriterState.WithLabelValues(file, string(s)).Inc()
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.reg
}
