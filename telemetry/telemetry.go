package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "holding_cdc"

type Counter interface {
	Inc()
	Add(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type NoopStat struct{}

func (NoopStat) Inc()        {}
func (NoopStat) Add(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

var registry *prometheus.Registry

var (
	// EnvelopesTotal counts decoded envelopes by operation.
	EnvelopesTotal CounterVec = noopCounterVec{}

	// RecordsTotal counts emitted records by operation.
	RecordsTotal CounterVec = noopCounterVec{}
)

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)

	registry.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

// Initialize creates the registry and replaces the no-op counters. Without
// it every counter stays a no-op.
func Initialize() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	EnvelopesTotal = NewCounterVec("envelopes_total", "Decoded CDC envelopes by operation", []string{"op"})
	RecordsTotal = NewCounterVec("records_total", "Emitted change records by operation", []string{"op"})
}

// Handler returns the /metrics handler, or nil before Initialize.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
