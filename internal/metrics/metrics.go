// Package metrics exports pipeline counters to Prometheus.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/netpcap/pkg/pipeline"
)

const namespace = "netpcap"

var (
	// CaptureFaultsTotal counts faults reported to error listeners, by kind.
	CaptureFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Total number of faults raised while processing frames",
		},
		[]string{"pipeline", "kind"},
	)

	// DispatchDurationSeconds measures how long one dispatch call blocks.
	DispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatch calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12), // 100µs to ~7min
		},
		[]string{"pipeline", "representation"},
	)
)

// FaultKind labels a fault for CaptureFaultsTotal.
func FaultKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrShortHeader):
		return "short_header"
	case errors.Is(err, pipeline.ErrCaptureFault):
		return "capture"
	default:
		return "other"
	}
}

// StatsSource is a pipeline whose counters are collected.
type StatsSource interface {
	Name() string
	ID() string
	Stats() pipeline.Stats
}

// Collector reads pipeline counters at scrape time.
type Collector struct {
	mu        sync.RWMutex
	pipelines map[string]StatsSource

	received    *prometheus.Desc
	delivered   *prometheus.Desc
	dropped     *prometheus.Desc
	dispatches  *prometheus.Desc
	errors      *prometheus.Desc
	interrupted *prometheus.Desc
	delay       *prometheus.Desc
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	labels := []string{"pipeline", "session"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pipeline", name), help, labels, nil)
	}
	return &Collector{
		pipelines:   make(map[string]StatsSource),
		received:    desc("frames_received_total", "Frames received from the capture source"),
		delivered:   desc("frames_delivered_total", "Frames delivered to the output, replicas included"),
		dropped:     desc("frames_dropped_total", "Frames dropped by pre-processors"),
		dispatches:  desc("dispatch_calls_total", "Dispatch calls made"),
		errors:      desc("dispatch_errors_total", "Dispatch calls that ended in a capture fault"),
		interrupted: desc("dispatch_interrupted_total", "Dispatch calls stopped early"),
		delay:       desc("delay_seconds_total", "Time spent in inter-frame delays"),
	}
}

// Add starts collecting p. A pipeline with the same session replaces it.
func (c *Collector) Add(p StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelines[p.ID()] = p
}

// Remove stops collecting the pipeline with session id.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pipelines, id)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.delivered
	ch <- c.dropped
	ch <- c.dispatches
	ch <- c.errors
	ch <- c.interrupted
	ch <- c.delay
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pipelines {
		st := p.Stats()
		lv := []string{p.Name(), p.ID()}
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, lv...)
		}
		counter(c.received, float64(st.Received))
		counter(c.delivered, float64(st.Delivered))
		counter(c.dropped, float64(st.Dropped))
		counter(c.dispatches, float64(st.Dispatches))
		counter(c.errors, float64(st.DispatchErrors))
		counter(c.interrupted, float64(st.Interrupted))
		counter(c.delay, st.Delay.Seconds())
	}
}
