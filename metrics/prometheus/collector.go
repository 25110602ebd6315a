package prometheus

import (
	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshotter is implemented by relay.Sink.
type Snapshotter interface {
	Snapshot() relay.MetricsSnapshot
}

// Collector renders the sink snapshot on every scrape. It does not describe
// its metrics up front because the set of registered names is only known at
// runtime, which makes it an unchecked collector.
type Collector struct {
	namespace string
	source    Snapshotter
	inFlight  func() int
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector. inFlight is optional and exposed as a
// gauge when given.
func NewCollector(namespace string, source Snapshotter, inFlight func() int) *Collector {
	if source == nil {
		panic("source is mandatory")
	}
	return &Collector{
		namespace: namespace,
		source:    source,
		inFlight:  inFlight,
	}
}

func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	for name, v := range snap.Counters {
		ch <- prometheus.MustNewConstMetric(c.desc(name+"_total", relay.Help(name)), prometheus.CounterValue, float64(v))
	}
	for name, h := range snap.Histograms {
		buckets := make(map[float64]uint64, len(h.Buckets))
		var cumulative uint64
		for i, upper := range h.Buckets {
			cumulative += h.Counts[i]
			buckets[upper] = cumulative
		}
		ch <- prometheus.MustNewConstHistogram(c.desc(name, relay.Help(name)), h.Count, h.Sum, buckets)
	}
	if c.inFlight != nil {
		ch <- prometheus.MustNewConstMetric(c.desc("in_flight", "Number of records waiting for a delivery outcome"), prometheus.GaugeValue, float64(c.inFlight()))
	}
}

func (c *Collector) desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "", name), help, nil, nil)
}
