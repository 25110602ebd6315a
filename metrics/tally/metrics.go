package tally

import (
	"io"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/prometheus/client_golang/prometheus"
	tally "github.com/uber-go/tally/v4"
	promreporter "github.com/uber-go/tally/v4/prometheus"
)

// Counter adapts a tally counter to relay.Counter.
type Counter struct {
	Counter tally.Counter
}

var _ relay.Counter = (*Counter)(nil)

func (c *Counter) Inc(delta int64) {
	c.Counter.Inc(delta)
}

// NewPrometheusScope creates a root scope reported through the given
// registerer. The returned closer flushes and stops the reporting loop.
func NewPrometheusScope(prefix string, registerer prometheus.Registerer) (tally.Scope, io.Closer) {
	reporter := promreporter.NewReporter(promreporter.Options{
		Registerer: registerer,
	})
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:         prefix,
		CachedReporter: reporter,
		Separator:      promreporter.DefaultSeparator,
	}, time.Second)
}

// DeliveryCounters returns the counters mirroring delivered and failed
// outcomes, in the order expected by relay.WithCounters.
func DeliveryCounters(scope tally.Scope) (*Counter, *Counter) {
	return &Counter{Counter: scope.Counter("delivered")}, &Counter{Counter: scope.Counter("delivery_failed")}
}
