package relay

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Counter defines the contract for counters.
type Counter interface {
	// Inc increments the counter by a delta.
	Inc(delta int64)
}

type NopCounter struct{}

var _ Counter = (*NopCounter)(nil)

func (*NopCounter) Inc(delta int64) {} //nolint:all

// Metric names known by the Sink.
const (
	MessagesSent           = "messages_sent"
	MessagesConsumed       = "messages_consumed"
	DeliveryFailures       = "delivery_failures"
	SuccessfulTransactions = "successful_transactions"
	FailedTransactions     = "failed_transactions"
	DroppedTicks           = "dropped_ticks"
	DeadLettered           = "dead_lettered"
	DecodeFaults           = "decode_faults"
	OutOfOrderCommits      = "out_of_order_commits"
	UnknownTickets         = "unknown_tickets"
	DuplicatesSkipped      = "duplicates_skipped"

	TransactionLatency = "transaction_latency_seconds"
	DeliveryLatency    = "delivery_latency_seconds"
)

var (
	// TransactionLatencyBuckets are the upper bounds of the processing latency
	// histogram.
	TransactionLatencyBuckets = []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5}

	// DeliveryLatencyBuckets are the upper bounds of the time elapsed between
	// Track and Resolve.
	DeliveryLatencyBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}
)

// catalogue maps every known metric name to its help text.
var catalogue = map[string]string{
	MessagesSent:           "Number of messages acknowledged by the broker",
	MessagesConsumed:       "Number of messages consumed from the broker",
	DeliveryFailures:       "Number of messages whose delivery failed",
	SuccessfulTransactions: "Number of successful transactions",
	FailedTransactions:     "Number of failed transactions",
	DroppedTicks:           "Number of producer ticks skipped because of backpressure",
	DeadLettered:           "Number of messages routed to the dead-letter sink",
	DecodeFaults:           "Number of payloads that could not be decoded",
	OutOfOrderCommits:      "Number of rejected commits",
	UnknownTickets:         "Number of delivery outcomes without a matching ticket",
	DuplicatesSkipped:      "Number of redelivered messages skipped by the consumer",
	TransactionLatency:     "Simulated latency for transaction processing (seconds)",
	DeliveryLatency:        "Time between submission and delivery outcome (seconds)",
}

// Help returns the description of a known metric.
func Help(name string) string {
	return catalogue[name]
}

// HistogramSnapshot is a point-in-time copy of a histogram. Counts are not
// cumulative: Counts[i] holds the observations in (Buckets[i-1], Buckets[i]]
// and the last element holds the observations above the last bound.
type HistogramSnapshot struct {
	Buckets []float64
	Counts  []uint64
	Count   uint64
	Sum     float64
}

// MetricsSnapshot is an immutable copy of the Sink state.
type MetricsSnapshot struct {
	Counters   map[string]int64
	Histograms map[string]HistogramSnapshot
	TakenAt    time.Time
}

type histogram struct {
	buckets []float64
	counts  []uint64
	count   uint64
	sum     float64
}

func (h *histogram) observe(v float64) {
	i := sort.SearchFloat64s(h.buckets, v)
	h.counts[i]++
	h.count++
	h.sum += v
}

// Sink accumulates counters and histograms. It is safe for concurrent use.
type Sink struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]*histogram
}

// NewSink creates an empty sink. Metrics must be registered before use.
func NewSink() *Sink {
	return &Sink{
		counters:   make(map[string]int64),
		histograms: make(map[string]*histogram),
	}
}

// RegisterCounter declares a counter. Registering twice is a no-op.
func (s *Sink) RegisterCounter(name string) error {
	if _, ok := catalogue[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[name]; !ok {
		s.counters[name] = 0
	}
	return nil
}

// RegisterHistogram declares a histogram with the given upper bounds.
func (s *Sink) RegisterHistogram(name string, buckets []float64) error {
	if _, ok := catalogue[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histograms[name]; !ok {
		s.histograms[name] = &histogram{buckets: b, counts: make([]uint64, len(b)+1)}
	}
	return nil
}

// RegisterDefaults registers the whole catalogue.
func (s *Sink) RegisterDefaults() error {
	for _, name := range []string{
		MessagesSent, MessagesConsumed, DeliveryFailures, SuccessfulTransactions,
		FailedTransactions, DroppedTicks, DeadLettered, DecodeFaults,
		OutOfOrderCommits, UnknownTickets, DuplicatesSkipped,
	} {
		if err := s.RegisterCounter(name); err != nil {
			return err
		}
	}
	if err := s.RegisterHistogram(TransactionLatency, TransactionLatencyBuckets); err != nil {
		return err
	}
	return s.RegisterHistogram(DeliveryLatency, DeliveryLatencyBuckets)
}

// Incr increments a registered counter. Unregistered names are ignored.
func (s *Sink) Incr(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.counters[name]; ok {
		s.counters[name] = v + 1
	}
}

// Observe records a value in a registered histogram. Negative values are
// recorded as zero, NaN is dropped.
func (s *Sink) Observe(name string, value float64) {
	if math.IsNaN(value) {
		return
	}
	if value < 0 {
		value = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		h.observe(value)
	}
}

// Snapshot copies the current state.
func (s *Sink) Snapshot() MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]int64, len(s.counters)),
		Histograms: make(map[string]HistogramSnapshot, len(s.histograms)),
		TakenAt:    time.Now(),
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	for k, h := range s.histograms {
		snap.Histograms[k] = HistogramSnapshot{
			Buckets: append([]float64(nil), h.buckets...),
			Counts:  append([]uint64(nil), h.counts...),
			Count:   h.count,
			Sum:     h.sum,
		}
	}
	return snap
}
