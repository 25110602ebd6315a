package test

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	tally "github.com/uber-go/tally/v4"
)

type MockedTallyCounter struct {
	Ctr    int64
	Output chan int64
}

var _ tally.Counter = (*MockedTallyCounter)(nil)

func (c *MockedTallyCounter) Inc(delta int64) {
	c.Ctr += delta
	c.Output <- c.Ctr
}

// MockedKafkaProducer acknowledges every produced message on the given
// delivery channel. The report copies the produced message (Opaque included)
// and carries ReportError, if any.
type MockedKafkaProducer struct {
	MockedReportToSend kafka.Event // sent instead of the generated report
	Snitch             chan *kafka.Message
	RetVal             error
	ReportError        error
	Hold               bool // keeps the reports until Release is called
	Remaining          int  // returned by Flush

	mu       sync.Mutex
	flushed  []int
	offset   int64
	held     []heldReport
	produced []*kafka.Message
	closed   bool
}

type heldReport struct {
	ev kafka.Event
	ch chan kafka.Event
}

func (p *MockedKafkaProducer) Produce(msg *kafka.Message, internal chan kafka.Event) error {
	if p.RetVal != nil {
		return p.RetVal
	}
	// send the message to the outside in order to assert it.
	if p.Snitch != nil {
		p.Snitch <- msg
	}

	p.mu.Lock()
	p.produced = append(p.produced, msg)
	var ev kafka.Event = p.MockedReportToSend
	if ev == nil {
		report := *msg
		report.TopicPartition.Partition = 0
		report.TopicPartition.Offset = kafka.Offset(p.offset)
		report.TopicPartition.Error = p.ReportError
		p.offset++
		ev = &report
	}
	if p.Hold {
		p.held = append(p.held, heldReport{ev: ev, ch: internal})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// send the delivery report to the delivery channel.
	internal <- ev
	return nil
}

// Release sends the held delivery reports.
func (p *MockedKafkaProducer) Release() {
	p.mu.Lock()
	held := p.held
	p.held = nil
	p.mu.Unlock()
	for _, h := range held {
		h.ch <- h.ev
	}
}

func (p *MockedKafkaProducer) Flush(timeoutMs int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = append(p.flushed, timeoutMs)
	return p.Remaining
}

// FlushTimeouts returns the timeouts given to Flush.
func (p *MockedKafkaProducer) FlushTimeouts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.flushed...)
}

func (p *MockedKafkaProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *MockedKafkaProducer) Produced() []*kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kafka.Message(nil), p.produced...)
}

func (p *MockedKafkaProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MockedKafkaConsumer returns Events in order from Poll and nil once they are
// exhausted.
type MockedKafkaConsumer struct {
	Events    []kafka.Event
	CommitErr error
	CloseErr  error

	mu        sync.Mutex
	committed []kafka.TopicPartition
	closed    bool
}

func (c *MockedKafkaConsumer) Poll(int) kafka.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Events) == 0 {
		return nil
	}
	ev := c.Events[0]
	c.Events = c.Events[1:]
	return ev
}

func (c *MockedKafkaConsumer) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	if c.CommitErr != nil {
		return nil, c.CommitErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, offsets...)
	return offsets, nil
}

func (c *MockedKafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("consumer already closed")
	}
	c.closed = true
	return c.CloseErr
}

func (c *MockedKafkaConsumer) Committed() []kafka.TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]kafka.TopicPartition(nil), c.committed...)
}

type MockedKafkaEvent struct{}

func (*MockedKafkaEvent) String() string {
	return "mock"
}

// TestLogger records every entry, it satisfies relay.Logger.
type TestLogger struct {
	mu      sync.Mutex
	Entries []string
}

func (l *TestLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, level+": "+msg)
}

func (l *TestLogger) Info(msg string)  { l.add("info", msg) }
func (l *TestLogger) Debug(msg string) { l.add("debug", msg) }
func (l *TestLogger) Warn(msg string)  { l.add("warn", msg) }
func (l *TestLogger) Error(msg string, err error) {
	l.add("error", msg+": "+fmt.Sprint(err))
}

// Count returns the number of entries logged at level.
func (l *TestLogger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if strings.HasPrefix(e, level+": ") {
			n++
		}
	}
	return n
}
