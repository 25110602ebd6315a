package kafka

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const flushTimeoutMs = 5000

// retriableCodes are the delivery errors worth another attempt. Delivery
// reports do not carry the retriable flag, so the code is checked as well.
var retriableCodes = map[kafka.ErrorCode]bool{
	kafka.ErrMsgTimedOut:                  true,
	kafka.ErrTimedOut:                     true,
	kafka.ErrTransport:                    true,
	kafka.ErrQueueFull:                    true,
	kafka.ErrLeaderNotAvailable:           true,
	kafka.ErrNotLeaderForPartition:        true,
	kafka.ErrRequestTimedOut:              true,
	kafka.ErrNetworkException:             true,
	kafka.ErrNotEnoughReplicas:            true,
	kafka.ErrNotEnoughReplicasAfterAppend: true,
}

// kafkaProducer is the subset of *kafka.Producer used by the sender.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// pending travels in kafka.Message.Opaque until the delivery report comes.
type pending struct {
	ticket relay.TicketID
	cb     relay.DeliveryCallback
}

// Sender implements relay.Sender on top of a confluent producer. Every
// delivery report is read from a single channel and routed to the callback of
// its message.
type Sender struct {
	producer   kafkaProducer
	deliveries chan kafka.Event
	logger     relay.Logger
	closeOnce  sync.Once
	done       chan struct{}
}

var _ relay.Sender = (*Sender)(nil)
var _ relay.Loggable = (*Sender)(nil)

func NewSender(p kafkaProducer) *Sender {
	if p == nil || reflect.ValueOf(p).IsNil() {
		panic("Producer is mandatory")
	}
	s := &Sender{
		producer:   p,
		deliveries: make(chan kafka.Event, 1024),
		logger:     &relay.NopLogger{},
		done:       make(chan struct{}),
	}
	go s.dispatch()
	return s
}

func (s *Sender) SetLogger(l relay.Logger) {
	s.logger = l
}

func (s *Sender) SendAsync(topic string, msg *relay.OutboundMessage, cb relay.DeliveryCallback) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Headers:        headers,
		Opaque:         &pending{ticket: msg.Ticket, cb: cb},
	}, s.deliveries)
	if err != nil {
		return classify(err)
	}
	return nil
}

// dispatch routes the delivery reports until the channel is closed.
func (s *Sender) dispatch() {
	defer close(s.done)
	for ev := range s.deliveries {
		m, ok := ev.(*kafka.Message)
		if !ok {
			s.logger.Debug(fmt.Sprintf("Ignored event: %s", ev))
			continue
		}
		p, ok := m.Opaque.(*pending)
		if !ok {
			s.logger.Warn("delivery report without ticket")
			continue
		}
		p.cb(p.ticket, outcome(m))
	}
	s.logger.Debug("the goroutine for delivery reports has finished")
}

// Close flushes the outstanding messages until ctx is done, for at most
// flushTimeoutMs, and closes the producer.
func (s *Sender) Close(ctx context.Context) error {
	var remaining int
	s.closeOnce.Do(func() {
		remaining = s.producer.Flush(flushTimeout(ctx))
		s.producer.Close()
		close(s.deliveries)
		<-s.done
	})
	if remaining > 0 {
		return fmt.Errorf("%d messages were not delivered before closing the producer", remaining)
	}
	return nil
}

func flushTimeout(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	if deadline, ok := ctx.Deadline(); ok {
		return int(max(0, min(time.Until(deadline).Milliseconds(), flushTimeoutMs)))
	}
	return flushTimeoutMs
}

func outcome(m *kafka.Message) relay.DeliveryOutcome {
	if err := m.TopicPartition.Error; err != nil {
		var kerr kafka.Error
		if errors.As(err, &kerr) && (kerr.IsRetriable() || retriableCodes[kerr.Code()]) {
			return relay.FailedRetriable(err)
		}
		return relay.Failed(err)
	}
	return relay.Delivered(m.TopicPartition.Partition, int64(m.TopicPartition.Offset))
}

// classify wraps the errors meaning that the client cannot talk to the
// cluster anymore.
func classify(err error) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) && (kerr.IsFatal() || kerr.Code() == kafka.ErrAllBrokersDown) {
		return fmt.Errorf("%w: %v", relay.ErrConnectionLost, err)
	}
	return err
}
