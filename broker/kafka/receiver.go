package kafka

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// kafkaConsumer is the subset of *kafka.Consumer used by the receiver.
type kafkaConsumer interface {
	Poll(timeoutMs int) kafka.Event
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

// Receiver implements relay.Receiver on top of a confluent consumer. Offsets
// are committed explicitly, the consumer must be created with
// "enable.auto.commit" set to false.
type Receiver struct {
	consumer kafkaConsumer
	topic    string
	store    relay.CursorStore
	logger   relay.Logger
}

var _ relay.Receiver = (*Receiver)(nil)
var _ relay.Loggable = (*Receiver)(nil)

func NewReceiver(c kafkaConsumer, topic string) *Receiver {
	if c == nil || reflect.ValueOf(c).IsNil() {
		panic("Consumer is mandatory")
	}
	if topic == "" {
		panic("topic is mandatory")
	}
	return &Receiver{
		consumer: c,
		topic:    topic,
		logger:   &relay.NopLogger{},
	}
}

func (r *Receiver) SetLogger(l relay.Logger) {
	r.logger = l
}

// Subscribe subscribes the consumer to the receiver topic. When a cursor store
// is given, assigned partitions start right after their stored cursor.
func (r *Receiver) Subscribe(c *kafka.Consumer, store relay.CursorStore) error {
	r.store = store
	return c.SubscribeTopics([]string{r.topic}, r.rebalance)
}

func (r *Receiver) rebalance(c *kafka.Consumer, ev kafka.Event) error {
	switch e := ev.(type) {
	case kafka.AssignedPartitions:
		partitions := r.seek(e.Partitions)
		r.logger.Info(fmt.Sprintf("%d partitions assigned", len(partitions)))
		return c.Assign(partitions)
	case kafka.RevokedPartitions:
		r.logger.Info(fmt.Sprintf("%d partitions revoked", len(e.Partitions)))
		return c.Unassign()
	}
	return nil
}

// seek sets the starting offset of the partitions that have a stored cursor.
func (r *Receiver) seek(partitions []kafka.TopicPartition) []kafka.TopicPartition {
	if r.store == nil {
		return partitions
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i, tp := range partitions {
		position, found, err := r.store.LoadCursor(ctx, r.topic, tp.Partition)
		if err != nil {
			r.logger.Error(fmt.Sprintf("loading cursor of partition %d", tp.Partition), err)
			continue
		}
		if found {
			partitions[i].Offset = kafka.Offset(position + 1)
		}
	}
	return partitions
}

func (r *Receiver) Poll(timeout time.Duration) (*relay.RawMessage, error) {
	ev := r.consumer.Poll(int(timeout.Milliseconds()))
	switch e := ev.(type) {
	case nil:
		return nil, nil
	case *kafka.Message:
		if e.TopicPartition.Error != nil {
			return nil, classify(e.TopicPartition.Error)
		}
		topic := r.topic
		if e.TopicPartition.Topic != nil {
			topic = *e.TopicPartition.Topic
		}
		return &relay.RawMessage{
			Topic:     topic,
			Partition: e.TopicPartition.Partition,
			Position:  int64(e.TopicPartition.Offset),
			Key:       e.Key,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		}, nil
	case kafka.PartitionEOF:
		r.logger.Debug(fmt.Sprintf("End of partition %s [%d]", r.topic, e.Partition))
		return nil, nil
	case kafka.Error:
		if err := classify(e); errors.Is(err, relay.ErrConnectionLost) {
			return nil, err
		}
		return nil, e
	default:
		r.logger.Debug(fmt.Sprintf("Ignored event: %s", ev))
		return nil, nil
	}
}

// CommitOffset commits the offset following position, which is the next
// message the group will read.
func (r *Receiver) CommitOffset(partition int32, position int64) error {
	_, err := r.consumer.CommitOffsets([]kafka.TopicPartition{{
		Topic:     &r.topic,
		Partition: partition,
		Offset:    kafka.Offset(position + 1),
	}})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (r *Receiver) Close() error {
	return r.consumer.Close()
}
