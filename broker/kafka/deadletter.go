package kafka

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/iancoleman/strcase"
)

// DeadLetterSink publishes undecodable messages to a dedicated topic and waits
// for the broker acknowledgment.
type DeadLetterSink struct {
	producer kafkaProducer
	logger   relay.Logger
}

var _ relay.DeadLetterSink = (*DeadLetterSink)(nil)
var _ relay.Loggable = (*DeadLetterSink)(nil)

func NewDeadLetterSink(p kafkaProducer) *DeadLetterSink {
	if p == nil || reflect.ValueOf(p).IsNil() {
		panic("Producer is mandatory")
	}
	return &DeadLetterSink{
		producer: p,
		logger:   &relay.NopLogger{},
	}
}

func (d *DeadLetterSink) SetLogger(l relay.Logger) {
	d.logger = l
}

func (d *DeadLetterSink) Put(ctx context.Context, dl *relay.DeadLetter) error {
	// a dedicated channel because it is used only for one Produce call
	internal := make(chan kafka.Event, 1)
	topic := buildTopicName(dl.Topic)
	err := d.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          dl.Payload,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(dl.Reason)},
			{Key: "sourceTopic", Value: []byte(dl.Topic)},
			{Key: "sourcePartition", Value: []byte(strconv.FormatInt(int64(dl.Partition), 10))},
			{Key: "sourcePosition", Value: []byte(strconv.FormatInt(dl.Position, 10))},
			{Key: "deadLetteredAt", Value: []byte(strconv.FormatInt(dl.At.UnixMilli(), 10))},
		},
	}, internal)
	if err != nil {
		return classify(err)
	}

	select {
	case ev := <-internal:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %s", ev)
		}
		if m.TopicPartition.Error != nil {
			return m.TopicPartition.Error
		}
		d.logger.Debug(fmt.Sprintf("Delivered dead letter to topic %s [%d] at offset %v",
			topic, m.TopicPartition.Partition, m.TopicPartition.Offset))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildTopicName builds the dead-letter topic of a source topic (e.g. if
// topic="test-topic" then the dead-letter topic is "test-topic-dead-letter").
func buildTopicName(topic string) string {
	return fmt.Sprintf("%s-dead-letter", strcase.ToKebab(topic))
}
