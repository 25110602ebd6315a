package relay

import (
	"fmt"
	"time"
)

// Record is the domain unit flowing through the relay. Attribute values are
// always primitives: string, float64, bool or nil.
type Record struct {
	ID         string         // unique while the record is tracked
	Attributes map[string]any // named primitive attributes (e.g. "amount")
	ProducedAt time.Time      // creation time, UTC without monotonic reading
}

// NewRecord builds a record normalizing its attributes and timestamp.
func NewRecord(id string, attributes map[string]any, producedAt time.Time) (*Record, error) {
	attrs, err := Normalize(attributes)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:         id,
		Attributes: attrs,
		ProducedAt: producedAt.UTC().Round(0),
	}, nil
}

// Normalize returns a copy of the attributes where every numeric value is
// converted to float64. Non primitive values are rejected.
func Normalize(attributes map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(attributes))
	for k, v := range attributes {
		switch t := v.(type) {
		case nil, string, bool, float64:
			out[k] = t
		case float32:
			out[k] = float64(t)
		case int:
			out[k] = float64(t)
		case int8:
			out[k] = float64(t)
		case int16:
			out[k] = float64(t)
		case int32:
			out[k] = float64(t)
		case int64:
			out[k] = float64(t)
		case uint:
			out[k] = float64(t)
		case uint8:
			out[k] = float64(t)
		case uint16:
			out[k] = float64(t)
		case uint32:
			out[k] = float64(t)
		case uint64:
			out[k] = float64(t)
		default:
			return nil, fmt.Errorf("attribute %q has a non primitive value of type %T", k, v)
		}
	}
	return out, nil
}

// TicketID identifies a tracked record until its outcome is resolved.
type TicketID uint64

// InFlightEntry is owned by the Tracker from Track until Resolve.
type InFlightEntry struct {
	Ticket     TicketID
	Record     *Record
	Payload    []byte
	EnqueuedAt time.Time
	Attempt    int
}

// DeliveryOutcome is either a delivered or a failed outcome. Exactly one of
// both is reported per InFlightEntry.
type DeliveryOutcome struct {
	Delivered bool
	Partition int32
	Offset    int64
	Reason    error // why the delivery failed
	Retriable bool  // the broker considers the failure transient
}

// Delivered builds a successful outcome.
func Delivered(partition int32, offset int64) DeliveryOutcome {
	return DeliveryOutcome{Delivered: true, Partition: partition, Offset: offset}
}

// Failed builds a permanent failure outcome.
func Failed(reason error) DeliveryOutcome {
	return DeliveryOutcome{Reason: reason}
}

// FailedRetriable builds a failure outcome the producer may attempt again.
func FailedRetriable(reason error) DeliveryOutcome {
	return DeliveryOutcome{Reason: reason, Retriable: true}
}

func (o DeliveryOutcome) String() string {
	if o.Delivered {
		return fmt.Sprintf("delivered [%d] offset %d", o.Partition, o.Offset)
	}
	return fmt.Sprintf("failed: %v", o.Reason)
}

// OutboundMessage is handed to the broker-facing sender.
type OutboundMessage struct {
	Ticket  TicketID
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// RawMessage is a record received from the broker, not decoded yet.
type RawMessage struct {
	Topic     string
	Partition int32
	Position  int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Consumed is the outcome of a Consumer poll. Record is nil when the payload
// could not be decoded, in which case DecodeErr holds the reason.
type Consumed struct {
	Raw       *RawMessage
	Record    *Record
	DecodeErr error
}

// DeadLetter holds a message removed from the normal flow.
type DeadLetter struct {
	Topic     string
	Partition int32
	Position  int64
	Payload   []byte
	Reason    string
	At        time.Time
}
