package relay

import (
	"context"
	"time"
)

// DeliveryCallback receives the asynchronous outcome of a send.
type DeliveryCallback func(ticket TicketID, outcome DeliveryOutcome)

// Sender defines the contract for broker producers.
type Sender interface {
	// SendAsync submits the message to the topic and returns without waiting
	// for the acknowledgment. The callback must be invoked exactly once per
	// accepted message. A returned error means the message was not accepted
	// and the callback will not be invoked.
	SendAsync(topic string, msg *OutboundMessage, cb DeliveryCallback) error

	// Close releases the sender, waiting for pending messages until ctx is
	// done. Messages still pending after that may be lost.
	Close(ctx context.Context) error
}

// Receiver defines the contract for broker consumers.
type Receiver interface {
	// Poll blocks up to timeout. It returns a nil message and a nil error on
	// timeout. Errors wrapping ErrConnectionLost are fatal.
	Poll(timeout time.Duration) (*RawMessage, error)

	// CommitOffset persists the last processed position of a partition.
	CommitOffset(partition int32, position int64) error

	Close() error
}

// Codec serializes records to their wire format.
type Codec interface {
	Encode(*Record) ([]byte, error)
	// Decode must wrap every validation fault with ErrMalformedPayload.
	Decode([]byte) (*Record, error)
}

// CursorStore keeps the committed cursors out of the process so a restarted
// consumer can resume from them.
type CursorStore interface {
	// LoadCursor returns the last committed position of a partition. found is
	// false when nothing was ever committed.
	LoadCursor(ctx context.Context, topic string, partition int32) (position int64, found bool, err error)

	// SaveCursor stores the position. Implementations never move a stored
	// cursor backwards.
	SaveCursor(ctx context.Context, topic string, partition int32, position int64) error
}

// DeadLetterSink receives messages that cannot be processed.
type DeadLetterSink interface {
	Put(ctx context.Context, dl *DeadLetter) error
}

// Exposer publishes the metrics to the outside (e.g. an HTTP endpoint).
type Exposer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type NopDeadLetterSink struct{}

var _ DeadLetterSink = (*NopDeadLetterSink)(nil)

func (*NopDeadLetterSink) Put(ctx context.Context, dl *DeadLetter) error { return nil } //nolint:all
