package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProducer(s Settings, sender Sender) *Producer {
	validateSettings(&s)
	sink := registeredSink()
	return &Producer{
		settings:  s,
		sender:    sender,
		codec:     newFakeCodec(),
		tracker:   NewTracker(s.MaxInFlight, sink, nil),
		generator: NewTransactionGenerator(1),
		sink:      sink,
		logger:    &NopLogger{},
	}
}

func TestProducer_Send(t *testing.T) {
	sender := newFakeSender()
	p := newTestProducer(Settings{Topic: "payments"}, sender)

	r := p.Generate()
	ticket, err := p.Send(context.Background(), r)
	require.NoError(t, err)

	// the send does not wait for the delivery outcome
	assert.Equal(t, 1, p.tracker.PendingCount())
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, ticket, msg.Ticket)
	assert.Equal(t, []byte(r.ID), msg.Key)
	assert.Equal(t, []byte("record:"+r.ID), msg.Value)
	assert.Equal(t, r.ID, msg.Headers["id"])
	assert.Equal(t, "1", msg.Headers["attempt"])

	assert.Equal(t, 1, sender.resolveAll(Delivered(0, 7)))
	assert.Equal(t, 0, p.tracker.PendingCount())
	assert.Equal(t, int64(1), counter(p.sink, MessagesSent))
}

func TestProducer_Send_errors(t *testing.T) {
	testcases := []struct {
		name         string
		record       *Record
		sendErr      error
		wantErr      error
		wantFailures int64
	}{
		{
			name:    "record that cannot be encoded",
			record:  &Record{},
			wantErr: nil,
		},
		{
			name:         "sender refuses the message",
			record:       record("A"),
			sendErr:      errors.New("queue full"),
			wantFailures: 1,
		},
		{
			name:         "connection lost",
			record:       record("A"),
			sendErr:      ErrConnectionLost,
			wantErr:      ErrConnectionLost,
			wantFailures: 1,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			sender := newFakeSender()
			sender.err = tc.sendErr
			p := newTestProducer(Settings{}, sender)

			_, err := p.Send(context.Background(), tc.record)
			assert.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, 0, p.tracker.PendingCount())
			assert.Equal(t, tc.wantFailures, counter(p.sink, DeliveryFailures))
		})
	}
}

func TestProducer_Send_overloaded(t *testing.T) {
	sender := newFakeSender()
	p := newTestProducer(Settings{MaxInFlight: 1, BackpressureTimeout: 30 * time.Millisecond}, sender)

	_, err := p.Send(context.Background(), record("A"))
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Send(context.Background(), record("B"))
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 1, p.tracker.PendingCount())
	sender.resolveAll(Delivered(0, 0))
}

func TestProducer_Send_waitsForCapacity(t *testing.T) {
	sender := newFakeSender()
	p := newTestProducer(Settings{MaxInFlight: 1, BackpressureTimeout: 5 * time.Second}, sender)

	_, err := p.Send(context.Background(), record("A"))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sender.resolveAll(Delivered(0, 0))
	}()
	start := time.Now()
	_, err = p.Send(context.Background(), record("B"))
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, p.tracker.PendingCount())
	sender.resolveAll(Delivered(0, 1))
}

func TestProducer_Send_cancelledWhileWaiting(t *testing.T) {
	sender := newFakeSender()
	p := newTestProducer(Settings{MaxInFlight: 1, BackpressureTimeout: 5 * time.Second}, sender)

	_, err := p.Send(context.Background(), record("A"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Send(ctx, record("B"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	sender.resolveAll(Delivered(0, 0))
}

func TestProducer_OnDelivery_retries(t *testing.T) {
	transient := errors.New("leader not available")
	testcases := []struct {
		name          string
		maxAttempts   int
		outcomes      []DeliveryOutcome
		wantSent      int
		wantDelivered int64
		wantFailures  int64
	}{
		{
			name:          "retriable failure is sent again",
			maxAttempts:   3,
			outcomes:      []DeliveryOutcome{FailedRetriable(transient), FailedRetriable(transient), Delivered(0, 1)},
			wantSent:      3,
			wantDelivered: 1,
		},
		{
			name:         "attempts are bounded",
			maxAttempts:  2,
			outcomes:     []DeliveryOutcome{FailedRetriable(transient), FailedRetriable(transient)},
			wantSent:     2,
			wantFailures: 1,
		},
		{
			name:         "permanent failure is not retried",
			maxAttempts:  3,
			outcomes:     []DeliveryOutcome{Failed(errors.New("message too large"))},
			wantSent:     1,
			wantFailures: 1,
		},
		{
			name:         "single attempt by default",
			outcomes:     []DeliveryOutcome{FailedRetriable(transient)},
			wantSent:     1,
			wantFailures: 1,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			sender := newFakeSender()
			sender.outcomes = tc.outcomes
			p := newTestProducer(Settings{MaxAttempts: tc.maxAttempts}, sender)

			_, err := p.Send(context.Background(), record("A"))
			require.NoError(t, err)

			assert.Equal(t, tc.wantSent, sender.sentCount())
			assert.Equal(t, 0, p.tracker.PendingCount())
			assert.Equal(t, tc.wantDelivered, counter(p.sink, MessagesSent))
			assert.Equal(t, tc.wantFailures, counter(p.sink, DeliveryFailures))
			last := sender.sent[len(sender.sent)-1]
			assert.Equal(t, sender.sent[0].Ticket, last.Ticket)
		})
	}
}

func TestProducer_OnDelivery_unknownTicket(t *testing.T) {
	p := newTestProducer(Settings{}, newFakeSender())
	p.OnDelivery(TicketID(12), Delivered(0, 0))
	assert.Equal(t, int64(1), counter(p.sink, UnknownTickets))
}

func TestProducer_Flush(t *testing.T) {
	sender := newFakeSender()
	p := newTestProducer(Settings{}, sender)
	for _, id := range []string{"A", "B", "C"} {
		_, err := p.Send(context.Background(), record(id))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sender.resolveAll(Delivered(0, 0))
	}()
	assert.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, int64(3), counter(p.sink, MessagesSent))
}

func TestProducer_Run(t *testing.T) {
	sender := newFakeSender()
	sender.auto = true
	p := newTestProducer(Settings{ProducePeriod: 5 * time.Millisecond}, sender)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Run(ctx))
	assert.GreaterOrEqual(t, sender.sentCount(), 2)
	assert.Equal(t, int64(sender.sentCount()), counter(p.sink, MessagesSent))
}

func TestProducer_Run_dropsTicksUnderBackpressure(t *testing.T) {
	sender := newFakeSender()
	p := newTestProducer(Settings{
		MaxInFlight:         1,
		ProducePeriod:       5 * time.Millisecond,
		BackpressureTimeout: 5 * time.Millisecond,
	}, sender)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, 1, sender.sentCount())
	assert.Positive(t, counter(p.sink, DroppedTicks))
	sender.resolveAll(Delivered(0, 0))
}

func TestProducer_Run_connectionLost(t *testing.T) {
	sender := newFakeSender()
	sender.err = ErrConnectionLost
	p := newTestProducer(Settings{ProducePeriod: time.Millisecond}, sender)

	assert.ErrorIs(t, p.Run(context.Background()), ErrConnectionLost)
}
