package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ProcessResult classifies a processed record.
type ProcessResult struct {
	Succeeded bool
	Latency   time.Duration
}

// Processor applies the domain processing to a consumed record. Returned
// errors are domain failures, they never prevent the commit.
type Processor interface {
	Process(ctx context.Context, r *Record) (ProcessResult, error)
}

// TransactionProcessor simulates the processing latency of a transaction and
// classifies it using its status attribute.
type TransactionProcessor struct {
	MinLatency time.Duration
	MaxLatency time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

var _ Processor = (*TransactionProcessor)(nil)

// NewTransactionProcessor creates a processor sleeping between 50ms and 1.5s.
func NewTransactionProcessor(seed int64) *TransactionProcessor {
	return &TransactionProcessor{
		MinLatency: 50 * time.Millisecond,
		MaxLatency: 1500 * time.Millisecond,
		rnd:        rand.New(rand.NewSource(seed)),
	}
}

func (tp *TransactionProcessor) Process(ctx context.Context, r *Record) (ProcessResult, error) {
	latency := tp.MinLatency
	if span := tp.MaxLatency - tp.MinLatency; span > 0 {
		tp.mu.Lock()
		latency += time.Duration(tp.rnd.Int63n(int64(span)))
		tp.mu.Unlock()
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ProcessResult{}, ctx.Err()
	}

	status, _ := r.Attributes[AttrStatus].(string)
	return ProcessResult{Succeeded: status == StatusSuccess, Latency: latency}, nil
}

// Consumer pulls records from the receiver and commits them in order.
type Consumer struct {
	settings    Settings
	receiver    Receiver
	codec       Codec
	processor   Processor
	deadLetters DeadLetterSink
	store       CursorStore
	cursors     *Cursors
	sink        *Sink
	logger      Logger
}

// Poll waits up to timeout for the next message. It returns nil on timeout.
// Payloads that cannot be decoded are returned with Consumed.DecodeErr set.
func (c *Consumer) Poll(timeout time.Duration) (*Consumed, error) {
	raw, err := c.receiver.Poll(timeout)
	if err != nil || raw == nil {
		return nil, err
	}
	r, err := c.codec.Decode(raw.Value)
	return &Consumed{Raw: raw, Record: r, DecodeErr: err}, nil
}

// Process runs the processor and observes the elapsed time.
func (c *Consumer) Process(ctx context.Context, r *Record) (ProcessResult, error) {
	start := time.Now()
	res, err := c.processor.Process(ctx, r)
	if ctx.Err() == nil {
		c.sink.Observe(TransactionLatency, time.Since(start).Seconds())
	}
	return res, err
}

// Commit advances the partition cursor to the message position. The commit is
// rejected with ErrOutOfOrderCommit unless the position is the next one.
func (c *Consumer) Commit(ctx context.Context, m *Consumed) error {
	partition, position := m.Raw.Partition, m.Raw.Position
	if err := c.cursors.Advance(partition, position); err != nil {
		c.sink.Incr(OutOfOrderCommits)
		c.logger.Warn(fmt.Sprintf("commit skipped: %v", err))
		return err
	}
	if c.store != nil {
		if err := c.store.SaveCursor(ctx, c.settings.Topic, partition, position); err != nil {
			c.logger.Error(fmt.Sprintf("storing cursor %d of partition %d", position, partition), err)
		}
	}
	if err := c.receiver.CommitOffset(partition, position); err != nil {
		if errors.Is(err, ErrConnectionLost) {
			return err
		}
		c.logger.Error(fmt.Sprintf("committing offset %d of partition %d", position, partition), err)
	}
	return nil
}

// Run polls until ctx is cancelled or the receiver reports a lost connection.
func (c *Consumer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		m, err := c.Poll(c.settings.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrConnectionLost) {
				return err
			}
			c.logger.Error("when polling", err)
			continue
		}
		if m == nil || ctx.Err() != nil {
			continue
		}
		if err := c.handle(ctx, m); errors.Is(err, ErrConnectionLost) {
			return err
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, m *Consumed) error {
	c.initCursor(ctx, m.Raw)
	if cur, _ := c.cursors.Get(m.Raw.Partition); m.Raw.Position <= cur {
		c.sink.Incr(DuplicatesSkipped)
		c.logger.Debug(fmt.Sprintf("skipping redelivered position %d of partition %d", m.Raw.Position, m.Raw.Partition))
		return nil
	}

	// the commit must not be lost once the record is handled
	commitCtx, release := settleContext(ctx, c.settings.PollTimeout)
	defer release()

	if m.DecodeErr != nil {
		c.sink.Incr(DecodeFaults)
		c.sink.Incr(MessagesConsumed)
		c.deadLetter(commitCtx, m)
		return c.Commit(commitCtx, m)
	}

	res, err := c.Process(ctx, m.Record)
	if ctx.Err() != nil {
		// interrupted by shutdown, the record will be delivered again
		return nil
	}
	c.sink.Incr(MessagesConsumed)
	switch {
	case err != nil:
		c.logger.Error(fmt.Sprintf("processing record '%s'", m.Record.ID), err)
		c.sink.Incr(FailedTransactions)
	case res.Succeeded:
		c.sink.Incr(SuccessfulTransactions)
	default:
		c.sink.Incr(FailedTransactions)
	}
	c.logger.Debug(fmt.Sprintf("consumed record '%s' from partition %d at %d", m.Record.ID, m.Raw.Partition, m.Raw.Position))
	return c.Commit(commitCtx, m)
}

// settleContext returns a context that outlives ctx by at most grace.
func settleContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	settle, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-settle.Done():
		}
	})
	return settle, func() {
		stop()
		cancel()
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m *Consumed) {
	dl := &DeadLetter{
		Topic:     m.Raw.Topic,
		Partition: m.Raw.Partition,
		Position:  m.Raw.Position,
		Payload:   m.Raw.Value,
		Reason:    m.DecodeErr.Error(),
		At:        time.Now().UTC(),
	}
	if err := c.deadLetters.Put(ctx, dl); err != nil {
		c.logger.Error(fmt.Sprintf("routing position %d of partition %d to the dead-letter sink", dl.Position, dl.Partition), err)
		return
	}
	c.sink.Incr(DeadLettered)
	c.logger.Warn(fmt.Sprintf("position %d of partition %d dead-lettered: %s", dl.Position, dl.Partition, dl.Reason))
}

// initCursor creates the cursor of a partition the first time it is seen. The
// broker decides where a partition resumes, so unless a stored cursor says
// otherwise the cursor is anchored right before the first delivered position.
func (c *Consumer) initCursor(ctx context.Context, raw *RawMessage) {
	if _, ok := c.cursors.Get(raw.Partition); ok {
		return
	}
	anchor := raw.Position - 1
	if c.settings.OffsetReset == OffsetResetStored && c.store != nil {
		position, found, err := c.store.LoadCursor(ctx, c.settings.Topic, raw.Partition)
		switch {
		case err != nil:
			c.logger.Error(fmt.Sprintf("loading cursor of partition %d", raw.Partition), err)
		case found && position < anchor:
			c.logger.Warn(fmt.Sprintf("partition %d resumes at %d, past the stored cursor %d", raw.Partition, raw.Position, position))
		case found:
			anchor = position
		}
	}
	c.cursors.Init(raw.Partition, anchor)
}
