package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a Relay.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Relay owns the producer and consumer loops and coordinates their shutdown.
type Relay struct {
	mu    sync.Mutex
	state State

	settings     Settings
	logger       Logger
	sink         *Sink
	codec        Codec
	sender       Sender
	receiver     Receiver
	generator    Generator
	processor    Processor
	store        CursorStore
	deadLetters  DeadLetterSink
	exposer      Exposer
	deliveredCtr Counter
	failedCtr    Counter

	tracker  *Tracker
	producer *Producer
	consumer *Consumer

	cancel    context.CancelFunc
	loops     sync.WaitGroup
	fatalOnce sync.Once
	err       error
	done      chan struct{}
}

// opt allows optional configuration.
type opt func(r *Relay)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l Logger) opt {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCounters allows clients to configure optional counters mirroring the
// delivered and failed outcomes.
func WithCounters(delivered Counter, failed Counter) opt {
	return func(r *Relay) {
		if delivered != nil {
			r.deliveredCtr = delivered
		}
		if failed != nil {
			r.failedCtr = failed
		}
	}
}

// WithSink provides the metrics sink, so it can be exposed before the relay
// is created.
func WithSink(s *Sink) opt {
	return func(r *Relay) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithGenerator replaces the synthetic transaction generator.
func WithGenerator(g Generator) opt {
	return func(r *Relay) {
		if g != nil {
			r.generator = g
		}
	}
}

// WithProcessor replaces the transaction processor.
func WithProcessor(p Processor) opt {
	return func(r *Relay) {
		if p != nil {
			r.processor = p
		}
	}
}

// WithCursorStore configures where committed cursors are persisted.
func WithCursorStore(s CursorStore) opt {
	return func(r *Relay) {
		r.store = s
	}
}

// WithDeadLetterSink configures where undecodable messages are routed.
func WithDeadLetterSink(d DeadLetterSink) opt {
	return func(r *Relay) {
		if d != nil {
			r.deadLetters = d
		}
	}
}

// WithExposer configures the metrics endpoint started with the relay.
func WithExposer(e Exposer) opt {
	return func(r *Relay) {
		r.exposer = e
	}
}

// New creates a relay. The sender is mandatory when the producer is enabled
// and the receiver when the consumer is enabled.
func New(s Settings, c Codec, sender Sender, receiver Receiver, options ...opt) *Relay {
	if c == nil {
		panic("you must provide a codec")
	}
	if s.EnableProducer && sender == nil {
		panic("you must provide a sender to enable the producer")
	}
	if s.EnableConsumer && receiver == nil {
		panic("you must provide a receiver to enable the consumer")
	}
	validateSettings(&s)

	now := time.Now().UnixNano()
	r := &Relay{
		settings:     s,
		logger:       &NopLogger{},
		sink:         NewSink(),
		codec:        c,
		sender:       sender,
		receiver:     receiver,
		generator:    NewTransactionGenerator(now),
		processor:    NewTransactionProcessor(now),
		deadLetters:  &NopDeadLetterSink{},
		deliveredCtr: &NopCounter{},
		failedCtr:    &NopCounter{},
		done:         make(chan struct{}),
	}
	for _, o := range options {
		o(r)
	}

	for _, a := range []any{sender, receiver, r.store, r.deadLetters, r.exposer} {
		if l, ok := a.(Loggable); ok {
			l.SetLogger(r.logger)
		}
	}

	r.tracker = NewTracker(s.MaxInFlight, r.sink, r.logger)
	r.tracker.deliveredCtr = r.deliveredCtr
	r.tracker.failedCtr = r.failedCtr
	r.producer = &Producer{
		settings:  s,
		sender:    sender,
		codec:     c,
		tracker:   r.tracker,
		generator: r.generator,
		sink:      r.sink,
		logger:    r.logger,
	}
	r.consumer = &Consumer{
		settings:    s,
		receiver:    receiver,
		codec:       c,
		processor:   r.processor,
		deadLetters: r.deadLetters,
		store:       r.store,
		cursors:     NewCursors(),
		sink:        r.sink,
		logger:      r.logger,
	}
	return r
}

// Start registers the metrics, starts the exposer and launches the enabled
// loops. The loops are not bound to ctx: use Shutdown (or Run) to stop them.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCreated {
		return fmt.Errorf("%w: cannot start a %s relay", ErrInvalidState, r.state)
	}

	if err := r.sink.RegisterDefaults(); err != nil {
		return err
	}
	if r.exposer != nil {
		if err := r.exposer.Start(); err != nil {
			return fmt.Errorf("starting the metrics exposer: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.state = StateRunning

	if r.settings.EnableProducer {
		r.launch(loopCtx, "producer", r.producer.Run)
	}
	if r.settings.EnableConsumer {
		r.launch(loopCtx, "consumer", r.consumer.Run)
	}
	r.logger.Info(fmt.Sprintf("relay running on topic '%s'", r.settings.Topic))
	return nil
}

func (r *Relay) launch(ctx context.Context, name string, loop func(context.Context) error) {
	r.loops.Add(1)
	go func() {
		defer r.loops.Done()
		if err := loop(ctx); err != nil {
			r.logger.Error(fmt.Sprintf("the %s loop has stopped", name), err)
			r.fatalOnce.Do(func() {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
				go r.Shutdown(context.Background()) //nolint:errcheck
			})
			return
		}
		r.logger.Debug(fmt.Sprintf("the %s loop has finished", name))
	}()
}

// Shutdown stops generating records, waits for the loops to reach a safe
// point, gives the in-flight deliveries up to Settings.DrainGrace to resolve
// and closes the collaborators. Deliveries still pending after the grace
// period are resolved as failed.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateDraining || r.state == StateStopped {
		r.mu.Unlock()
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.state = StateDraining
	cancel := r.cancel
	r.mu.Unlock()

	r.logger.Info(fmt.Sprintf("draining relay with %d records in flight", r.tracker.PendingCount()))
	if cancel != nil {
		cancel()
	}
	r.loops.Wait()

	graceCtx, stop := context.WithTimeout(ctx, r.settings.DrainGrace)
	defer stop()
	if err := r.producer.Flush(graceCtx); err != nil {
		n := r.tracker.Abandon(ErrDrainTimeout)
		r.logger.Warn(fmt.Sprintf("%d records were still in flight after the drain grace period", n))
	}

	var errs []error
	if r.sender != nil {
		errs = append(errs, r.sender.Close(graceCtx))
	}
	if r.receiver != nil {
		errs = append(errs, r.receiver.Close())
	}
	if r.exposer != nil {
		errs = append(errs, r.exposer.Shutdown(context.WithoutCancel(ctx)))
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	close(r.done)

	r.logger.Info("relay stopped")
	return errors.Join(errs...)
}

// Run starts the relay and blocks until ctx is cancelled or a loop fails.
// It returns the error that stopped a loop, if any.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		if err := r.Shutdown(context.Background()); err != nil {
			r.logger.Error("closing collaborators", err)
		}
	case <-r.done:
	}
	return r.Err()
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the relay reaches StateStopped.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the fatal error that stopped the relay, if any.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Sink returns the metrics sink.
func (r *Relay) Sink() *Sink {
	return r.sink
}

// PendingCount returns the number of records in flight.
func (r *Relay) PendingCount() int {
	return r.tracker.PendingCount()
}

// Cursors returns a copy of the consumer cursors.
func (r *Relay) Cursors() map[int32]int64 {
	return r.consumer.cursors.Snapshot()
}
