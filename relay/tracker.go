package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tracker keeps the records submitted to the broker until their delivery
// outcome arrives. It never holds more than maxInFlight unresolved entries.
type Tracker struct {
	mu          sync.Mutex
	maxInFlight int
	next        TicketID
	entries     map[TicketID]*InFlightEntry
	ids         map[string]TicketID
	changed     chan struct{} // closed and replaced on every resolution

	sink         *Sink
	logger       Logger
	deliveredCtr Counter
	failedCtr    Counter
	now          func() time.Time
}

// NewTracker creates a tracker bounded by maxInFlight.
func NewTracker(maxInFlight int, sink *Sink, logger Logger) *Tracker {
	if maxInFlight <= 0 {
		panic("maxInFlight must be positive")
	}
	if sink == nil {
		sink = NewSink()
	}
	if logger == nil {
		logger = &NopLogger{}
	}
	return &Tracker{
		maxInFlight:  maxInFlight,
		entries:      make(map[TicketID]*InFlightEntry),
		ids:          make(map[string]TicketID),
		changed:      make(chan struct{}),
		sink:         sink,
		logger:       logger,
		deliveredCtr: &NopCounter{},
		failedCtr:    &NopCounter{},
		now:          time.Now,
	}
}

// Track creates an in-flight entry for the record.
func (t *Tracker) Track(r *Record, payload []byte) (TicketID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.maxInFlight {
		return 0, ErrCapacityExceeded
	}
	if _, ok := t.ids[r.ID]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateRecord, r.ID)
	}
	t.next++
	t.entries[t.next] = &InFlightEntry{
		Ticket:     t.next,
		Record:     r,
		Payload:    payload,
		EnqueuedAt: t.now(),
		Attempt:    1,
	}
	t.ids[r.ID] = t.next
	return t.next, nil
}

// Reattempt increases the attempt number of an unresolved entry unless it
// already reached maxAttempts. It returns a copy of the entry and whether a new
// attempt was granted.
func (t *Tracker) Reattempt(ticket TicketID, maxAttempts int) (InFlightEntry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ticket]
	if !ok {
		return InFlightEntry{}, false, fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	if e.Attempt >= maxAttempts {
		return *e, false, nil
	}
	e.Attempt++
	return *e, true, nil
}

// Resolve removes the entry and accounts for its outcome.
func (t *Tracker) Resolve(ticket TicketID, outcome DeliveryOutcome) error {
	t.mu.Lock()
	e, ok := t.entries[ticket]
	if !ok {
		t.mu.Unlock()
		t.sink.Incr(UnknownTickets)
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	delete(t.entries, ticket)
	delete(t.ids, e.Record.ID)
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()

	t.account(e, outcome)
	return nil
}

func (t *Tracker) account(e *InFlightEntry, outcome DeliveryOutcome) {
	t.sink.Observe(DeliveryLatency, t.now().Sub(e.EnqueuedAt).Seconds())
	if outcome.Delivered {
		t.sink.Incr(MessagesSent)
		t.deliveredCtr.Inc(1)
		t.logger.Debug(fmt.Sprintf("record '%s' %s", e.Record.ID, outcome))
		return
	}
	t.sink.Incr(DeliveryFailures)
	t.failedCtr.Inc(1)
	t.logger.Error(fmt.Sprintf("delivery failed for record '%s' after %d attempt(s)", e.Record.ID, e.Attempt), outcome.Reason)
}

// PendingCount returns the number of unresolved entries.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Freed returns a channel closed on the next resolution. Callers must obtain
// it before attempting Track so no resolution goes unnoticed.
func (t *Tracker) Freed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// WaitIdle blocks until no entry is in flight or ctx is done.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	for {
		t.mu.Lock()
		if len(t.entries) == 0 {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Abandon resolves every remaining entry as failed and returns how many were
// abandoned.
func (t *Tracker) Abandon(reason error) int {
	t.mu.Lock()
	abandoned := make([]*InFlightEntry, 0, len(t.entries))
	for ticket, e := range t.entries {
		abandoned = append(abandoned, e)
		delete(t.entries, ticket)
		delete(t.ids, e.Record.ID)
	}
	if len(abandoned) > 0 {
		close(t.changed)
		t.changed = make(chan struct{})
	}
	t.mu.Unlock()

	for _, e := range abandoned {
		t.account(e, Failed(reason))
	}
	return len(abandoned)
}
