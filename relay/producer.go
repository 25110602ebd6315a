package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Producer turns generated records into tracked sends.
type Producer struct {
	settings  Settings
	sender    Sender
	codec     Codec
	tracker   *Tracker
	generator Generator
	sink      *Sink
	logger    Logger
}

// Generate returns a new synthetic record.
func (p *Producer) Generate() *Record {
	return p.generator.Generate()
}

// Send encodes and tracks the record before handing it to the sender. When
// the tracker is full it waits once for capacity (bounded by
// Settings.BackpressureTimeout) and fails with ErrOverloaded if there is still
// none.
func (p *Producer) Send(ctx context.Context, r *Record) (TicketID, error) {
	payload, err := p.codec.Encode(r)
	if err != nil {
		return 0, fmt.Errorf("encoding record '%s': %w", r.ID, err)
	}

	freed := p.tracker.Freed()
	ticket, err := p.tracker.Track(r, payload)
	if errors.Is(err, ErrCapacityExceeded) {
		timer := time.NewTimer(p.settings.BackpressureTimeout)
		defer timer.Stop()
		select {
		case <-freed:
		case <-timer.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		ticket, err = p.tracker.Track(r, payload)
		if errors.Is(err, ErrCapacityExceeded) {
			return 0, ErrOverloaded
		}
	}
	if err != nil {
		return 0, err
	}

	entry := InFlightEntry{Ticket: ticket, Record: r, Payload: payload, Attempt: 1}
	if err := p.submit(entry); err != nil {
		// the sender did not accept the message so no callback will come
		_ = p.tracker.Resolve(ticket, Failed(err))
		return 0, err
	}
	return ticket, nil
}

func (p *Producer) submit(e InFlightEntry) error {
	return p.sender.SendAsync(p.settings.Topic, &OutboundMessage{
		Ticket: e.Ticket,
		Key:    []byte(e.Record.ID),
		Value:  e.Payload,
		Headers: map[string]string{
			"id":         e.Record.ID,
			"producedAt": strconv.FormatInt(e.Record.ProducedAt.UnixMilli(), 10),
			"attempt":    strconv.Itoa(e.Attempt),
		},
	}, p.OnDelivery)
}

// OnDelivery is the callback given to the sender. Retriable failures are sent
// again under the same ticket until Settings.MaxAttempts is reached.
func (p *Producer) OnDelivery(ticket TicketID, outcome DeliveryOutcome) {
	if !outcome.Delivered && outcome.Retriable {
		entry, retry, err := p.tracker.Reattempt(ticket, p.settings.MaxAttempts)
		if err != nil {
			p.logger.Warn(fmt.Sprintf("ignoring delivery outcome: %v", err))
			return
		}
		if retry {
			p.logger.Debug(fmt.Sprintf("retrying record '%s' (attempt %d): %v", entry.Record.ID, entry.Attempt, outcome.Reason))
			err := p.submit(entry)
			if err == nil {
				return
			}
			outcome = Failed(err)
		}
	}
	if err := p.tracker.Resolve(ticket, outcome); err != nil {
		p.logger.Warn(fmt.Sprintf("ignoring delivery outcome: %v", err))
	}
}

// Flush blocks until every tracked record has been resolved or ctx is done.
func (p *Producer) Flush(ctx context.Context) error {
	return p.tracker.WaitIdle(ctx)
}

// Run generates and sends a record every Settings.ProducePeriod until ctx is
// cancelled. Ticks that cannot get capacity are dropped.
func (p *Producer) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(p.settings.ProducePeriod), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		_, err := p.Send(ctx, p.Generate())
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrOverloaded):
			p.sink.Incr(DroppedTicks)
			p.logger.Warn(fmt.Sprintf("tick dropped, %d records in flight", p.tracker.PendingCount()))
		case errors.Is(err, ErrConnectionLost):
			return err
		default:
			p.logger.Error("when producing a record", err)
		}
	}
}
