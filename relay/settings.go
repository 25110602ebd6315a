package relay

import (
	"time"
)

const (
	defaultMaxInFlight   int           = 1000
	defaultProducePeriod time.Duration = time.Millisecond * 500
	defaultPollTimeout   time.Duration = time.Second
	defaultDrainGrace    time.Duration = time.Second * 5
	defaultMaxAttempts   int           = 1
	defaultTopic         string        = "test-topic"
	defaultOffsetReset   OffsetReset   = OffsetResetStored
)

// OffsetReset decides where a partition cursor starts when the consumer sees
// the partition for the first time.
type OffsetReset string

const (
	OffsetResetStored   OffsetReset = "stored"   // resume from the CursorStore, else anchor at the first position received
	OffsetResetEarliest OffsetReset = "earliest" // anchor at the first position received, the broker reads from the log start
	OffsetResetLatest   OffsetReset = "latest"   // anchor at the first position received, the broker reads from the log end
)

// Settings holds the general relay configuration.
type Settings struct {
	EnableProducer      bool          // runs the synthetic producer loop
	EnableConsumer      bool          // runs the consumer loop
	MaxInFlight         int           // maximum number of unresolved deliveries
	ProducePeriod       time.Duration // interval between generated records
	PollTimeout         time.Duration // maximum time a consumer poll blocks
	DrainGrace          time.Duration // time given to in-flight deliveries on shutdown
	BackpressureTimeout time.Duration // maximum time Send waits for capacity (defaults to ProducePeriod)
	MaxAttempts         int           // delivery attempts for retriable failures
	Topic               string        // topic used to produce and consume
	OffsetReset         OffsetReset   // cursor initialisation policy
}

// validateSettings sets defaults where needed.
func validateSettings(s *Settings) {
	if s.MaxInFlight <= 0 {
		s.MaxInFlight = defaultMaxInFlight
	}
	if s.ProducePeriod <= 0 {
		s.ProducePeriod = defaultProducePeriod
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = defaultPollTimeout
	}
	if s.DrainGrace <= 0 {
		s.DrainGrace = defaultDrainGrace
	}
	if s.BackpressureTimeout <= 0 {
		s.BackpressureTimeout = s.ProducePeriod
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.Topic == "" {
		s.Topic = defaultTopic
	}
	switch s.OffsetReset {
	case OffsetResetStored, OffsetResetEarliest, OffsetResetLatest:
	default:
		s.OffsetReset = defaultOffsetReset
	}
}
