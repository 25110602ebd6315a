package relay

import "errors"

var (
	// ErrCapacityExceeded is returned by Tracker.Track when the number of
	// unresolved entries reached the configured maximum.
	ErrCapacityExceeded = errors.New("in-flight capacity exceeded")

	// ErrOverloaded is returned by Producer.Send when capacity did not free up
	// after waiting once.
	ErrOverloaded = errors.New("producer overloaded")

	// ErrUnknownTicket is returned when a delivery outcome does not match any
	// unresolved entry.
	ErrUnknownTicket = errors.New("unknown ticket")

	// ErrDuplicateRecord is returned when a record id is already in flight.
	ErrDuplicateRecord = errors.New("record already in flight")

	// ErrOutOfOrderCommit is returned when a commit would not extend the cursor
	// by exactly one position.
	ErrOutOfOrderCommit = errors.New("out of order commit")

	// ErrMalformedPayload wraps every decode fault.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownMetric is returned when registering a metric name that is not
	// part of the catalogue.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrConnectionLost must be wrapped by broker collaborators to signal an
	// unrecoverable transport fault. It stops the relay.
	ErrConnectionLost = errors.New("broker connection lost")

	// ErrInvalidState is returned on illegal lifecycle transitions.
	ErrInvalidState = errors.New("invalid relay state")

	// ErrDrainTimeout is the failure reason of entries still in flight when
	// the drain grace period expires.
	ErrDrainTimeout = errors.New("drain grace period expired")
)
