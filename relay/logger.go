package relay

// Logger receives the relay events: loop lifecycle, delivery and commit
// failures, dead-lettered positions and dropped ticks. Error carries the
// failure that caused the event.
type Logger interface {
	Info(msg string)
	Debug(msg string)
	Warn(msg string)
	Error(msg string, err error)
}

// Loggable is implemented by collaborators (senders, receivers, stores,
// dead-letter sinks, exposers) that accept the relay logger. New hands its
// logger to every collaborator implementing it.
type Loggable interface {
	SetLogger(Logger)
}

// NopLogger discards every entry. It is the relay default.
type NopLogger struct{}

var _ Logger = (*NopLogger)(nil)

func (*NopLogger) Info(string)         {}
func (*NopLogger) Debug(string)        {}
func (*NopLogger) Warn(string)         {}
func (*NopLogger) Error(string, error) {}
