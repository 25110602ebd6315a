package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/repository"
	"github.com/sony/gobreaker"
)

const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
)

// Repository guards another repository with a circuit breaker, so a storage
// outage fails fast instead of slowing down every commit of the consumer.
type Repository struct {
	next    repository.Repository
	breaker *gobreaker.CircuitBreaker
	logger  relay.Logger
}

var _ relay.Loggable = (*Repository)(nil)
var _ repository.Repository = (*Repository)(nil)

// New wraps next. The breaker opens after maxFailures consecutive failures and
// stays open for openTimeout. Zero values select the defaults.
func New(name string, next repository.Repository, maxFailures uint32, openTimeout time.Duration) *Repository {
	if next == nil {
		panic("repository is mandatory")
	}
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	r := &Repository{next: next, logger: &relay.NopLogger{}}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn(fmt.Sprintf("circuit breaker '%s' changed from %s to %s", name, from, to))
		},
	})
	return r
}

// SetLogger sets the logger of the breaker and of the wrapped repository.
func (r *Repository) SetLogger(l relay.Logger) {
	r.logger = l
	if lg, ok := r.next.(relay.Loggable); ok {
		lg.SetLogger(l)
	}
}

// State returns the current state of the breaker.
func (r *Repository) State() gobreaker.State {
	return r.breaker.State()
}

func (r *Repository) LoadCursor(ctx context.Context, topic string, partition int32) (int64, bool, error) {
	type loaded struct {
		position int64
		found    bool
	}
	res, err := r.breaker.Execute(func() (interface{}, error) {
		position, found, err := r.next.LoadCursor(ctx, topic, partition)
		return loaded{position, found}, err
	})
	if err != nil {
		return 0, false, err
	}
	l := res.(loaded)
	return l.position, l.found, nil
}

func (r *Repository) SaveCursor(ctx context.Context, topic string, partition int32, position int64) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.next.SaveCursor(ctx, topic, partition, position)
	})
	return err
}

func (r *Repository) Put(ctx context.Context, dl *relay.DeadLetter) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.next.Put(ctx, dl)
	})
	return err
}
