package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a lazily opened store connection.
type State int

const (
	StateUninitialized State = iota
	StateOpening
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lazy holds a connection handle that is opened on first use and then reused
// for the life of the process. A failed open is not remembered: the next
// Acquire tries again.
type Lazy[T any] struct {
	name   string
	open   func(ctx context.Context) (T, error)
	close  func(T) error
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	handle  T
	lastErr error
}

// NewLazy returns a manager in StateUninitialized. open prepares the engine
// and its schema; closeFn may be nil.
func NewLazy[T any](name string, open func(ctx context.Context) (T, error), closeFn func(T) error, logger zerolog.Logger) *Lazy[T] {
	return &Lazy[T]{
		name:   name,
		open:   open,
		close:  closeFn,
		logger: logger.With().Str("store", name).Logger(),
	}
}

// Acquire returns the cached handle, opening it first if needed. Concurrent
// callers during the first open wait for that single attempt.
func (l *Lazy[T]) Acquire(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateReady {
		return l.handle, nil
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	l.state = StateOpening
	h, err := l.open(ctx)
	if err != nil {
		l.state = StateFailed
		l.lastErr = err
		l.logger.Error().Err(err).Msg("failed to open store")
		return zero, fmt.Errorf("open store %s: %w", l.name, err)
	}

	l.handle = h
	l.state = StateReady
	l.lastErr = nil
	l.logger.Info().Msg("store opened")
	return h, nil
}

// State reports the current lifecycle state.
func (l *Lazy[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error of the most recent failed open, if any.
func (l *Lazy[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Close releases the handle if one was opened. Only the process shutdown path
// calls it; afterwards the manager is back in StateUninitialized.
func (l *Lazy[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateReady {
		return nil
	}
	var err error
	if l.close != nil {
		err = l.close(l.handle)
	}
	var zero T
	l.handle = zero
	l.state = StateUninitialized
	return err
}
