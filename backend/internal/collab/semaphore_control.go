package collab

import (
	"context"
	"errors"
)

var DefaultSemaphore = 100

var (
	ErrAcquireTimeout = errors.New("ACQUIRE_TIMEOUT")
	ErrNotAcquired    = errors.New("RELEASE_WITHOUT_ACQUIRE")
)

// SemaphoreControl bounds how many goroutines touch a backend at once
// (Kafka sends, snapshot writes, cold-board loads).
type SemaphoreControl struct {
	ch chan struct{}
}

// NewSemaphoreControl returns a semaphore with n slots; n <= 0 uses
// DefaultSemaphore.
func NewSemaphoreControl(n int) *SemaphoreControl {
	if n <= 0 {
		n = DefaultSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, n)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrAcquireTimeout, ctx.Err())
	}
}

func (s *SemaphoreControl) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}

// InUse reports the number of held slots.
func (s *SemaphoreControl) InUse() int { return len(s.ch) }
