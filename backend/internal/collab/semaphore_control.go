package collab

import (
	"context"
	"errors"
)

var (
	ErrAcquireTimeout = errors.New("ACQUIRE_TIMEOUT")
	ErrNotAcquired    = errors.New("SEMAPHORE_NOT_ACQUIRED")
)

var MaxSemaphore int = 100

type SemaphoreControl struct {
	ch chan struct{}
}

// NewSemaphoreControl size<=0 时用 MaxSemaphore
func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = MaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
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
