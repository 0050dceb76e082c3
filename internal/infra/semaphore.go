package infra

import "context"

// Semaphore caps concurrent tool executions process-wide.
type Semaphore struct {
	slots chan struct{}
}

func NewSemaphore(max int) *Semaphore {
	if max <= 0 {
		max = 8
	}
	return &Semaphore{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must pair with a successful Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}

// InUse returns the number of currently held slots.
func (s *Semaphore) InUse() int { return len(s.slots) }
