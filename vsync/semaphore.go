package vsync

import (
	"sync/atomic"
	"time"
)

// Semaphore bounds the number of concurrently held slots, with a hard
// cap on how many callers may queue behind them. The writer pool uses
// one slot per dispatched segment fetch.
type Semaphore struct {
	c          chan struct{}
	waiterSlot int32
}

func NewSemaphore(max uint, maxWaiters uint) *Semaphore {
	return &Semaphore{c: make(chan struct{}, max), waiterSlot: int32(maxWaiters + max)}
}

func (m *Semaphore) Acquire() {
	atomic.AddInt32(&m.waiterSlot, -1)
	m.c <- struct{}{}
}

func (m *Semaphore) Release() {
	atomic.AddInt32(&m.waiterSlot, 1)
	<-m.c
}

// TryAcquire waits up to timeout for a slot. It fails immediately when
// the waiter cap is exhausted.
func (m *Semaphore) TryAcquire(timeout time.Duration) bool {
	slotsLeft := atomic.AddInt32(&m.waiterSlot, -1)
	if slotsLeft < 0 {
		atomic.AddInt32(&m.waiterSlot, 1)
		return false
	}

	select {
	case m.c <- struct{}{}:
		return true
	case <-time.After(timeout):
		atomic.AddInt32(&m.waiterSlot, 1)
	}
	return false
}

// AcquireStop waits for a slot unless stop closes first.
func (m *Semaphore) AcquireStop(stop <-chan struct{}) bool {
	atomic.AddInt32(&m.waiterSlot, -1)
	select {
	case m.c <- struct{}{}:
		return true
	case <-stop:
		atomic.AddInt32(&m.waiterSlot, 1)
		return false
	}
}

// InFlight reports the number of currently held slots.
func (m *Semaphore) InFlight() int {
	return len(m.c)
}
