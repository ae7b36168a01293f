package domain

import (
	"context"
	"sync"
)

// Receipt is the position a sink assigned to a delivered record.
type Receipt struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Ack is the pending outcome of one delivery. A sink resolves it exactly once,
// the worker waits on it.
type Ack struct {
	once    sync.Once
	done    chan struct{}
	receipt Receipt
	err     error
}

// NewAck returns an unresolved Ack.
func NewAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

// Resolve stores the outcome and wakes waiters. Later calls are ignored.
func (a *Ack) Resolve(r Receipt, err error) {
	a.once.Do(func() {
		a.receipt = r
		a.err = err
		close(a.done)
	})
}

// Done is closed once the Ack is resolved.
func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the Ack is resolved or ctx is done.
func (a *Ack) Wait(ctx context.Context) (Receipt, error) {
	select {
	case <-a.done:
		return a.receipt, a.err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// Resolved returns an Ack that is already resolved.
func Resolved(r Receipt, err error) *Ack {
	a := NewAck()
	a.Resolve(r, err)
	return a
}
