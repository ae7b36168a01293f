package datagen

import (
	"context"
	"sync/atomic"
)

// Counter is an in-process order id source backed by an atomic fetch-and-add.
type Counter struct {
	last atomic.Int64
}

// NewCounter returns a counter whose first id is start.
func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.last.Store(start - 1)
	return c
}

// NextOrderID never fails.
func (c *Counter) NextOrderID(context.Context) (int64, error) {
	return c.last.Add(1), nil
}
