package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfigMissing      = errors.New("configuration is missing")
	ErrSinkNotConfigured  = errors.New("delivery sink is not configured")
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	ErrSinkClosed         = errors.New("delivery sink is closed")
)

// DeliveryError is returned when a sink rejects or fails to acknowledge a sale.
type DeliveryError struct {
	OrderID int64
	Cause   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of order %d failed: %v", e.OrderID, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// GenerationError means a sale could not be built because no order id was
// allocated. The worker retries after its interval.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("sale generation failed: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
