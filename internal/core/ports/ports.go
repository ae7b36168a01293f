package ports

import (
	"context"

	"payments-datagen/internal/core/domain"
)

// DeliverySink is an "outgoing port". It accepts a sale for asynchronous delivery,
// the returned Ack resolves with a receipt or a *domain.DeliveryError.
type DeliverySink interface {
	Deliver(ctx context.Context, sale domain.Sale) *domain.Ack
	Close()
}

// OrderIDSource hands out strictly increasing order ids. One source is shared
// by every worker, so implementations must be safe for concurrent use.
type OrderIDSource interface {
	NextOrderID(ctx context.Context) (int64, error)
}

// FaultPolicy decides whether a delivered sale is sent a second time.
type FaultPolicy interface {
	ShouldDuplicate() bool
}

// LedgerStore persists delivery ledger entries in batches.
type LedgerStore interface {
	InsertDeliveries(ctx context.Context, entries []domain.LedgerEntry) error
	Close() error
}
