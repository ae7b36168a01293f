package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payments-datagen/internal/core/domain"
)

var deliveryColumns = []string{
	"order_id", "worker", "attempt", "malformed", "topic", "partition", "offset", "error", "produced_at",
}

// LedgerRepository is an implementation of the LedgerStore port for PostgreSQL.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new repository instance.
// Accepts a DSN (Data Source Name) to connect to.
func NewLedgerRepository(ctx context.Context, dsn string) (*LedgerRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Let's check that the connection to the database actually works.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &LedgerRepository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *LedgerRepository) Close() error {
	r.pool.Close()
	return nil
}

// InsertDeliveries copies a batch of entries into sale_deliveries.
func (r *LedgerRepository) InsertDeliveries(ctx context.Context, entries []domain.LedgerEntry) error {
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"sale_deliveries"},
		deliveryColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			return deliveryRow(entries[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy ledger entries: %w", err)
	}
	return nil
}

func deliveryRow(e domain.LedgerEntry) []any {
	return []any{
		e.OrderID,
		e.Worker,
		string(e.Attempt),
		e.Malformed,
		e.Topic,
		e.Partition,
		e.Offset,
		e.Error,
		e.ProducedAt,
	}
}
