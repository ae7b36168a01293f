package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"payments-datagen/internal/config"
	"payments-datagen/internal/core/domain"
)

const insertDeliveries = `INSERT INTO sale_deliveries (order_id, worker, attempt, malformed, topic, partition, offset, error, produced_at)`

// LedgerStore writes the delivery ledger into ClickHouse.
type LedgerStore struct {
	conn driver.Conn
}

// Open connects to ClickHouse and checks the connection.
func Open(ctx context.Context, cfg config.ClickHouseConfig) (*LedgerStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("clickhouse address is not configured")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return &LedgerStore{conn: conn}, nil
}

// Conn exposes the connection for read-only tooling.
func (s *LedgerStore) Conn() driver.Conn {
	return s.conn
}

// InsertDeliveries sends one batch insert.
func (s *LedgerStore) InsertDeliveries(ctx context.Context, entries []domain.LedgerEntry) error {
	batch, err := s.conn.PrepareBatch(ctx, insertDeliveries)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger batch: %w", err)
	}
	for _, e := range entries {
		if err := batch.Append(
			e.OrderID,
			e.Worker,
			string(e.Attempt),
			e.Malformed,
			e.Topic,
			e.Partition,
			e.Offset,
			e.Error,
			e.ProducedAt,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append ledger entry %d: %w", e.OrderID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send ledger batch: %w", err)
	}
	return nil
}

func (s *LedgerStore) Close() error {
	return s.conn.Close()
}
