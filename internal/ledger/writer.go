// Package ledger keeps a record of every delivery attempt, so downstream
// deduplication and validation can be checked against what was produced.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/core/ports"
	"payments-datagen/internal/observability"
)

// Writer buffers entries in memory and inserts them in batches.
// Record never blocks; when the buffer is full the entry is dropped.
type Writer struct {
	store     ports.LedgerStore
	entries   chan domain.LedgerEntry
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

func NewWriter(store ports.LedgerStore, bufferSize, batchSize int, interval time.Duration, logger *slog.Logger) *Writer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Writer{
		store:     store,
		entries:   make(chan domain.LedgerEntry, bufferSize),
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
	}
}

// Record queues an entry. It reports false if the entry was dropped.
func (w *Writer) Record(e domain.LedgerEntry) bool {
	select {
	case w.entries <- e:
		return true
	default:
		observability.ObserveLedgerDrop()
		return false
	}
}

// Run flushes batches until ctx is done, then flushes what is still buffered.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]domain.LedgerEntry, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.InsertDeliveries(ctx, batch); err != nil {
			observability.ObserveLedgerFlushError()
			w.logger.Error("failed to write ledger batch", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case e := <-w.entries:
					batch = append(batch, e)
					if len(batch) >= w.batchSize {
						flush(shutdownCtx)
					}
				default:
					flush(shutdownCtx)
					return nil
				}
			}
		}
	}
}
