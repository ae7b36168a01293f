package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/core/ports"
	"payments-datagen/internal/observability"
)

// SaleSource produces the next sale of a worker.
type SaleSource interface {
	Next(ctx context.Context) (domain.Sale, error)
}

// Recorder receives one ledger entry per delivery attempt. It must not block.
type Recorder interface {
	Record(entry domain.LedgerEntry) bool
}

// Echo prints delivered sales.
type Echo interface {
	Sale(worker string, sale domain.Sale, receipt domain.Receipt, duplicate bool)
}

// State is the position of a worker in its cadence loop.
type State int32

const (
	StateIdle State = iota
	StateGenerating
	StateSending
	StateAwaitingAck
	StateDuplicating
	StateAdvancing
	// StateFailed: the last sale could not be generated, waiting to retry.
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateDuplicating:
		return "duplicating"
	case StateAdvancing:
		return "advancing"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Delivery is the outcome of one send.
type Delivery struct {
	Receipt domain.Receipt
	Err     error
	Took    time.Duration
}

// Iteration is the result of one pass of the cadence loop.
// Err holds the first error of the pass, if any.
type Iteration struct {
	Sale       domain.Sale
	Original   Delivery
	Duplicated bool
	Duplicate  Delivery
	Err        error
}

// Failed reports whether the pass ended early.
func (it Iteration) Failed() bool {
	return it.Err != nil
}

// WorkerStats are running totals of a worker.
type WorkerStats struct {
	Identity   string `json:"identity"`
	State      string `json:"state"`
	Generated  int64  `json:"generated"`
	Delivered  int64  `json:"delivered"`
	Duplicates int64  `json:"duplicates"`
	Failures   int64  `json:"failures"`
}

// Worker runs the generate, deliver, maybe duplicate, sleep loop against its own sink.
type Worker struct {
	identity string
	sales    SaleSource
	sink     ports.DeliverySink
	faults   ports.FaultPolicy
	interval time.Duration
	logger   *slog.Logger
	recorder Recorder
	echo     Echo
	tracer   trace.Tracer

	state      atomic.Int32
	generated  atomic.Int64
	delivered  atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

// WorkerOption configures optional collaborators of a Worker.
type WorkerOption func(*Worker)

func WithRecorder(r Recorder) WorkerOption {
	return func(w *Worker) { w.recorder = r }
}

func WithEcho(e Echo) WorkerOption {
	return func(w *Worker) { w.echo = e }
}

func WithTracer(t trace.Tracer) WorkerOption {
	return func(w *Worker) { w.tracer = t }
}

// NewWorker wires a worker. A missing sink is a setup error.
func NewWorker(identity string, sales SaleSource, sink ports.DeliverySink, faults ports.FaultPolicy, interval time.Duration, logger *slog.Logger, opts ...WorkerOption) (*Worker, error) {
	if sink == nil {
		return nil, domain.ErrSinkNotConfigured
	}
	if sales == nil || faults == nil {
		return nil, fmt.Errorf("worker %s: sale source and fault policy are required", identity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		identity: identity,
		sales:    sales,
		sink:     sink,
		faults:   faults,
		interval: interval,
		logger:   logger.With("worker", identity),
		tracer:   observability.Tracer(),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func (w *Worker) Identity() string {
	return w.identity
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Stats returns a snapshot of the worker totals.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Identity:   w.identity,
		State:      w.State().String(),
		Generated:  w.generated.Load(),
		Delivered:  w.delivered.Load(),
		Duplicates: w.duplicates.Load(),
		Failures:   w.failures.Load(),
	}
}

// Run loops until ctx is done. Delivery errors are reported and the failed
// sale is abandoned; the next pass starts without waiting. When no sale could
// be generated the worker stays in StateFailed for one interval and tries
// again. Run only returns once ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "interval", w.interval)
	for {
		if ctx.Err() != nil {
			return w.stop()
		}

		it := w.Step(ctx)
		if ctx.Err() != nil {
			return w.stop()
		}

		var genErr *domain.GenerationError
		if errors.As(it.Err, &genErr) {
			w.failures.Add(1)
			observability.ObserveGenerationError(w.identity)
			w.setState(StateFailed)
			w.logger.Error("sale generation failed, retrying", "error", it.Err, "retry_in", w.interval)
			if err := sleepOrDone(ctx, w.interval); err != nil {
				return w.stop()
			}
			continue
		}

		w.report(it)
		if it.Failed() {
			continue
		}

		w.setState(StateAdvancing)
		if err := sleepOrDone(ctx, w.interval); err != nil {
			return w.stop()
		}
	}
}

func (w *Worker) stop() error {
	w.setState(StateStopped)
	w.logger.Info("worker stopped")
	return nil
}

// Step runs one pass: generate a sale, deliver it and wait for the outcome,
// then, if the fault policy says so, deliver the very same sale again.
// The duplicate is never duplicated itself.
func (w *Worker) Step(ctx context.Context) Iteration {
	w.setState(StateGenerating)
	sale, err := w.sales.Next(ctx)
	if err != nil {
		return Iteration{Err: err}
	}
	w.generated.Add(1)
	observability.ObserveGenerated(w.identity, sale.Malformed())

	it := Iteration{Sale: sale}
	it.Original = w.deliver(ctx, sale, domain.AttemptOriginal)
	if it.Original.Err != nil {
		it.Err = it.Original.Err
		return it
	}

	if !w.faults.ShouldDuplicate() {
		return it
	}

	w.setState(StateDuplicating)
	it.Duplicated = true
	it.Duplicate = w.deliver(ctx, sale, domain.AttemptDuplicate)
	if it.Duplicate.Err != nil {
		it.Err = it.Duplicate.Err
	}
	return it
}

func (w *Worker) deliver(ctx context.Context, sale domain.Sale, attempt domain.Attempt) Delivery {
	ctx, span := w.tracer.Start(ctx, "sale.deliver", trace.WithAttributes(
		attribute.String("worker", w.identity),
		attribute.Int64("order_id", sale.OrderID),
		attribute.String("attempt", string(attempt)),
		attribute.Bool("malformed", sale.Malformed()),
	))
	defer span.End()

	start := time.Now()
	w.setState(StateSending)
	ack := w.sink.Deliver(ctx, sale)
	w.setState(StateAwaitingAck)
	receipt, err := ack.Wait(ctx)
	took := time.Since(start)

	if err != nil {
		w.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		w.delivered.Add(1)
		if attempt == domain.AttemptDuplicate {
			w.duplicates.Add(1)
		}
		span.SetAttributes(
			attribute.Int("partition", int(receipt.Partition)),
			attribute.Int64("offset", receipt.Offset),
		)
	}
	observability.ObserveDelivery(w.identity, string(attempt), err, took)

	if w.recorder != nil {
		entry := domain.LedgerEntry{
			OrderID:    sale.OrderID,
			Worker:     w.identity,
			Attempt:    attempt,
			Malformed:  sale.Malformed(),
			Topic:      receipt.Topic,
			Partition:  receipt.Partition,
			Offset:     receipt.Offset,
			ProducedAt: start,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		w.recorder.Record(entry)
	}

	return Delivery{Receipt: receipt, Err: err, Took: took}
}

func (w *Worker) report(it Iteration) {
	if it.Original.Err != nil {
		w.logger.Error("sale delivery failed, skipping", "order_id", it.Sale.OrderID, "error", it.Original.Err)
		return
	}

	w.logger.Info("sale produced",
		"order_id", it.Sale.OrderID,
		"partition", it.Original.Receipt.Partition,
		"offset", it.Original.Receipt.Offset,
		"malformed", it.Sale.Malformed(),
		"sale", it.Sale.String(),
	)
	if w.echo != nil {
		w.echo.Sale(w.identity, it.Sale, it.Original.Receipt, false)
	}

	if !it.Duplicated {
		return
	}
	if it.Duplicate.Err != nil {
		w.logger.Error("duplicate delivery failed", "order_id", it.Sale.OrderID, "error", it.Duplicate.Err)
		return
	}
	w.logger.Info("duplicate sale event produced",
		"order_id", it.Sale.OrderID,
		"partition", it.Duplicate.Receipt.Partition,
		"offset", it.Duplicate.Receipt.Offset,
	)
	if w.echo != nil {
		w.echo.Sale(w.identity, it.Sale, it.Duplicate.Receipt, true)
	}
}

// sleepOrDone waits for the duration or returns early on context cancellation.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
