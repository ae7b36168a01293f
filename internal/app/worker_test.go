package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mocksink "payments-datagen/internal/adapters/messaging/mock"
	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/datagen"
)

// fixedPolicy always gives the same answer.
type fixedPolicy bool

func (f fixedPolicy) ShouldDuplicate() bool { return bool(f) }

// MockSaleSource - implementation of the sale source
type MockSaleSource struct {
	mock.Mock
}

func (m *MockSaleSource) Next(ctx context.Context) (domain.Sale, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Sale), args.Error(1)
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

func (r *memoryRecorder) Record(e domain.LedgerEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGenerator(start int64) *datagen.Generator {
	return datagen.NewGenerator(datagen.NewCounter(start), datagen.DefaultOptions())
}

func newTestWorker(t *testing.T, sink *mocksink.Sink, dup bool, interval time.Duration, opts ...WorkerOption) *Worker {
	t.Helper()
	w, err := NewWorker("Pos_Store_Test", newGenerator(2500), sink, fixedPolicy(dup), interval, discardLogger(), opts...)
	require.NoError(t, err)
	return w
}

func TestNewWorker_RequiresSink(t *testing.T) {
	_, err := NewWorker("Pos_Store_Test", newGenerator(1), nil, fixedPolicy(false), time.Second, discardLogger())
	assert.ErrorIs(t, err, domain.ErrSinkNotConfigured)
}

func TestWorker_Step_AlwaysDuplicate(t *testing.T) {
	sink := mocksink.NewSink("payments", discardLogger())
	w := newTestWorker(t, sink, true, 0)

	const iterations = 10
	for i := 0; i < iterations; i++ {
		it := w.Step(context.Background())
		require.NoError(t, it.Err)
		assert.True(t, it.Duplicated)
	}

	deliveries := sink.Deliveries()
	require.Len(t, deliveries, 2*iterations)
	assert.Equal(t, 2*iterations, sink.Calls())
	for i := 0; i < len(deliveries); i += 2 {
		original, duplicate := deliveries[i], deliveries[i+1]
		assert.Equal(t, original.Payload, duplicate.Payload, "duplicate payload must be identical")
		assert.Equal(t, original.Sale, duplicate.Sale)
		assert.Equal(t, original.Sale.Timestamp, duplicate.Sale.Timestamp)
		assert.NotEqual(t, original.Receipt.Offset, duplicate.Receipt.Offset)
	}
}

func TestWorker_Step_NeverDuplicate(t *testing.T) {
	sink := mocksink.NewSink("payments", discardLogger())
	w := newTestWorker(t, sink, false, 0)

	for i := 0; i < 10; i++ {
		it := w.Step(context.Background())
		require.NoError(t, it.Err)
		assert.False(t, it.Duplicated)
		assert.Equal(t, int64(2500+i), it.Sale.OrderID)
	}
	assert.Equal(t, 10, sink.Calls())
}

func TestWorker_Step_FailedDeliveryIsNotDuplicated(t *testing.T) {
	sink := mocksink.NewSink("payments", discardLogger(), mocksink.WithFailures(func(call int, _ domain.Sale) error {
		if call == 0 {
			return errors.New("broker not available")
		}
		return nil
	}))
	w := newTestWorker(t, sink, true, 0)

	it := w.Step(context.Background())
	require.Error(t, it.Err)
	assert.False(t, it.Duplicated)
	assert.Equal(t, 1, sink.Calls())

	var delErr *domain.DeliveryError
	require.ErrorAs(t, it.Err, &delErr)
	assert.Equal(t, it.Sale.OrderID, delErr.OrderID)

	next := w.Step(context.Background())
	require.NoError(t, next.Err)
	assert.Equal(t, it.Sale.OrderID+1, next.Sale.OrderID, "abandoned sales are not retried")
}

func TestWorker_Step_FailedDuplicate(t *testing.T) {
	sink := mocksink.NewSink("payments", discardLogger(), mocksink.WithFailures(func(call int, _ domain.Sale) error {
		if call == 1 {
			return errors.New("request timed out")
		}
		return nil
	}))
	w := newTestWorker(t, sink, true, 0)

	it := w.Step(context.Background())
	assert.NoError(t, it.Original.Err)
	assert.True(t, it.Duplicated)
	assert.Error(t, it.Duplicate.Err)
	assert.True(t, it.Failed())
	assert.Equal(t, 2, sink.Calls())
}

func TestWorker_Step_RecordsLedgerEntries(t *testing.T) {
	rec := &memoryRecorder{}
	sink := mocksink.NewSink("payments", discardLogger())
	w := newTestWorker(t, sink, true, 0, WithRecorder(rec))

	for i := 0; i < 5; i++ {
		w.Step(context.Background())
	}

	require.Len(t, rec.entries, 10)
	malformed := 0
	for i, e := range rec.entries {
		want := domain.AttemptOriginal
		if i%2 == 1 {
			want = domain.AttemptDuplicate
		}
		assert.Equal(t, want, e.Attempt)
		assert.Equal(t, "Pos_Store_Test", e.Worker)
		assert.True(t, e.Delivered())
		if e.Malformed {
			malformed++
		}
	}
	assert.Equal(t, 2, malformed, "the 5th sale and its duplicate")
}

func TestWorker_Run_ErrorStartsNextIterationImmediately(t *testing.T) {
	sink := mocksink.NewSink("payments", discardLogger(), mocksink.WithFailures(func(int, domain.Sale) error {
		return errors.New("broker not available")
	}))
	w := newTestWorker(t, sink, false, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.Calls() >= 5 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, w.State())
	assert.GreaterOrEqual(t, w.Stats().Failures, int64(5))
}

func TestWorker_Run_SleepsAfterSuccess(t *testing.T) {
	sink := mocksink.NewSink("payments", discardLogger())
	w := newTestWorker(t, sink, false, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.State() == StateAdvancing }, time.Second, time.Millisecond)
	assert.Equal(t, 1, sink.Calls())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, sink.Calls())
}

func TestWorker_Run_GenerationErrorIsRetried(t *testing.T) {
	sales := new(MockSaleSource)
	sales.On("Next", mock.Anything).Return(domain.Sale{}, &domain.GenerationError{Cause: errors.New("redis: i/o timeout")}).Once()
	sales.On("Next", mock.Anything).Return(domain.Sale{OrderID: 2500, ConfirmationCode: "K7Q2M9XA"}, nil)

	sink := mocksink.NewSink("payments", discardLogger())
	w, err := NewWorker("Pos_Store_Test", sales, sink, fixedPolicy(false), time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.Deliveries()) >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, int64(1), w.Stats().Failures)
	assert.GreaterOrEqual(t, w.Stats().Delivered, int64(3))
}

func TestWorker_Run_GenerationErrorWaitsForInterval(t *testing.T) {
	sales := new(MockSaleSource)
	sales.On("Next", mock.Anything).Return(domain.Sale{}, &domain.GenerationError{Cause: errors.New("connection refused")})

	sink := mocksink.NewSink("payments", discardLogger())
	w, err := NewWorker("Pos_Store_Test", sales, sink, fixedPolicy(false), time.Hour, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.State() == StateFailed }, time.Second, time.Millisecond)
	sales.AssertNumberOfCalls(t, "Next", 1)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 0, sink.Calls())
}

func TestWorker_Run_CadenceDelayIsAdditive(t *testing.T) {
	const (
		latency  = 20 * time.Millisecond
		interval = 30 * time.Millisecond
	)
	sink := mocksink.NewSink("payments", discardLogger(), mocksink.WithLatency(latency))
	w := newTestWorker(t, sink, false, interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.Deliveries()) >= 3 }, 2*time.Second, time.Millisecond)
	elapsed := time.Since(start)
	cancel()
	require.NoError(t, <-done)

	// Three deliveries need three latencies and two full delays.
	assert.GreaterOrEqual(t, elapsed, 3*latency+2*interval)
}

// trackingSink checks that a worker never has two deliveries in flight.
type trackingSink struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (s *trackingSink) Deliver(_ context.Context, sale domain.Sale) *domain.Ack {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	ack := domain.NewAck()
	go func() {
		time.Sleep(time.Millisecond)
		s.inFlight.Add(-1)
		ack.Resolve(domain.Receipt{Topic: "payments", Offset: sale.OrderID}, nil)
	}()
	return ack
}

func (s *trackingSink) Close() {}

func TestWorker_DeliveriesAreSequential(t *testing.T) {
	sink := &trackingSink{}
	w, err := NewWorker("Pos_Store_Test", newGenerator(1), sink, datagen.NewDuplicatePolicy(0.5, nil), 0, discardLogger())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, w.Step(context.Background()).Err)
	}
	assert.Equal(t, int32(1), sink.maxInFlight.Load())
	assert.GreaterOrEqual(t, sink.calls.Load(), int32(50))
}

type bufferEcho struct {
	buf bytes.Buffer
	n   int
}

func (e *bufferEcho) Sale(worker string, sale domain.Sale, _ domain.Receipt, duplicate bool) {
	e.n++
	e.buf.WriteString(worker)
}

func TestWorker_ReportEchoesOriginalAndDuplicate(t *testing.T) {
	echo := &bufferEcho{}
	sink := mocksink.NewSink("payments", discardLogger())
	w := newTestWorker(t, sink, true, 0, WithEcho(echo))

	w.report(w.Step(context.Background()))
	assert.Equal(t, 2, echo.n)
}
