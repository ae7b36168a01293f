package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"payments-datagen/internal/core/domain"
)

// Delivery is one sale accepted by the mock sink.
type Delivery struct {
	Sale    domain.Sale
	Payload []byte
	Receipt domain.Receipt
}

// Sink - in-memory stand-in for the Kafka sink. It keeps every delivery,
// which makes it usable for dry runs and tests.
type Sink struct {
	topic   string
	logger  *slog.Logger
	latency time.Duration
	fail    func(call int, sale domain.Sale) error

	mu         sync.Mutex
	calls      int
	offset     int64
	closed     bool
	deliveries []Delivery
}

// Option configures a Sink.
type Option func(*Sink)

// WithLatency resolves every delivery after d, from another goroutine.
func WithLatency(d time.Duration) Option {
	return func(s *Sink) { s.latency = d }
}

// WithFailures makes call number call (0-based) fail when fn returns an error.
func WithFailures(fn func(call int, sale domain.Sale) error) Option {
	return func(s *Sink) { s.fail = fn }
}

func NewSink(topic string, logger *slog.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{topic: topic, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) Deliver(ctx context.Context, sale domain.Sale) *domain.Ack {
	s.mu.Lock()
	call := s.calls
	s.calls++
	closed := s.closed
	s.mu.Unlock()

	var err error
	switch {
	case closed:
		err = domain.ErrSinkClosed
	case s.fail != nil:
		err = s.fail(call, sale)
	}

	resolve := func() (domain.Receipt, error) {
		if err != nil {
			return domain.Receipt{}, &domain.DeliveryError{OrderID: sale.OrderID, Cause: err}
		}
		payload, mErr := json.Marshal(sale)
		if mErr != nil {
			return domain.Receipt{}, &domain.DeliveryError{OrderID: sale.OrderID, Cause: mErr}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		receipt := domain.Receipt{Topic: s.topic, Offset: s.offset}
		s.offset++
		s.deliveries = append(s.deliveries, Delivery{Sale: sale, Payload: payload, Receipt: receipt})
		s.logger.Debug("[MOCK] sale delivered", "order_id", sale.OrderID, "amount", sale.Amount, "offset", receipt.Offset)
		return receipt, nil
	}

	if s.latency <= 0 {
		return domain.Resolved(resolve())
	}

	ack := domain.NewAck()
	go func() {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-t.C:
			ack.Resolve(resolve())
		case <-ctx.Done():
			ack.Resolve(domain.Receipt{}, &domain.DeliveryError{OrderID: sale.OrderID, Cause: ctx.Err()})
		}
	}()
	return ack
}

// Calls returns how many times Deliver was called, failed calls included.
func (s *Sink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Deliveries returns a copy of the successful deliveries in offset order.
func (s *Sink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
