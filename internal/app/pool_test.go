package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mocksink "payments-datagen/internal/adapters/messaging/mock"
	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/core/ports"
	"payments-datagen/internal/datagen"
)

type sinkRegistry struct {
	mu    sync.Mutex
	sinks map[string]*mocksink.Sink
}

func (r *sinkRegistry) factory(identity string) (ports.DeliverySink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks == nil {
		r.sinks = make(map[string]*mocksink.Sink)
	}
	s := mocksink.NewSink("payments", discardLogger())
	r.sinks[identity] = s
	return s, nil
}

func (r *sinkRegistry) all() map[string]*mocksink.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*mocksink.Sink, len(r.sinks))
	for k, v := range r.sinks {
		out[k] = v
	}
	return out
}

func testSettings(p float64) PoolSettings {
	return PoolSettings{
		Generator:            datagen.DefaultOptions(),
		DuplicateProbability: p,
		Interval:             time.Millisecond,
	}
}

func TestPool_RejectsInvalidWorkerCount(t *testing.T) {
	reg := &sinkRegistry{}
	p := NewPool(datagen.NewCounter(1), reg.factory, testSettings(0), discardLogger())

	for _, n := range []int{0, -1} {
		err := p.Run(context.Background(), n, "Pos_Store")
		assert.ErrorIs(t, err, domain.ErrInvalidWorkerCount)
	}
	assert.Empty(t, reg.all())
}

func TestPool_IdentitiesAreDistinct(t *testing.T) {
	p := NewPool(datagen.NewCounter(1), nil, testSettings(0), discardLogger(), WithNames(func() string { return "Lisbon" }))

	ids := p.identities(4, "Pos_Store")
	assert.Equal(t, []string{"Pos_Store_Lisbon", "Pos_Store_Lisbon_2", "Pos_Store_Lisbon_3", "Pos_Store_Lisbon_4"}, ids)
}

func TestPool_DefaultNamesUseCities(t *testing.T) {
	p := NewPool(datagen.NewCounter(1), nil, testSettings(0), discardLogger())

	ids := p.identities(3, "Pos_Store")
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.True(t, strings.HasPrefix(id, "Pos_Store_"), id)
		assert.Greater(t, len(id), len("Pos_Store_"))
	}
}

func TestPool_SinkFailureAbortsStartup(t *testing.T) {
	var opened []*mocksink.Sink
	calls := 0
	factory := func(string) (ports.DeliverySink, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("no brokers")
		}
		s := mocksink.NewSink("payments", discardLogger())
		opened = append(opened, s)
		return s, nil
	}
	p := NewPool(datagen.NewCounter(1), factory, testSettings(0), discardLogger())

	err := p.Run(context.Background(), 5, "Pos_Store")
	require.Error(t, err)
	require.Len(t, opened, 2)
	for _, s := range opened {
		assert.Equal(t, 0, s.Calls())
		// closed sinks reject deliveries
		_, derr := s.Deliver(context.Background(), domain.Sale{}).Wait(context.Background())
		assert.ErrorIs(t, derr, domain.ErrSinkClosed)
	}
}

func TestPool_WorkersShareOrderIDsOnly(t *testing.T) {
	const workers = 4
	reg := &sinkRegistry{}
	p := NewPool(datagen.NewCounter(2500), reg.factory, testSettings(0), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, workers, "Pos_Store") }()

	require.Eventually(t, func() bool {
		sinks := reg.all()
		if len(sinks) != workers {
			return false
		}
		for _, s := range sinks {
			if len(s.Deliveries()) < 10 {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	assert.Len(t, p.Stats(), workers)

	cancel()
	require.NoError(t, <-done)

	var all []int64
	for identity, s := range reg.all() {
		deliveries := s.Deliveries()

		// each worker keeps its own window: one malformed sale per five of its own
		for start := 0; start+5 <= len(deliveries); start += 5 {
			malformed := 0
			for _, d := range deliveries[start : start+5] {
				if d.Sale.Malformed() {
					malformed++
				}
			}
			assert.Equal(t, 1, malformed, "worker %s window at %d", identity, start)
		}

		for i, d := range deliveries {
			if i > 0 {
				assert.Greater(t, d.Sale.OrderID, deliveries[i-1].Sale.OrderID)
			}
			all = append(all, d.Sale.OrderID)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		require.NotEqual(t, all[i-1], all[i], "order ids must be unique across workers")
	}
}

func TestPool_SurvivesOrderIDOutage(t *testing.T) {
	ids := &flakyIDs{failOn: 3}
	reg := &sinkRegistry{}
	settings := testSettings(0)
	settings.Interval = time.Millisecond
	p := NewPool(ids, reg.factory, settings, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 2, "Pos_Store") }()

	require.Eventually(t, func() bool { return ids.calls() >= 20 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var failures int64
	for _, s := range p.Stats() {
		assert.Equal(t, StateStopped.String(), s.State)
		assert.Greater(t, s.Generated, int64(0))
		failures += s.Failures
	}
	assert.Equal(t, int64(1), failures)
}

// flakyIDs fails exactly once, on call failOn (1-based), then recovers.
type flakyIDs struct {
	mu     sync.Mutex
	n      int
	next   int64
	failOn int
}

func (f *flakyIDs) NextOrderID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.n == f.failOn {
		return 0, errors.New("redis: i/o timeout")
	}
	f.next++
	return 2499 + f.next, nil
}

func (f *flakyIDs) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
