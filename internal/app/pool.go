package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faker/faker/v4"
	"golang.org/x/sync/errgroup"

	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/core/ports"
	"payments-datagen/internal/datagen"
)

// SinkFactory opens the sink owned by one worker.
type SinkFactory func(identity string) (ports.DeliverySink, error)

// PoolSettings are shared by every worker of a pool.
type PoolSettings struct {
	Generator            datagen.Options
	DuplicateProbability float64
	Interval             time.Duration
}

// Pool starts independent workers and waits for them.
// Workers share only the order id source.
type Pool struct {
	ids      ports.OrderIDSource
	sinks    SinkFactory
	settings PoolSettings
	logger   *slog.Logger
	names    func() string
	opts     []WorkerOption

	mu      sync.Mutex
	workers []*Worker
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithNames replaces the source of location names used in worker identities.
func WithNames(names func() string) PoolOption {
	return func(p *Pool) { p.names = names }
}

// WithWorkerOptions applies opts to every worker the pool builds.
func WithWorkerOptions(opts ...WorkerOption) PoolOption {
	return func(p *Pool) { p.opts = append(p.opts, opts...) }
}

func NewPool(ids ports.OrderIDSource, sinks SinkFactory, settings PoolSettings, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		ids:      ids,
		sinks:    sinks,
		settings: settings,
		logger:   logger,
		names:    cityName,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run builds workerCount workers and blocks until every one of them returns.
// Workers only return once ctx is done; the first error, if any, is returned
// after all of them. Sinks are closed on the way out.
func (p *Pool) Run(ctx context.Context, workerCount int, identityPrefix string) error {
	if workerCount < 1 {
		return domain.ErrInvalidWorkerCount
	}

	workers, sinks, err := p.build(workerCount, identityPrefix)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	p.mu.Lock()
	p.workers = workers
	p.mu.Unlock()

	p.logger.Info("starting workers", "count", workerCount)

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	err = g.Wait()
	p.logger.Info("all workers finished")
	return err
}

// Stats returns a snapshot of every running worker.
func (p *Pool) Stats() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Stats())
	}
	return out
}

func (p *Pool) build(count int, prefix string) ([]*Worker, []ports.DeliverySink, error) {
	identities := p.identities(count, prefix)
	workers := make([]*Worker, 0, count)
	sinks := make([]ports.DeliverySink, 0, count)

	fail := func(err error) ([]*Worker, []ports.DeliverySink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, nil, err
	}

	for _, identity := range identities {
		sink, err := p.sinks(identity)
		if err != nil {
			return fail(fmt.Errorf("failed to open sink for %s: %w", identity, err))
		}
		if sink == nil {
			return fail(fmt.Errorf("worker %s: %w", identity, domain.ErrSinkNotConfigured))
		}
		sinks = append(sinks, sink)

		gen := datagen.NewGenerator(p.ids, p.settings.Generator)
		faults := datagen.NewDuplicatePolicy(p.settings.DuplicateProbability, nil)
		w, err := NewWorker(identity, gen, sink, faults, p.settings.Interval, p.logger, p.opts...)
		if err != nil {
			return fail(err)
		}
		workers = append(workers, w)
	}
	return workers, sinks, nil
}

// identities returns count distinct names of the form prefix_location.
func (p *Pool) identities(count int, prefix string) []string {
	seen := make(map[string]bool, count)
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := strings.TrimSpace(p.names())
		if name == "" {
			name = "Store"
		}
		id := prefix + "_" + name
		for n := 2; seen[id]; n++ {
			id = prefix + "_" + name + "_" + strconv.Itoa(n)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func cityName() string {
	return faker.GetRealAddress().City
}
