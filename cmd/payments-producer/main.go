package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	httphandler "payments-datagen/internal/adapters/http"
	"payments-datagen/internal/adapters/messaging/kafka"
	mocksink "payments-datagen/internal/adapters/messaging/mock"
	"payments-datagen/internal/adapters/storage/clickhouse"
	"payments-datagen/internal/adapters/storage/postgres"
	"payments-datagen/internal/adapters/storage/redis"
	"payments-datagen/internal/app"
	"payments-datagen/internal/config"
	"payments-datagen/internal/console"
	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/core/ports"
	"payments-datagen/internal/datagen"
	"payments-datagen/internal/ledger"
	"payments-datagen/internal/observability"
)

type runOptions struct {
	dryRun         bool
	echo           bool
	identityPrefix string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "payments-producer <config-file> <worker-count>",
		Short: "Produce synthetic payment sales with injected duplicates and malformed records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, err := strconv.Atoi(args[1])
			if err != nil || workers < 1 {
				return fmt.Errorf("invalid worker count %q: %w", args[1], domain.ErrInvalidWorkerCount)
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), args[0], workers, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Deliver to an in-memory sink instead of Kafka")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "Print every delivered sale to stdout")
	cmd.Flags().StringVar(&opts.identityPrefix, "identity-prefix", "", "Prefix of the worker identities (overrides the config)")
	return cmd
}

func run(parent context.Context, configPath string, workers int, opts runOptions) error {
	// --- 1. Configuration and Logging ---
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	cfg, err := config.Load(configPath)
	if err != nil {
		fallbackLogger.Error("Failed to load config", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrConfigMissing, err)
	}
	if err := cfg.Validate(!opts.dryRun); err != nil {
		fallbackLogger.Error("Invalid config", "error", err)
		return err
	}

	logger := observability.SetupLogger(cfg.App.Env)
	runID := uuid.NewString()
	logger.Info("payments producer starting", "env", cfg.App.Env, "workers", workers, "topic", cfg.Kafka.Topic, "run_id", runID, "dry_run", opts.dryRun)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Observability ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing, runID)
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("Failed to shutdown tracer", "error", err)
		}
	}()

	// --- 3. Dependencies ---
	ids, closeIDs, err := orderIDSource(ctx, cfg)
	if err != nil {
		logger.Error("Failed to set up the order id source", "error", err)
		return err
	}
	defer closeIDs()

	sinks, err := sinkFactory(ctx, cfg, runID, opts.dryRun, logger)
	if err != nil {
		logger.Error("Failed to set up the delivery sink", "error", err)
		return err
	}

	var workerOpts []app.WorkerOption
	if opts.echo {
		workerOpts = append(workerOpts, app.WithEcho(console.NewEcho(os.Stdout)))
	}

	store, err := ledgerStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open the delivery ledger", "driver", cfg.Ledger.Driver, "error", err)
		return err
	}
	ledgerDone := make(chan struct{})
	ledgerCtx, stopLedger := context.WithCancel(context.Background())
	if store != nil {
		writer := ledger.NewWriter(store, cfg.Ledger.BufferSize, cfg.Ledger.BatchSize, cfg.Ledger.FlushInterval, logger)
		workerOpts = append(workerOpts, app.WithRecorder(writer))
		go func() {
			defer close(ledgerDone)
			_ = writer.Run(ledgerCtx)
		}()
		logger.Info("delivery ledger enabled", "driver", cfg.Ledger.Driver)
	} else {
		close(ledgerDone)
	}
	defer func() {
		stopLedger()
		<-ledgerDone
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close ledger store", "error", err)
			}
		}
	}()

	// --- 4. Worker pool ---
	g := cfg.Generator
	pool := app.NewPool(ids, sinks, app.PoolSettings{
		Generator: datagen.Options{
			WindowSize:     g.Window(),
			SentinelOffset: g.Sentinel(),
			ProductIDMax:   g.ProductIDMax,
			CustomerIDMax:  g.CustomerIDMax,
			AmountMax:      g.AmountMax,
			ExpiryYearsMax: g.ExpiryYearsMax,
		},
		DuplicateProbability: g.Duplicates(),
		Interval:             g.Cadence(),
	}, logger, app.WithWorkerOptions(workerOpts...))

	// --- 5. Status server ---
	if cfg.Metrics.Addr != "" {
		srv := httphandler.NewServer(cfg.Metrics.Addr,
			httphandler.NewRouter(httphandler.NewStatusHandler(pool, logger), cfg.Tracing.ServiceName))
		go func() {
			logger.Info("status server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", "error", err)
			}
		}()
	}

	err = pool.Run(ctx, workers, identityPrefix(cfg, opts))
	if err != nil {
		logger.Error("worker pool stopped with an error", "error", err)
		return err
	}
	logger.Info("payments producer stopped")
	return nil
}

func identityPrefix(cfg *config.Config, opts runOptions) string {
	switch {
	case opts.identityPrefix != "":
		return opts.identityPrefix
	case cfg.Kafka.ClientID != "":
		return cfg.Kafka.ClientID
	default:
		return cfg.Generator.IdentityPrefix
	}
}

// orderIDSource shares the sequence through Redis when an address is configured.
func orderIDSource(ctx context.Context, cfg *config.Config) (ports.OrderIDSource, func(), error) {
	if cfg.Redis.Addr == "" {
		return datagen.NewCounter(cfg.Generator.Start()), func() {}, nil
	}
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr)
	if err != nil {
		return nil, nil, err
	}
	counter, err := redis.NewOrderIDCounter(ctx, rdb, cfg.Redis.CounterKey, cfg.Generator.Start())
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return counter, func() { _ = counter.Close() }, nil
}

func sinkFactory(ctx context.Context, cfg *config.Config, runID string, dryRun bool, logger *slog.Logger) (app.SinkFactory, error) {
	if dryRun {
		return func(string) (ports.DeliverySink, error) {
			return mocksink.NewSink(cfg.Kafka.Topic, logger), nil
		}, nil
	}

	var encoder kafka.Encoder = kafka.JSONEncoder{}
	if cfg.SchemaRegistry.URL != "" {
		enc, err := kafka.NewRegistryEncoder(ctx, cfg.SchemaRegistry)
		if err != nil {
			return nil, err
		}
		logger.Info("using schema registry", "subject", cfg.SchemaRegistry.Subject, "schema_id", enc.SchemaID())
		encoder = enc
	}

	return func(identity string) (ports.DeliverySink, error) {
		return kafka.NewSink(cfg.Kafka, identity, runID, encoder, logger)
	}, nil
}

func ledgerStore(ctx context.Context, cfg *config.Config) (ports.LedgerStore, error) {
	switch cfg.Ledger.Driver {
	case "postgres":
		dsn := cfg.Ledger.DSN
		if dsn == "" {
			dsn = cfg.Postgres.DSN
		}
		return postgres.NewLedgerRepository(ctx, dsn)
	case "clickhouse":
		return clickhouse.Open(ctx, cfg.ClickHouse)
	default:
		return nil, nil
	}
}
