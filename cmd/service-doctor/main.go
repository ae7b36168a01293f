package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sr"

	"payments-datagen/internal/adapters/storage/clickhouse"
	"payments-datagen/internal/adapters/storage/redis"
	"payments-datagen/internal/config"
	"payments-datagen/internal/observability"
)

var errSkipped = errors.New("not configured")

// Check describes one diagnostic check
type Check struct {
	Name     string
	Func     func(ctx context.Context) error
	Status   string
	Error    error
	Duration time.Duration
}

func main() {
	logger := observability.SetupLogger("development")

	path := "configs/config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	checks := []Check{
		{Name: "Kafka Cluster", Func: func(ctx context.Context) error {
			return checkKafka(ctx, cfg.Kafka)
		}},
		{Name: "Schema Registry", Func: func(ctx context.Context) error {
			return checkSchemaRegistry(ctx, cfg.SchemaRegistry)
		}},
		{Name: "Redis", Func: func(ctx context.Context) error {
			return checkRedis(ctx, cfg.Redis.Addr, logger)
		}},
		{Name: "PostgreSQL", Func: func(ctx context.Context) error {
			dsn := cfg.Postgres.DSN
			if cfg.Ledger.Driver == "postgres" && cfg.Ledger.DSN != "" {
				dsn = cfg.Ledger.DSN
			}
			return checkPostgres(ctx, dsn, logger)
		}},
		{Name: "ClickHouse", Func: func(ctx context.Context) error {
			return checkClickHouse(ctx, cfg.ClickHouse, logger)
		}},
		{Name: "Producer Status", Func: func(ctx context.Context) error {
			if cfg.Metrics.Addr == "" {
				return errSkipped
			}
			return checkHTTPHealth(ctx, cfg.Metrics.Addr+"/health", logger)
		}},
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println("🩺 Running diagnostics...")

	for i := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()
			start := time.Now()
			c.Error = c.Func(ctx)
			c.Duration = time.Since(start)
			switch {
			case c.Error == nil:
				c.Status = "✅ OK"
			case errors.Is(c.Error, errSkipped):
				c.Status = "➖ SKIP"
			default:
				c.Status = "❌ FAILED"
			}
		}(&checks[i])
	}

	wg.Wait()

	fmt.Println("\n--- Diagnostics report ---")
	hasErrors := false
	for _, c := range checks {
		switch {
		case c.Error == nil:
			fmt.Printf("[%s] %-20s (took %v)\n", c.Status, c.Name, c.Duration.Round(time.Millisecond))
		case errors.Is(c.Error, errSkipped):
			fmt.Printf("[%s] %-20s\n", c.Status, c.Name)
		default:
			hasErrors = true
			fmt.Printf("[%s] %-20s (took %v) - error: %v\n", c.Status, c.Name, c.Duration.Round(time.Millisecond), c.Error)
		}
	}

	if hasErrors {
		fmt.Println("\nSome dependencies are unavailable.")
		os.Exit(1)
	}
	fmt.Println("\nAll configured dependencies are reachable.")
}

func checkHTTPHealth(ctx context.Context, url string, logger *slog.Logger) error {
	if !strings.HasPrefix(url, "http") {
		if strings.HasPrefix(url, ":") {
			url = "localhost" + url
		}
		url = "http://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}

func checkKafka(ctx context.Context, cfg config.KafkaConfig) error {
	if cfg.BootstrapServers == "" {
		return errSkipped
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.BootstrapServers, ",")...),
		kgo.DialTimeout(5*time.Second),
	)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Ping(ctx)
}

// checkSchemaRegistry also verifies that the producer's subject exists unless
// it would be registered on startup.
func checkSchemaRegistry(ctx context.Context, cfg config.SchemaRegistryConfig) error {
	if cfg.URL == "" {
		return errSkipped
	}
	opts := []sr.ClientOpt{sr.URLs(cfg.URL)}
	if cfg.Username != "" {
		opts = append(opts, sr.BasicAuth(cfg.Username, cfg.Password))
	}
	client, err := sr.NewClient(opts...)
	if err != nil {
		return err
	}
	subjects, err := client.Subjects(ctx)
	if err != nil {
		return err
	}
	if cfg.AutoRegisterSchemas {
		return nil
	}
	for _, s := range subjects {
		if s == cfg.Subject {
			return nil
		}
	}
	return fmt.Errorf("subject %s is not registered", cfg.Subject)
}

func checkPostgres(ctx context.Context, dsn string, logger *slog.Logger) error {
	if dsn == "" {
		return errSkipped
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			logger.Error("failed to close postgres connection", "error", err)
		}
	}()
	return conn.Ping(ctx)
}

func checkRedis(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return errSkipped
	}
	rdb, err := redis.NewClient(ctx, addr)
	if err != nil {
		return err
	}
	if err := rdb.Close(); err != nil {
		logger.Error("failed to close redis client", "error", err)
	}
	return nil
}

func checkClickHouse(ctx context.Context, cfg config.ClickHouseConfig, logger *slog.Logger) error {
	if cfg.Addr == "" {
		return errSkipped
	}
	store, err := clickhouse.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close clickhouse connection", "error", err)
		}
	}()
	return nil
}
