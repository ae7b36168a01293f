package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GeneratorConfig stores the parameters of the sale generator and its fault injection.
// Pointer fields tell an explicit zero apart from an omitted key.
type GeneratorConfig struct {
	StartOrderID         *int64         `yaml:"start_order_id"`
	WindowSize           *int           `yaml:"window_size"`
	SentinelOffset       *int           `yaml:"sentinel_offset"`
	DuplicateProbability *float64       `yaml:"duplicate_probability"`
	Interval             *time.Duration `yaml:"interval"`
	ProductIDMax         int            `yaml:"product_id_max"`
	CustomerIDMax        int            `yaml:"customer_id_max"`
	AmountMax            float64        `yaml:"amount_max"`
	ExpiryYearsMax       int            `yaml:"expiry_years_max"`
	IdentityPrefix       string         `yaml:"identity_prefix"`
}

// Start returns the first order id handed out.
func (g GeneratorConfig) Start() int64 {
	if g.StartOrderID == nil {
		return DefaultStartOrderID
	}
	return *g.StartOrderID
}

// Window returns the number of sales per malformed-record window.
func (g GeneratorConfig) Window() int {
	if g.WindowSize == nil {
		return DefaultWindowSize
	}
	return *g.WindowSize
}

// Cadence returns the delay after each successful iteration. Zero means none.
func (g GeneratorConfig) Cadence() time.Duration {
	if g.Interval == nil {
		return DefaultInterval
	}
	return *g.Interval
}

// Sentinel returns the window offset that carries the invalid confirmation code.
func (g GeneratorConfig) Sentinel() int {
	if g.SentinelOffset == nil {
		return g.Window() - 1
	}
	return *g.SentinelOffset
}

// Duplicates returns the probability of a duplicate delivery.
func (g GeneratorConfig) Duplicates() float64 {
	if g.DuplicateProbability == nil {
		return DefaultDuplicateProbability
	}
	return *g.DuplicateProbability
}

// KafkaConfig describes the payments topic and the producer settings.
type KafkaConfig struct {
	BootstrapServers string        `yaml:"bootstrap_servers"`
	Topic            string        `yaml:"topic"`
	ClientID         string        `yaml:"client_id"`
	DeliveryTimeout  time.Duration `yaml:"delivery_timeout"`
	SASLUsername     string        `yaml:"sasl_username"`
	SASLPassword     string        `yaml:"sasl_password"`
}

// SchemaRegistryConfig controls how sale values are framed for the registry.
// An empty URL means plain JSON values.
type SchemaRegistryConfig struct {
	URL                       string `yaml:"url"`
	Subject                   string `yaml:"subject"`
	Username                  string `yaml:"username"`
	Password                  string `yaml:"password"`
	AutoRegisterSchemas       bool   `yaml:"auto_register_schemas"`
	UseLatestVersion          *bool  `yaml:"use_latest_version"`
	LatestCompatibilityStrict bool   `yaml:"latest_compatibility_strict"`
}

// UseLatest reports whether the latest registered schema version is used.
func (s SchemaRegistryConfig) UseLatest() bool {
	return s.UseLatestVersion == nil || *s.UseLatestVersion
}

// LedgerConfig selects the store for the delivery ledger. An empty driver disables it.
type LedgerConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	SchemaRegistry SchemaRegistryConfig `yaml:"schema_registry"`
	Generator      GeneratorConfig      `yaml:"generator"`
	Redis          struct {
		Addr       string `yaml:"addr"`
		CounterKey string `yaml:"counter_key"`
	} `yaml:"redis"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Metrics    struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig enables OTLP export of delivery spans. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

const (
	DefaultTopic                = "payments"
	DefaultStartOrderID         = 2500
	DefaultWindowSize           = 5
	DefaultDuplicateProbability = 0.1
	DefaultInterval             = time.Second
	DefaultIdentityPrefix       = "Pos_Store"
	DefaultCounterKey           = "payments:order_id"
)

// Load reads the YAML file at configPath, expands ${VAR} references and applies defaults.
func Load(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// First, we substitute environment variables into the raw YAML file.
	expandedFile := os.ExpandEnv(string(file))

	err = yaml.Unmarshal([]byte(expandedFile), config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "production"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultTopic
	}
	if c.Kafka.DeliveryTimeout <= 0 {
		c.Kafka.DeliveryTimeout = 10 * time.Second
	}
	if c.SchemaRegistry.Subject == "" {
		c.SchemaRegistry.Subject = c.Kafka.Topic + "-value"
	}

	g := &c.Generator
	if g.ProductIDMax == 0 {
		g.ProductIDMax = 100
	}
	if g.CustomerIDMax == 0 {
		g.CustomerIDMax = 50
	}
	if g.AmountMax == 0 {
		g.AmountMax = 1000
	}
	if g.ExpiryYearsMax == 0 {
		g.ExpiryYearsMax = 4
	}
	if g.IdentityPrefix == "" {
		g.IdentityPrefix = DefaultIdentityPrefix
	}

	if c.Redis.CounterKey == "" {
		c.Redis.CounterKey = DefaultCounterKey
	}
	if c.Ledger.BufferSize == 0 {
		c.Ledger.BufferSize = 1024
	}
	if c.Ledger.BatchSize == 0 {
		c.Ledger.BatchSize = 100
	}
	if c.Ledger.FlushInterval == 0 {
		c.Ledger.FlushInterval = 5 * time.Second
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "payments-producer"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
}

// Validate checks the settings the producer cannot start without.
// requireSink is false for dry runs, which never talk to Kafka.
func (c *Config) Validate(requireSink bool) error {
	if requireSink && c.Kafka.BootstrapServers == "" {
		return fmt.Errorf("kafka.bootstrap_servers is required")
	}

	g := c.Generator
	if w := g.Window(); w < 1 {
		return fmt.Errorf("generator.window_size must be at least 1, got %d", w)
	}
	if s := g.Sentinel(); s < 0 || s >= g.Window() {
		return fmt.Errorf("generator.sentinel_offset must be in [0, %d), got %d", g.Window(), s)
	}
	if g.Start() < 0 {
		return fmt.Errorf("generator.start_order_id must not be negative")
	}
	if p := g.Duplicates(); p < 0 || p > 1 {
		return fmt.Errorf("generator.duplicate_probability must be in [0, 1], got %v", p)
	}
	if g.Cadence() < 0 {
		return fmt.Errorf("generator.interval must not be negative")
	}
	if g.ProductIDMax < 1 || g.CustomerIDMax < 1 || g.AmountMax <= 0 || g.ExpiryYearsMax < 1 {
		return fmt.Errorf("generator ranges must be positive")
	}

	switch c.Ledger.Driver {
	case "":
	case "postgres":
		if c.Ledger.DSN == "" && c.Postgres.DSN == "" {
			return fmt.Errorf("ledger.dsn or postgres.dsn is required for the postgres ledger")
		}
	case "clickhouse":
		if c.ClickHouse.Addr == "" {
			return fmt.Errorf("clickhouse.addr is required for the clickhouse ledger")
		}
	default:
		return fmt.Errorf("unknown ledger.driver %q", c.Ledger.Driver)
	}
	return nil
}
