// Package config loads the txrelay configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"gopkg.in/yaml.v3"
)

// Database drivers accepted in Database.Driver. An empty driver disables
// persistence.
const (
	DriverNone = ""
	DriverSQL  = "sql"
	DriverPgx  = "pgx"
	DriverGorm = "gorm"
)

// Destinations accepted in Relay.DeadLetters.
const (
	DeadLettersKafka    = "kafka"
	DeadLettersDatabase = "database"
	DeadLettersNone     = "none"
)

// Relay mirrors relay.Settings. Zero values fall back to the relay defaults.
type Relay struct {
	EnableProducer      bool          `yaml:"enableProducer"`
	EnableConsumer      bool          `yaml:"enableConsumer"`
	Topic               string        `yaml:"topic"`
	MaxInFlight         int           `yaml:"maxInFlight"`
	ProducePeriod       time.Duration `yaml:"producePeriod"`
	PollTimeout         time.Duration `yaml:"pollTimeout"`
	DrainGrace          time.Duration `yaml:"drainGrace"`
	BackpressureTimeout time.Duration `yaml:"backpressureTimeout"`
	MaxAttempts         int           `yaml:"maxAttempts"`
	OffsetReset         string        `yaml:"offsetReset"`
	DeadLetters         string        `yaml:"deadLetters"`
}

type Kafka struct {
	Brokers         string `yaml:"brokers"`
	GroupID         string `yaml:"groupId"`
	AutoOffsetReset string `yaml:"autoOffsetReset"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// MaxFailures and OpenTimeout configure the circuit breaker guarding the
	// repository.
	MaxFailures uint32        `yaml:"maxFailures"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
}

type Metrics struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type Config struct {
	Relay    Relay    `yaml:"relay"`
	Kafka    Kafka    `yaml:"kafka"`
	Database Database `yaml:"database"`
	Metrics  Metrics  `yaml:"metrics"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Relay: Relay{
			EnableProducer: true,
			EnableConsumer: true,
			Topic:          "test-topic",
			OffsetReset:    string(relay.OffsetResetStored),
			DeadLetters:    DeadLettersKafka,
		},
		Kafka: Kafka{
			Brokers:         "kafka:9092",
			GroupID:         "txrelay-consumer-group",
			AutoOffsetReset: "earliest",
		},
		Database: Database{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		Metrics: Metrics{
			Address:   ":8000",
			Namespace: "txrelay",
		},
		Log: Log{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads the file at path on top of the defaults, applies the environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading the configuration file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parsing the configuration file: %w", err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if !c.Relay.EnableProducer && !c.Relay.EnableConsumer {
		errs = append(errs, errors.New("relay: at least one of the producer or the consumer must be enabled"))
	}
	if c.Relay.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("relay: maxInFlight must not be negative, got %d", c.Relay.MaxInFlight))
	}
	if c.Relay.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("relay: maxAttempts must not be negative, got %d", c.Relay.MaxAttempts))
	}
	switch relay.OffsetReset(c.Relay.OffsetReset) {
	case "", relay.OffsetResetStored, relay.OffsetResetEarliest, relay.OffsetResetLatest:
	default:
		errs = append(errs, fmt.Errorf("relay: unknown offsetReset '%s'", c.Relay.OffsetReset))
	}
	switch c.Relay.DeadLetters {
	case DeadLettersKafka, DeadLettersNone:
	case DeadLettersDatabase:
		if c.Database.Driver == DriverNone {
			errs = append(errs, errors.New("relay: dead letters cannot be stored without a database driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("relay: unknown deadLetters destination '%s'", c.Relay.DeadLetters))
	}
	if c.Kafka.Brokers == "" {
		errs = append(errs, errors.New("kafka: brokers are mandatory"))
	}
	if c.Relay.EnableConsumer && c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka: groupId is mandatory when the consumer is enabled"))
	}
	switch c.Database.Driver {
	case DriverNone:
	case DriverSQL, DriverPgx, DriverGorm:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database: dsn is mandatory for driver '%s'", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database: unknown driver '%s'", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// Settings converts the relay section.
func (c Config) Settings() relay.Settings {
	return relay.Settings{
		EnableProducer:      c.Relay.EnableProducer,
		EnableConsumer:      c.Relay.EnableConsumer,
		MaxInFlight:         c.Relay.MaxInFlight,
		ProducePeriod:       c.Relay.ProducePeriod,
		PollTimeout:         c.Relay.PollTimeout,
		DrainGrace:          c.Relay.DrainGrace,
		BackpressureTimeout: c.Relay.BackpressureTimeout,
		MaxAttempts:         c.Relay.MaxAttempts,
		Topic:               c.Relay.Topic,
		OffsetReset:         relay.OffsetReset(c.Relay.OffsetReset),
	}
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	boolean("RELAY_ENABLE_PRODUCER", &c.Relay.EnableProducer)
	boolean("RELAY_ENABLE_CONSUMER", &c.Relay.EnableConsumer)
	str("RELAY_TOPIC", &c.Relay.Topic)
	integer("RELAY_MAX_IN_FLIGHT", &c.Relay.MaxInFlight)
	duration("RELAY_PRODUCE_PERIOD", &c.Relay.ProducePeriod)
	duration("RELAY_POLL_TIMEOUT", &c.Relay.PollTimeout)
	duration("RELAY_DRAIN_GRACE", &c.Relay.DrainGrace)
	duration("RELAY_BACKPRESSURE_TIMEOUT", &c.Relay.BackpressureTimeout)
	integer("RELAY_MAX_ATTEMPTS", &c.Relay.MaxAttempts)
	str("RELAY_OFFSET_RESET", &c.Relay.OffsetReset)
	str("RELAY_DEAD_LETTERS", &c.Relay.DeadLetters)
	str("RELAY_KAFKA_BROKERS", &c.Kafka.Brokers)
	str("RELAY_KAFKA_GROUP_ID", &c.Kafka.GroupID)
	str("RELAY_DATABASE_DRIVER", &c.Database.Driver)
	str("RELAY_DATABASE_DSN", &c.Database.DSN)
	str("RELAY_METRICS_ADDRESS", &c.Metrics.Address)
	str("RELAY_LOG_LEVEL", &c.Log.Level)
	boolean("RELAY_LOG_CONSOLE", &c.Log.Console)

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	return errors.Join(errs...)
}
