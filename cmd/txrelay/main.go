package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/3rs4lg4d0/txrelay/broker/kafka"
	"github.com/3rs4lg4d0/txrelay/codec/sonic"
	"github.com/3rs4lg4d0/txrelay/config"
	zrlg "github.com/3rs4lg4d0/txrelay/logger/zerolog"
	promexp "github.com/3rs4lg4d0/txrelay/metrics/prometheus"
	tallymetrics "github.com/3rs4lg4d0/txrelay/metrics/tally"
	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/repository"
	"github.com/3rs4lg4d0/txrelay/repository/breaker"
	gormrepo "github.com/3rs4lg4d0/txrelay/repository/gorm"
	"github.com/3rs4lg4d0/txrelay/repository/pgxv5"
	sqlrepo "github.com/3rs4lg4d0/txrelay/repository/sql"
	ckafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	path := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "txrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := zrlg.New(os.Stdout, cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := GetRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	settings := cfg.Settings()
	var (
		sender      *kafka.Sender
		receiver    *kafka.Receiver
		consumer    *ckafka.Consumer
		deadLetters relay.DeadLetterSink
	)
	if settings.EnableProducer || cfg.Relay.DeadLetters == config.DeadLettersKafka {
		p, err := GetProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("creating the kafka producer: %w", err)
		}
		sender = kafka.NewSender(p)
		if cfg.Relay.DeadLetters == config.DeadLettersKafka {
			deadLetters = kafka.NewDeadLetterSink(p)
		}
	}
	if settings.EnableConsumer {
		consumer, err = GetConsumer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("creating the kafka consumer: %w", err)
		}
		receiver = kafka.NewReceiver(consumer, settings.Topic)
	}
	if repo != nil && cfg.Relay.DeadLetters == config.DeadLettersDatabase {
		deadLetters = repo
	}

	sink := relay.NewSink()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	scope, closeScope := tallymetrics.NewPrometheusScope(cfg.Metrics.Namespace, registry)
	defer closeScope.Close()
	delivered, failed := tallymetrics.DeliveryCounters(scope)

	r := relay.New(settings, sonic.New(), asSender(sender), asReceiver(receiver),
		relay.WithLogger(logger),
		relay.WithSink(sink),
		relay.WithCounters(delivered, failed),
		relay.WithCursorStore(repo),
		relay.WithDeadLetterSink(deadLetters),
		relay.WithExposer(promexp.NewServer(cfg.Metrics.Address, registry)),
	)
	registry.MustRegister(promexp.NewCollector(cfg.Metrics.Namespace, sink, r.PendingCount))

	if receiver != nil {
		if err := receiver.Subscribe(consumer, repo); err != nil {
			return fmt.Errorf("subscribing to '%s': %w", settings.Topic, err)
		}
	}

	return r.Run(ctx)
}

// asSender avoids handing a typed nil to relay.New.
func asSender(s *kafka.Sender) relay.Sender {
	if s == nil {
		return nil
	}
	return s
}

func asReceiver(r *kafka.Receiver) relay.Receiver {
	if r == nil {
		return nil
	}
	return r
}

func GetProducer(cfg config.Kafka) (*ckafka.Producer, error) {
	return ckafka.NewProducer(&ckafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"linger.ms":          5,
		"compression.type":   "lz4",
		"acks":               -1,
		"enable.idempotence": true,
	})
}

func GetConsumer(cfg config.Kafka) (*ckafka.Consumer, error) {
	return ckafka.NewConsumer(&ckafka.ConfigMap{
		"bootstrap.servers":    cfg.Brokers,
		"group.id":             cfg.GroupID,
		"auto.offset.reset":    cfg.AutoOffsetReset,
		"enable.auto.commit":   false,
		"enable.partition.eof": true,
	})
}

// GetRepository opens the configured database. It returns a nil repository
// when persistence is disabled.
func GetRepository(ctx context.Context, cfg config.Database) (repository.Repository, func(), error) {
	var (
		repo   repository.Repository
		closer func()
	)
	switch cfg.Driver {
	case config.DriverNone:
		return nil, func() {}, nil
	case config.DriverPgx:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create connection pool: %w", err)
		}
		repo, closer = pgxv5.New(pool), pool.Close
	case config.DriverSQL:
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open the database: %w", err)
		}
		repo, closer = sqlrepo.New(db, true), func() { _ = db.Close() }
	case config.DriverGorm:
		db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
			SkipDefaultTransaction: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open the database: %w", err)
		}
		repo, closer = gormrepo.New(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown database driver '%s'", cfg.Driver)
	}
	return breaker.New(cfg.Driver, repo, cfg.MaxFailures, cfg.OpenTimeout), closer, nil
}
