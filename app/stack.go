// Package app assembles the coordinator from configuration.
package app

import (
	"context"
	"io"

	"foqus-orchestrator/api/events"
	lambdahandlers "foqus-orchestrator/api/lambda"
	"foqus-orchestrator/config"
	"foqus-orchestrator/core/lifecycle"
	"foqus-orchestrator/core/monitoring"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/pagination"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/core/session"
	"foqus-orchestrator/providers/aws"
	"foqus-orchestrator/storage"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Stack holds the wired components. Events is nil when the record store
// keeps no audit log.
type Stack struct {
	Registry  *prometheus.Registry
	Metrics   *monitoring.Collector
	Records   repository.RecordStore
	Events    repository.EventStore
	Objects   storage.ObjectStore
	Bus       notify.Publisher
	Engine    *lifecycle.Engine
	Sessions  *session.Orchestrator
	Paginator *pagination.Paginator
	Router    *events.Router
	Reaper    *monitoring.ConsumerReaper
	Lambda    *lambdahandlers.Handler

	closers []io.Closer
}

// Build wires the stack for cfg.Backend
func Build(ctx context.Context, cfg *config.Config) (*Stack, error) {
	s := &Stack{Registry: prometheus.NewRegistry()}
	s.Metrics = monitoring.NewCollector(s.Registry)

	var instances monitoring.InstanceChecker
	switch cfg.Backend {
	case config.BackendLocal:
		s.Records = repository.NewMemoryStore()
		s.Events = repository.NewMemoryEventStore()
		s.Objects = storage.NewMemoryStore()
		s.Bus = notify.NewMemoryBus()
	case config.BackendAWS:
		client, err := aws.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, errors.Wrap(err, "create aws client")
		}
		records, err := s.recordStore(cfg, client)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Records = records
		s.Objects = client.ObjectStore(cfg.Bucket)
		s.Bus = client.Bus(map[notify.Topic]string{
			notify.TopicUpdate: cfg.UpdateTopic,
			notify.TopicLog:    cfg.LogTopic,
			notify.TopicJob:    cfg.JobTopic,
		})
		if cfg.CheckInstances {
			instances = client.InstanceChecker()
		}
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}

	loopback, _ := s.Bus.(*notify.MemoryBus)
	if s.Events != nil {
		s.Bus = notify.Tee(s.Bus, notify.TopicLog, monitoring.NewEventLog(s.Events).Handler())
	}

	ledgers, err := s.ledgerProvider(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Engine = lifecycle.NewEngine(s.Records, s.Objects, s.Bus, s.Metrics, lifecycle.Options{
		JobTTL:      cfg.JobTTL,
		FinishedTTL: cfg.FinishedTTL,
		ConsumerTTL: cfg.ConsumerTTL,
	})
	s.Sessions = session.NewOrchestrator(s.Records, s.Objects, s.Bus, s.Engine, session.Options{
		BulkConcurrency: cfg.BulkConcurrency,
	})
	s.Paginator = pagination.NewPaginator(s.Objects, ledgers, s.Metrics, cfg.PageAttempts)
	s.Router = events.NewRouter(s.Engine, s.Sessions)
	s.Reaper = monitoring.NewConsumerReaper(s.Records, s.Bus, instances, s.Metrics)
	s.Lambda = lambdahandlers.NewHandler(s.Router, s.Reaper)

	// Without a broker, update-topic traffic loops straight back into the router
	if loopback != nil {
		loopback.Subscribe(notify.TopicUpdate, s.Router.Handler())
	}

	log.WithFields(log.Fields{
		"backend": cfg.Backend,
		"records": cfg.Records,
		"ledger":  cfg.Ledger,
	}).Info("Coordinator stack ready")
	return s, nil
}

func (s *Stack) recordStore(cfg *config.Config, client *aws.Client) (repository.RecordStore, error) {
	switch cfg.Records {
	case config.RecordsDynamoDB:
		store := client.RecordStore(cfg.Table)
		store.SessionIndex = cfg.SessionIndex
		return store, nil
	case config.RecordsPostgres:
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect record database")
		}
		s.closers = append(s.closers, db)
		log.Info("Database connected successfully")
		s.Events = repository.NewEventRepository(db)
		return repository.NewJobRepository(db), nil
	case config.RecordsMemory:
		return repository.NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown record store %q", cfg.Records)
	}
}

func (s *Stack) ledgerProvider(cfg *config.Config) (storage.LedgerProvider, error) {
	switch cfg.Ledger {
	case config.LedgerObject:
		return storage.NewObjectLedgerProvider(s.Objects), nil
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping().Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "connect redis at %s", cfg.RedisAddr)
		}
		s.closers = append(s.closers, client)
		return storage.NewRedisLedgerProvider(client, cfg.LedgerRetention), nil
	default:
		return nil, errors.Errorf("unknown ledger %q", cfg.Ledger)
	}
}

// Close releases database and cache connections
func (s *Stack) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("Failed to close connection")
		}
	}
	s.closers = nil
}
