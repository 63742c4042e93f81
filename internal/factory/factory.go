package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"directory-service/internal/audit"
	"directory-service/internal/client"
	"directory-service/internal/config"
	"directory-service/internal/email"
	"directory-service/internal/handler"
	"directory-service/internal/hashing"
	"directory-service/internal/model"
	mongorepo "directory-service/internal/repository/mongo"
	redisrepo "directory-service/internal/repository/redis"
	"directory-service/internal/search"
	"directory-service/internal/service"
	"directory-service/internal/tls"
	"directory-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	mongoClient      *client.MongoClient
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher *hashing.Hasher
	mailer model.Mailer

	// Repositories and sinks
	studentRepository model.StudentRepository
	grantStore        model.GrantStore
	recordLocker      model.RecordLocker
	indexer           model.SearchIndexer
	auditor           model.AuditSink

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("elasticsearch_enabled", cfg.Elasticsearch.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks.
// MongoDB and Redis are required; Kafka, Elasticsearch and ClickHouse are
// optional and only attempted when enabled in config.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// MongoDB
	if mongoClient, err := client.NewMongoClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("mongo: %w", err))
	} else {
		f.mongoClient = mongoClient
		util.Info("MongoDB client initialized and healthy")
	}

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			util.Warn("Elasticsearch initialization failed - search disabled", util.ErrorField(err))
		} else {
			f.esClient = esClient
			util.Info("Elasticsearch client initialized")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			util.Warn("ClickHouse initialization failed - audit storage disabled", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				util.Warn("ClickHouse health check failed", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers wires the hasher, mailer, caches and sinks
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.mailer = email.NewSMTPMailer(f.config)
	f.auditor = audit.NewAuditor(f.kafkaProducer, f.clickhouseClient)

	if f.esClient != nil {
		f.indexer = search.NewIndexer(f.esClient)
	}

	util.Info("Managers initialized successfully",
		util.Bool("hasher_initialized", f.hasher != nil),
		util.Bool("search_enabled", f.indexer != nil),
	)
}

func (f *Factory) StudentRepository() model.StudentRepository {
	if f.studentRepository == nil {
		f.studentRepository = mongorepo.NewStudentRepository(f.mongoClient)
	}
	return f.studentRepository
}

func (f *Factory) GrantStore() model.GrantStore {
	if f.grantStore == nil {
		f.grantStore = redisrepo.NewGrantCache(f.redisClient)
	}
	return f.grantStore
}

func (f *Factory) RecordLocker() model.RecordLocker {
	if f.recordLocker == nil {
		f.recordLocker = redisrepo.NewLockCache(f.redisClient)
	}
	return f.recordLocker
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.StudentRepository(),
			f.GrantStore(),
			f.RecordLocker(),
			f.hasher,
			f.mailer,
			f.indexer,
			f.auditor,
			f.config,
		)
	}
	return f.serviceFactory
}

// DirectoryHandler builds the HTTP handler over the directory service
func (f *Factory) DirectoryHandler() *handler.DirectoryHandler {
	return handler.NewDirectoryHandler(f.ServiceFactory().DirectoryService(), util.Get())
}

// HealthCheck reports per-dependency health
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.mongoClient != nil {
		if err := f.mongoClient.HealthCheck(ctx); err != nil {
			healthErrors["mongo"] = err
		}
	} else {
		healthErrors["mongo"] = fmt.Errorf("mongo client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

// IsHealthy treats optional sinks as advisory
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.mongoClient != nil {
			if err := f.mongoClient.Close(); err != nil {
				util.Error("Failed to close MongoDB client", util.ErrorField(err))
			} else {
				util.Info("MongoDB client closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}
