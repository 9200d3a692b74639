package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"walletpass-service/internal/bucketing"
	"walletpass-service/internal/catalog"
	"walletpass-service/internal/client"
	"walletpass-service/internal/config"
	"walletpass-service/internal/encryption"
	"walletpass-service/internal/hashing"
	"walletpass-service/internal/model"
	"walletpass-service/internal/notification"
	"walletpass-service/internal/platform"
	"walletpass-service/internal/repository/memory"
	redisrepo "walletpass-service/internal/repository/redis"
	"walletpass-service/internal/repository/scylla"
	"walletpass-service/internal/service"
	"walletpass-service/internal/tls"
	"walletpass-service/internal/util"
	"walletpass-service/internal/verification"
	"walletpass-service/internal/wallet"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
)

const (
	// passBuckets is the scylla partition fan-out; it must not change once
	// passes are stored.
	passBuckets    = 64
	reaperInterval = time.Minute
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	keyLocker         *bucketing.KeyLocker

	// Domain
	catalog     *catalog.Catalog
	ledger      model.VerificationLedger
	store       model.PassStore
	registry    *wallet.Registry
	passService *service.PassService

	stopReaper context.CancelFunc
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewFactory loads the configuration from the environment and builds every
// dependency from it.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	logger, err := util.Init(util.Options{
		Environment: cfg.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "walletpass-service",
	})
	if err != nil {
		return nil, err
	}
	return NewFactoryWithConfig(cfg, logger)
}

func NewFactoryWithConfig(cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, logger)
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := f.initializeDomain(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("default_platform", cfg.Platform.Default),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
		zap.Bool("kafka_enabled", f.kafkaProducer != nil),
		zap.Bool("clickhouse_enabled", f.clickhouseClient != nil))

	return f, nil
}

// initializeClients connects the storage the driver needs and the optional
// event and analytics sinks. Storage failures are fatal; sink failures are
// fatal only in production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	driver := f.config.Storage.Driver
	if driver == "redis" || driver == "scylla" {
		redisClient, err := client.NewRedisClient(f.config)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
		if err := redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
	}

	if driver == "scylla" {
		scyllaClient, err := scylla.NewScyllaClient(f.config)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = scyllaClient
		if err := scyllaClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
	}

	var sinkErrors []error

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, f.logger); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, f.logger); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	if len(sinkErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", sinkErrors)
		}
		for _, err := range sinkErrors {
			f.logger.Warn("Service initialization warning, falling back to logging", zap.Error(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config.Hashing)
	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptionManager = encryption.NewEncryptionManager(f.config.KMS, kmsClient)

	f.bucketingManager = bucketing.NewBucketingManager(passBuckets)
	f.keyLocker = bucketing.NewKeyLocker(f.config.Bucketing.LockShards)

	f.logger.Info("Managers initialized successfully",
		zap.Bool("shared_pepper", f.config.Hashing.Pepper != ""),
		zap.Bool("kms_client", kmsClient != nil),
		zap.Int("lock_shards", f.config.Bucketing.LockShards))

	return nil
}

func (f *Factory) initializeDomain() error {
	cat, err := catalog.Load(f.config.Catalog.Path)
	if err != nil {
		return err
	}
	f.catalog = cat

	policy := verification.NewPolicy(f.config.Verification, f.hasher)

	switch f.config.Storage.Driver {
	case "memory":
		ledger := memory.NewOTPLedger(policy, f.keyLocker, f.logger)
		reaperCtx, cancel := context.WithCancel(context.Background())
		f.stopReaper = cancel
		ledger.StartReaper(reaperCtx, reaperInterval)
		f.ledger = ledger
		f.store = memory.NewPassStore(cat, f.keyLocker, f.logger)
	case "redis":
		f.ledger = redisrepo.NewOTPLedger(f.redisClient, policy, f.logger)
		f.store = redisrepo.NewPassStore(f.redisClient, f.encryptionManager, cat, f.logger)
	case "scylla":
		f.ledger = redisrepo.NewOTPLedger(f.redisClient, policy, f.logger)
		f.store = scylla.NewPassRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager, cat, f.logger)
	}

	defaultPlatform, _ := model.ParsePlatform(f.config.Platform.Default)
	registry, err := wallet.NewRegistry(defaultPlatform, f.config.Wallet.BackendTimeout, f.logger,
		wallet.NewAppleBackend(f.config.Wallet.Apple, f.store, f.logger),
		wallet.NewGoogleBackend(f.config.Wallet.Google, f.store, f.logger),
	)
	if err != nil {
		return err
	}
	f.registry = registry

	var events model.EventPublisher = client.NewLogPublisher(f.logger)
	if f.kafkaProducer != nil {
		events = f.kafkaProducer
	}
	var recorder model.DetectionRecorder = client.NewLogRecorder(f.logger)
	if f.clickhouseClient != nil {
		recorder = f.clickhouseClient
	}

	f.passService = service.NewPassService(service.PassServiceDeps{
		Ledger:   f.ledger,
		Store:    f.store,
		Catalog:  cat,
		Detector: platform.NewDetector(defaultPlatform, f.logger),
		Registry: registry,
		SMS:      notification.NewSender(f.config.Twilio, f.logger),
		Events:   events,
		Recorder: recorder,
	}, service.PassServiceOptions{
		ExposeCode:             f.config.Verification.ExposeCode && !f.config.IsProduction(),
		LowConfidenceThreshold: f.config.Platform.LowConfidenceThreshold,
		PublicBaseURL:          f.config.PublicBaseURL,
	}, f.logger)

	return nil
}

// ==============================
// Health Checks
// ==============================

// HealthCheck reports each unhealthy dependency by name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.passService == nil {
		healthErrors["pass_service"] = fmt.Errorf("pass service not initialized")
	}

	return healthErrors
}

// Readiness is the router's health probe. Analytics and event sinks are
// best effort and do not fail it.
type Readiness struct {
	f *Factory
}

func (r Readiness) HealthCheck(ctx context.Context) error {
	healthErrors := r.f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	for name, err := range healthErrors {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (f *Factory) Readiness() Readiness {
	return Readiness{f: f}
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return f.Readiness().HealthCheck(ctx) == nil
}

// ==============================
// Shutdown
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.stopReaper != nil {
			f.stopReaper()
		}

		if f.hasher != nil {
			f.hasher.Stop()
		}

		if f.passService != nil {
			f.passService.Wait()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", zap.Error(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			f.logger.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", zap.Error(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		f.logger.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) PassService() *service.PassService {
	return f.passService
}

func (f *Factory) Registry() *wallet.Registry {
	return f.registry
}
