package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string
	PublicBaseURL string

	Server       ServerConfig
	Logging      LoggingConfig
	Storage      StorageConfig
	Redis        RedisConfig
	Scylla       ScyllaConfig
	Kafka        KafkaConfig
	Clickhouse   ClickhouseConfig
	KMS          KMSConfig
	Hashing      HashingConfig
	Bucketing    BucketingConfig
	Verification VerificationConfig
	Platform     PlatformConfig
	Wallet       WalletConfig
	Twilio       TwilioConfig
	Catalog      CatalogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	EnableTLS    bool
	TLSPort      int
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins are the CORS origins; empty means any https origin.
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the backing store for the ledger and the pass store:
// "memory", "redis" or "scylla" (scylla keeps codes in redis).
type StorageConfig struct {
	Driver string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
	// Pepper, when set, is shared by every instance and disables rotation.
	Pepper string
}

type BucketingConfig struct {
	LockShards int
}

type VerificationConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
	CodeLength  int
	ExposeCode  bool
}

type PlatformConfig struct {
	Default                string
	LowConfidenceThreshold float64
}

type WalletConfig struct {
	BackendTimeout time.Duration
	Apple          AppleWalletConfig
	Google         GoogleWalletConfig
}

type AppleWalletConfig struct {
	PassTypeID       string
	TeamID           string
	OrganizationName string
	WebServiceURL    string
}

type GoogleWalletConfig struct {
	IssuerID            string
	ServiceAccountEmail string
	SigningSecret       string
	Origins             []string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type CatalogConfig struct {
	Path string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads the process environment (seeded from .env when present)
// and stores the result as the current configuration.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:   GetEnv("ENVIRONMENT", "development"),
		PublicBaseURL: strings.TrimRight(GetEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		Server: ServerConfig{
			Host:         GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  GetEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "console"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(GetEnv("STORAGE_DRIVER", "memory")),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "walletpass"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   GetEnv("KAFKA_TOPIC", "walletpass.events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      GetEnv("CLICKHOUSE_URL", "clickhouse://localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "walletpass"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   GetEnv("KMS_KEY_ID", ""),
			Region:  GetEnv("AWS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_KB", 19456),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 2),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 1),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
			Pepper:             GetEnv("HASHING_PEPPER", ""),
		},
		Bucketing: BucketingConfig{
			LockShards: getEnvInt("LOCK_SHARDS", 256),
		},
		Verification: VerificationConfig{
			CodeTTL:     getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
			MaxAttempts: getEnvInt("VERIFICATION_MAX_ATTEMPTS", 3),
			CodeLength:  getEnvInt("VERIFICATION_CODE_LENGTH", 6),
			ExposeCode:  getEnvBool("VERIFICATION_EXPOSE_CODE", false),
		},
		Platform: PlatformConfig{
			Default:                strings.ToLower(GetEnv("PLATFORM_DEFAULT", "apple")),
			LowConfidenceThreshold: getEnvFloat("PLATFORM_LOW_CONFIDENCE_THRESHOLD", 0.70),
		},
		Wallet: WalletConfig{
			BackendTimeout: getEnvDuration("WALLET_BACKEND_TIMEOUT", 10*time.Second),
			Apple: AppleWalletConfig{
				PassTypeID:       GetEnv("APPLE_PASS_TYPE_ID", "pass.com.example.fanpass"),
				TeamID:           GetEnv("APPLE_TEAM_ID", "TEAMID1234"),
				OrganizationName: GetEnv("APPLE_ORGANIZATION_NAME", "Fan Pass"),
				WebServiceURL:    GetEnv("APPLE_WEB_SERVICE_URL", ""),
			},
			Google: GoogleWalletConfig{
				IssuerID:            GetEnv("GOOGLE_ISSUER_ID", "3388000000000000000"),
				ServiceAccountEmail: GetEnv("GOOGLE_SERVICE_ACCOUNT_EMAIL", "wallet@example.iam.gserviceaccount.com"),
				SigningSecret:       GetEnv("GOOGLE_SIGNING_SECRET", "development-signing-secret"),
				Origins:             getEnvList("GOOGLE_ORIGINS", nil),
			},
		},
		Twilio: TwilioConfig{
			AccountSID: GetEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  GetEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: GetEnv("TWILIO_FROM_NUMBER", ""),
		},
		Catalog: CatalogConfig{
			Path: GetEnv("CATALOG_PATH", ""),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the configuration loaded last, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "redis", "scylla":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	switch c.Platform.Default {
	case "apple", "google":
	default:
		return fmt.Errorf("unsupported default platform: %s", c.Platform.Default)
	}
	if c.Verification.CodeTTL <= 0 {
		return fmt.Errorf("verification code ttl must be positive")
	}
	if c.Verification.MaxAttempts <= 0 {
		return fmt.Errorf("verification max attempts must be positive")
	}
	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		return fmt.Errorf("verification code length must be between 4 and 10, got %d", c.Verification.CodeLength)
	}
	if c.Platform.LowConfidenceThreshold < 0 || c.Platform.LowConfidenceThreshold > 1 {
		return fmt.Errorf("low confidence threshold must be within [0,1]")
	}
	// Shared ledgers need one pepper across instances or codes stop verifying.
	if c.Storage.Driver != "memory" && c.Hashing.Pepper == "" {
		return fmt.Errorf("HASHING_PEPPER is required for the %s storage driver", c.Storage.Driver)
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return fmt.Errorf("KMS_KEY_ID is required when KMS is enabled")
	}
	if c.Bucketing.LockShards <= 0 {
		return fmt.Errorf("lock shards must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
