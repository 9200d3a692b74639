package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"walletpass-service/internal/config"
	"walletpass-service/internal/model"
)

const detectionTableDDL = `CREATE TABLE IF NOT EXISTS platform_detections (
	recorded_at    DateTime64(3),
	pass_id        String,
	platform       LowCardinality(String),
	method         LowCardinality(String),
	confidence     Float64,
	source         String,
	low_confidence UInt8
) ENGINE = MergeTree
PARTITION BY toYYYYMM(recorded_at)
ORDER BY (platform, recorded_at)`

const insertDetection = `INSERT INTO platform_detections
	(recorded_at, pass_id, platform, method, confidence, source, low_confidence)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// chConn is the part of driver.Conn the recorder uses.
type chConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseClient stores platform detection outcomes for analysis.
type ClickHouseClient struct {
	conn   chConn
	config config.ClickhouseConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      30 * time.Second,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
		if caCertPath := config.GetEnv("CLICKHOUSE_CA_FILE", ""); caCertPath != "" {
			caCert, err := os.ReadFile(caCertPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			caCertPool := x509.NewCertPool()
			if !caCertPool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append CA cert")
			}
			tlsConfig.RootCAs = caCertPool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	c := &ClickHouseClient{conn: conn, config: chConfig, logger: logger}
	if err := c.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("ClickHouse client initialized",
		zap.String("url", chConfig.URL),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil))

	return c, nil
}

func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.conn.Exec(ctx, detectionTableDDL); err != nil {
		return fmt.Errorf("failed to create detection table: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) RecordDetection(ctx context.Context, record model.DetectionRecord) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var low uint8
	if record.LowConfidence {
		low = 1
	}
	err := c.conn.Exec(ctx, insertDetection,
		record.RecordedAt,
		record.PassID,
		string(record.Result.Platform),
		string(record.Result.Method),
		record.Result.Confidence,
		record.Result.Source,
		low,
	)
	if err != nil {
		return fmt.Errorf("failed to record detection: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close ClickHouse connection", zap.Error(err))
			return err
		}
		c.logger.Info("ClickHouse connection closed")
	}
	return nil
}

func extractHostPort(url string) string {
	cleanURL := url
	for _, scheme := range []string{"http://", "https://", "clickhouse://", "tcp://"} {
		cleanURL = strings.TrimPrefix(cleanURL, scheme)
	}
	cleanURL = strings.TrimSuffix(cleanURL, "/")
	if !strings.Contains(cleanURL, ":") {
		if strings.HasPrefix(url, "https://") {
			return cleanURL + ":9440"
		}
		return cleanURL + ":9000"
	}
	return cleanURL
}

func extractHostname(url string) string {
	hostPort := extractHostPort(url)
	return strings.Split(hostPort, ":")[0]
}
