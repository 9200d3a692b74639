package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"walletpass-service/internal/config"
	"walletpass-service/internal/util"
)

// Statements holds the CQL used by the pass repository. Queries are built per
// call from these strings; gocql prepares and caches them by text.
type Statements struct {
	InsertPass   string
	GetPass      string
	MarkVerified string
	CompletePass string
	ReserveFanID string
	UpsertDevice string
	ListDevices  string
	PassExists   string
}

var passStatements = Statements{
	InsertPass: `
        INSERT INTO passes (
            pass_bucket, pass_id, fan_name, country_code, national_number_enc,
            fan_id, artist_id, status, phone_verified, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
	GetPass: `
        SELECT pass_id, fan_name, country_code, national_number_enc, fan_id,
            artist_id, status, phone_verified, created_at, verified_at
        FROM passes WHERE pass_bucket = ? AND pass_id = ?`,
	MarkVerified: `
        UPDATE passes SET phone_verified = true, status = ?, verified_at = ?
        WHERE pass_bucket = ? AND pass_id = ? IF phone_verified = false`,
	CompletePass: `
        UPDATE passes SET fan_name = ?
        WHERE pass_bucket = ? AND pass_id = ? IF phone_verified = true`,
	ReserveFanID: `
        INSERT INTO fan_ids (fan_id, pass_id, created_at) VALUES (?, ?, ?) IF NOT EXISTS`,
	UpsertDevice: `
        INSERT INTO pass_devices (pass_id, device_key, platform, device_id, push_token, registered_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
	ListDevices: `
        SELECT device_key, platform, device_id, push_token, registered_at
        FROM pass_devices WHERE pass_id = ?`,
	PassExists: `
        SELECT pass_id FROM passes WHERE pass_bucket = ? AND pass_id = ?`,
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS passes (
        pass_bucket int,
        pass_id text,
        fan_name text,
        country_code text,
        national_number_enc text,
        fan_id text,
        artist_id text,
        status text,
        phone_verified boolean,
        created_at timestamp,
        verified_at timestamp,
        PRIMARY KEY ((pass_bucket, pass_id))
    )`,
	`CREATE TABLE IF NOT EXISTS fan_ids (
        fan_id text PRIMARY KEY,
        pass_id text,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS pass_devices (
        pass_id text,
        device_key text,
        platform text,
        device_id text,
        push_token text,
        registered_at timestamp,
        PRIMARY KEY (pass_id, device_key)
    )`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     config.ScyllaConfig
	Statements Statements
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 config.GetEnv("SCYLLA_CA_PATH", "/root/certs/ca.pem"),
			CertPath:               config.GetEnv("SCYLLA_CERT_PATH", "/root/certs/server.pem"),
			KeyPath:                config.GetEnv("SCYLLA_KEY_PATH", "/root/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		config:     scyllaConfig,
		Statements: passStatements,
	}

	if err := client.EnsureSchema(context.Background()); err != nil {
		session.Close()
		return nil, err
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the pass tables when they are missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply scylla schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil {
			return nil
		}
		if err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
