package scylla

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"walletpass-service/internal/bucketing"
	"walletpass-service/internal/encryption"
	"walletpass-service/internal/model"
	"walletpass-service/internal/verification"
)

// PassRepository stores passes in ScyllaDB. The verified transition and the
// completion guard are lightweight transactions, so concurrent writers on one
// pass see a single winner.
type PassRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
	encryptor *encryption.EncryptionManager
	catalog   model.ArtistCatalog
	logger    *zap.Logger
}

func NewPassRepository(client *ScyllaClient, bm *bucketing.BucketingManager, encryptor *encryption.EncryptionManager, catalog model.ArtistCatalog, logger *zap.Logger) *PassRepository {
	return &PassRepository{
		client:    client,
		bucketing: bm,
		encryptor: encryptor,
		catalog:   catalog,
		logger:    logger,
	}
}

func (r *PassRepository) bucket(passID string) int {
	return r.bucketing.GetBucket(passID)
}

func (r *PassRepository) CreatePass(ctx context.Context, countryCode, nationalNumber, artistID string) (*model.Pass, error) {
	if _, ok := r.catalog.GetArtist(artistID); !ok {
		return nil, model.ErrUnknownArtist
	}

	pass := &model.Pass{
		PassID:         uuid.NewString(),
		FanName:        model.PlaceholderFanName,
		CountryCode:    strings.TrimPrefix(strings.TrimSpace(countryCode), "+"),
		NationalNumber: strings.TrimSpace(nationalNumber),
		ArtistID:       artistID,
		Status:         model.PassStatusPending,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := verification.ValidatePhoneNumber(pass.PhoneNumber()); err != nil {
		return nil, err
	}

	fanID, err := r.reserveFanID(ctx, pass.PassID, pass.CreatedAt)
	if err != nil {
		return nil, err
	}
	pass.FanID = fanID

	enc, err := r.encryptor.EncryptString(ctx, pass.NationalNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt national number: %w", err)
	}

	applied, err := r.client.Query(ctx, r.client.Statements.InsertPass,
		r.bucket(pass.PassID), pass.PassID, pass.FanName, pass.CountryCode, enc,
		pass.FanID, pass.ArtistID, string(pass.Status), pass.PhoneVerified, pass.CreatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		r.logger.Error("Failed to create pass", zap.String("pass_id", pass.PassID), zap.Error(err))
		return nil, fmt.Errorf("failed to create pass: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("pass id collision: %s", pass.PassID)
	}

	r.logger.Info("Pass created", zap.String("pass_id", pass.PassID), zap.String("artist_id", artistID))
	return pass, nil
}

func (r *PassRepository) reserveFanID(ctx context.Context, passID string, now time.Time) (string, error) {
	for i := 0; i < model.MaxFanIDAttempts; i++ {
		candidate, err := verification.RandomDigits(model.FanIDLength)
		if err != nil {
			return "", err
		}
		applied, err := r.client.Query(ctx, r.client.Statements.ReserveFanID, candidate, passID, now).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return "", fmt.Errorf("failed to reserve fan id: %w", err)
		}
		if applied {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to allocate unique fan id after %d attempts", model.MaxFanIDAttempts)
}

func (r *PassRepository) MarkVerified(ctx context.Context, passID string) (*model.Pass, error) {
	if _, err := r.GetPass(ctx, passID); err != nil {
		return nil, err
	}

	verifiedAt := time.Now().UTC().Truncate(time.Millisecond)
	applied, err := r.client.Query(ctx, r.client.Statements.MarkVerified,
		string(model.PassStatusActive), verifiedAt, r.bucket(passID), passID,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to mark pass verified: %w", err)
	}
	if !applied {
		return nil, model.ErrAlreadyVerified
	}

	return r.GetPass(ctx, passID)
}

func (r *PassRepository) CompletePass(ctx context.Context, passID, fanName string) (*model.Pass, error) {
	fanName = strings.TrimSpace(fanName)
	if fanName == "" {
		return nil, fmt.Errorf("%w: fan name is required", model.ErrInvalidInput)
	}
	if _, err := r.GetPass(ctx, passID); err != nil {
		return nil, err
	}

	applied, err := r.client.Query(ctx, r.client.Statements.CompletePass,
		fanName, r.bucket(passID), passID,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to complete pass: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: phone number not verified", model.ErrPreconditionFailed)
	}

	return r.GetPass(ctx, passID)
}

func (r *PassRepository) GetPass(ctx context.Context, passID string) (*model.Pass, error) {
	var (
		pass       model.Pass
		enc        string
		status     string
		verifiedAt time.Time
	)

	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Statements.GetPass, r.bucket(passID), passID),
		&pass.PassID, &pass.FanName, &pass.CountryCode, &enc, &pass.FanID,
		&pass.ArtistID, &status, &pass.PhoneVerified, &pass.CreatedAt, &verifiedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrPassNotFound
		}
		r.logger.Error("Failed to get pass", zap.String("pass_id", passID), zap.Error(err))
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}

	pass.Status = model.PassStatus(status)
	if !verifiedAt.IsZero() {
		pass.VerifiedAt = &verifiedAt
	}

	pass.NationalNumber, err = r.encryptor.DecryptString(ctx, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt national number: %w", err)
	}

	return &pass, nil
}

func (r *PassRepository) RegisterDevice(ctx context.Context, passID string, platform model.Platform, deviceID, pushToken string) (bool, error) {
	var existing string
	err := r.client.Query(ctx, r.client.Statements.PassExists, r.bucket(passID), passID).Scan(&existing)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up pass: %w", err)
	}

	err = r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Statements.UpsertDevice,
		passID, model.DeviceKey(platform, deviceID), string(platform), deviceID, pushToken, time.Now().UTC(),
	), 2)
	if err != nil {
		return false, fmt.Errorf("failed to register device: %w", err)
	}
	return true, nil
}

func (r *PassRepository) ListDevices(ctx context.Context, passID string) (map[string]model.DeviceRegistration, error) {
	iter := r.client.Query(ctx, r.client.Statements.ListDevices, passID).Iter()

	devices := make(map[string]model.DeviceRegistration)
	var (
		key      string
		platform string
		reg      model.DeviceRegistration
	)
	for iter.Scan(&key, &platform, &reg.DeviceID, &reg.PushToken, &reg.RegisteredAt) {
		reg.PassID = passID
		reg.Platform = model.Platform(platform)
		devices[key] = reg
		reg = model.DeviceRegistration{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}
