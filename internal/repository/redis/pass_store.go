package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"walletpass-service/internal/client"
	"walletpass-service/internal/encryption"
	"walletpass-service/internal/model"
	"walletpass-service/internal/verification"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	passPrefix    = "pass:"
	devicesSuffix = ":devices"
	fanIDPrefix   = "fan_id:"
)

// passRecord is the stored form of a pass; the national number is kept only
// as an encryption envelope.
type passRecord struct {
	PassID            string           `json:"pass_id"`
	FanName           string           `json:"fan_name"`
	CountryCode       string           `json:"country_code"`
	NationalNumberEnc string           `json:"national_number_enc"`
	FanID             string           `json:"fan_id"`
	ArtistID          string           `json:"artist_id"`
	Status            model.PassStatus `json:"status"`
	PhoneVerified     bool             `json:"phone_verified"`
	CreatedAt         time.Time        `json:"created_at"`
	VerifiedAt        *time.Time       `json:"verified_at,omitempty"`
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// PassStore keeps passes in Redis. Per-pass mutations use WATCH/MULTI on the
// pass key; fan ids are reserved with SETNX.
type PassStore struct {
	client    *client.RedisClient
	encryptor *encryption.EncryptionManager
	catalog   model.ArtistCatalog
	logger    *zap.Logger
	now       func() time.Time
}

func NewPassStore(client *client.RedisClient, encryptor *encryption.EncryptionManager, catalog model.ArtistCatalog, logger *zap.Logger) *PassStore {
	return &PassStore{
		client:    client,
		encryptor: encryptor,
		catalog:   catalog,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *PassStore) SetClock(now func() time.Time) {
	s.now = now
}

func passKey(passID string) string {
	return passPrefix + passID
}

func devicesKey(passID string) string {
	return passPrefix + passID + devicesSuffix
}

func (s *PassStore) CreatePass(ctx context.Context, countryCode, nationalNumber, artistID string) (*model.Pass, error) {
	if _, ok := s.catalog.GetArtist(artistID); !ok {
		return nil, model.ErrUnknownArtist
	}

	pass := &model.Pass{
		PassID:         uuid.NewString(),
		FanName:        model.PlaceholderFanName,
		CountryCode:    strings.TrimPrefix(strings.TrimSpace(countryCode), "+"),
		NationalNumber: strings.TrimSpace(nationalNumber),
		ArtistID:       artistID,
		Status:         model.PassStatusPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := verification.ValidatePhoneNumber(pass.PhoneNumber()); err != nil {
		return nil, err
	}

	fanID, err := s.reserveFanID(ctx, pass.PassID)
	if err != nil {
		return nil, err
	}
	pass.FanID = fanID

	record, err := s.toRecord(ctx, pass)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pass: %w", err)
	}

	created, err := s.client.Client.SetNX(ctx, passKey(pass.PassID), raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store pass: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("pass id collision: %s", pass.PassID)
	}

	s.logger.Debug("Pass created", zap.String("pass_id", pass.PassID), zap.String("artist_id", artistID))
	return pass, nil
}

func (s *PassStore) reserveFanID(ctx context.Context, passID string) (string, error) {
	for i := 0; i < model.MaxFanIDAttempts; i++ {
		candidate, err := verification.RandomDigits(model.FanIDLength)
		if err != nil {
			return "", err
		}
		ok, err := s.client.Client.SetNX(ctx, fanIDPrefix+candidate, passID, 0).Result()
		if err != nil {
			return "", fmt.Errorf("failed to reserve fan id: %w", err)
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to allocate unique fan id after %d attempts", model.MaxFanIDAttempts)
}

// update applies mutate to the stored pass inside an optimistic transaction.
func (s *PassStore) update(ctx context.Context, passID string, mutate func(*passRecord) error) (*passRecord, error) {
	key := passKey(passID)
	var updated *passRecord

	txf := func(tx *goredis.Tx) error {
		record, err := s.load(ctx, tx, passID)
		if err != nil {
			return err
		}
		if err := mutate(record); err != nil {
			return err
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, goredis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = record
		}
		return err
	}

	if err := s.client.Watch(ctx, maxTxRetries, txf, key); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PassStore) MarkVerified(ctx context.Context, passID string) (*model.Pass, error) {
	record, err := s.update(ctx, passID, func(r *passRecord) error {
		if r.PhoneVerified {
			return model.ErrAlreadyVerified
		}
		verifiedAt := s.now().UTC()
		r.PhoneVerified = true
		r.Status = model.PassStatusActive
		r.VerifiedAt = &verifiedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.fromRecord(ctx, record)
}

func (s *PassStore) CompletePass(ctx context.Context, passID, fanName string) (*model.Pass, error) {
	fanName = strings.TrimSpace(fanName)
	if fanName == "" {
		return nil, fmt.Errorf("%w: fan name is required", model.ErrInvalidInput)
	}

	record, err := s.update(ctx, passID, func(r *passRecord) error {
		if !r.PhoneVerified {
			return fmt.Errorf("%w: phone number not verified", model.ErrPreconditionFailed)
		}
		r.FanName = fanName
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.fromRecord(ctx, record)
}

func (s *PassStore) GetPass(ctx context.Context, passID string) (*model.Pass, error) {
	record, err := s.load(ctx, s.client.Client, passID)
	if err != nil {
		return nil, err
	}
	return s.fromRecord(ctx, record)
}

func (s *PassStore) RegisterDevice(ctx context.Context, passID string, platform model.Platform, deviceID, pushToken string) (bool, error) {
	reg := model.DeviceRegistration{
		PassID:       passID,
		Platform:     platform,
		DeviceID:     deviceID,
		PushToken:    pushToken,
		RegisteredAt: s.now().UTC(),
	}
	raw, err := json.Marshal(reg)
	if err != nil {
		return false, fmt.Errorf("failed to encode device registration: %w", err)
	}

	registered := false
	key := passKey(passID)
	txf := func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, devicesKey(passID), model.DeviceKey(platform, deviceID), raw)
			return nil
		})
		if err == nil {
			registered = true
		}
		return err
	}

	if err := s.client.Watch(ctx, maxTxRetries, txf, key); err != nil {
		return false, fmt.Errorf("failed to register device: %w", err)
	}
	return registered, nil
}

func (s *PassStore) ListDevices(ctx context.Context, passID string) (map[string]model.DeviceRegistration, error) {
	fields, err := s.client.Client.HGetAll(ctx, devicesKey(passID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make(map[string]model.DeviceRegistration, len(fields))
	for key, raw := range fields {
		var reg model.DeviceRegistration
		if err := json.Unmarshal([]byte(raw), &reg); err != nil {
			s.logger.Warn("Skipping corrupt device registration", zap.String("pass_id", passID), zap.String("key", key))
			continue
		}
		devices[key] = reg
	}
	return devices, nil
}

func (s *PassStore) load(ctx context.Context, cmd getter, passID string) (*passRecord, error) {
	raw, err := cmd.Get(ctx, passKey(passID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, model.ErrPassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pass: %w", err)
	}

	var record passRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt pass record: %w", err)
	}
	return &record, nil
}

func (s *PassStore) toRecord(ctx context.Context, pass *model.Pass) (*passRecord, error) {
	enc, err := s.encryptor.EncryptString(ctx, pass.NationalNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt national number: %w", err)
	}
	return &passRecord{
		PassID:            pass.PassID,
		FanName:           pass.FanName,
		CountryCode:       pass.CountryCode,
		NationalNumberEnc: enc,
		FanID:             pass.FanID,
		ArtistID:          pass.ArtistID,
		Status:            pass.Status,
		PhoneVerified:     pass.PhoneVerified,
		CreatedAt:         pass.CreatedAt,
		VerifiedAt:        pass.VerifiedAt,
	}, nil
}

func (s *PassStore) fromRecord(ctx context.Context, r *passRecord) (*model.Pass, error) {
	nationalNumber, err := s.encryptor.DecryptString(ctx, r.NationalNumberEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt national number: %w", err)
	}
	return &model.Pass{
		PassID:         r.PassID,
		FanName:        r.FanName,
		CountryCode:    r.CountryCode,
		NationalNumber: nationalNumber,
		FanID:          r.FanID,
		ArtistID:       r.ArtistID,
		Status:         r.Status,
		PhoneVerified:  r.PhoneVerified,
		CreatedAt:      r.CreatedAt,
		VerifiedAt:     r.VerifiedAt,
	}, nil
}
