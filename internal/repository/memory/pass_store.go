package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"walletpass-service/internal/bucketing"
	"walletpass-service/internal/model"
	"walletpass-service/internal/verification"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PassStore keeps passes and device registrations in process memory.
// Mutations of one pass run under that pass's lock stripe and every value
// handed out is a copy.
type PassStore struct {
	catalog model.ArtistCatalog
	locker  *bucketing.KeyLocker
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	passes  map[string]*model.Pass
	devices map[string]map[string]model.DeviceRegistration
	fanIDs  map[string]struct{}
}

func NewPassStore(catalog model.ArtistCatalog, locker *bucketing.KeyLocker, logger *zap.Logger) *PassStore {
	return &PassStore{
		catalog: catalog,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
		passes:  make(map[string]*model.Pass),
		devices: make(map[string]map[string]model.DeviceRegistration),
		fanIDs:  make(map[string]struct{}),
	}
}

func (s *PassStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PassStore) CreatePass(ctx context.Context, countryCode, nationalNumber, artistID string) (*model.Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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
		PhoneVerified:  false,
		CreatedAt:      s.now().UTC(),
	}
	if err := verification.ValidatePhoneNumber(pass.PhoneNumber()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fanID, err := s.allocateFanIDLocked()
	if err != nil {
		return nil, err
	}
	pass.FanID = fanID
	s.passes[pass.PassID] = pass

	s.logger.Debug("Pass created",
		zap.String("pass_id", pass.PassID),
		zap.String("artist_id", artistID))

	return pass.Clone(), nil
}

func (s *PassStore) allocateFanIDLocked() (string, error) {
	for i := 0; i < model.MaxFanIDAttempts; i++ {
		candidate, err := verification.RandomDigits(model.FanIDLength)
		if err != nil {
			return "", err
		}
		if _, taken := s.fanIDs[candidate]; !taken {
			s.fanIDs[candidate] = struct{}{}
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to allocate unique fan id after %d attempts", model.MaxFanIDAttempts)
}

func (s *PassStore) MarkVerified(ctx context.Context, passID string) (*model.Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *model.Pass
	err := s.locker.WithLock(passID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		pass, ok := s.passes[passID]
		if !ok {
			return model.ErrPassNotFound
		}
		if pass.PhoneVerified {
			return model.ErrAlreadyVerified
		}

		verifiedAt := s.now().UTC()
		pass.PhoneVerified = true
		pass.Status = model.PassStatusActive
		pass.VerifiedAt = &verifiedAt
		result = pass.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PassStore) CompletePass(ctx context.Context, passID, fanName string) (*model.Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fanName = strings.TrimSpace(fanName)
	if fanName == "" {
		return nil, fmt.Errorf("%w: fan name is required", model.ErrInvalidInput)
	}

	var result *model.Pass
	err := s.locker.WithLock(passID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		pass, ok := s.passes[passID]
		if !ok {
			return model.ErrPassNotFound
		}
		if !pass.PhoneVerified {
			return fmt.Errorf("%w: phone number not verified", model.ErrPreconditionFailed)
		}

		pass.FanName = fanName
		result = pass.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PassStore) GetPass(ctx context.Context, passID string) (*model.Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pass, ok := s.passes[passID]
	if !ok {
		return nil, model.ErrPassNotFound
	}
	return pass.Clone(), nil
}

func (s *PassStore) RegisterDevice(ctx context.Context, passID string, platform model.Platform, deviceID, pushToken string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	registered := false
	err := s.locker.WithLock(passID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.passes[passID]; !ok {
			return nil
		}

		regs, ok := s.devices[passID]
		if !ok {
			regs = make(map[string]model.DeviceRegistration)
			s.devices[passID] = regs
		}
		regs[model.DeviceKey(platform, deviceID)] = model.DeviceRegistration{
			PassID:       passID,
			Platform:     platform,
			DeviceID:     deviceID,
			PushToken:    pushToken,
			RegisteredAt: s.now().UTC(),
		}
		registered = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if registered {
		s.logger.Debug("Device registered",
			zap.String("pass_id", passID),
			zap.String("platform", string(platform)))
	}
	return registered, nil
}

func (s *PassStore) ListDevices(ctx context.Context, passID string) (map[string]model.DeviceRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	regs := s.devices[passID]
	out := make(map[string]model.DeviceRegistration, len(regs))
	for key, reg := range regs {
		out[key] = reg
	}
	return out, nil
}
