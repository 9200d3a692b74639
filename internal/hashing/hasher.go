package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"walletpass-service/internal/config"
	"walletpass-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash    = errors.New("invalid hash format")
	ErrPepperNotFound = errors.New("pepper version not found")
)

const (
	codeHashContext    = "verification-code"
	defaultKeepPeppers = 2
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value     string
	CreatedAt time.Time
	Version   int
}

// Hasher hashes verification codes with argon2id, a random salt and a
// rotating in-process pepper. Codes hashed under a retired pepper still verify
// while that pepper is retained.
type Hasher struct {
	params        Argon2Params
	rotationEvery time.Duration
	currentPepper *Pepper
	oldPeppers    []*Pepper
	mu            sync.RWMutex
	stop          chan struct{}
	stopOnce      sync.Once
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg config.HashingConfig) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Argon2MemoryCost),
		Iterations:  uint32(cfg.Argon2TimeCost),
		Parallelism: uint8(cfg.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}
	if params.Memory == 0 {
		params.Memory = 19456
	}
	if params.Iterations == 0 {
		params.Iterations = 2
	}
	if params.Parallelism == 0 {
		params.Parallelism = 1
	}

	h := &Hasher{
		params:        params,
		rotationEvery: time.Duration(cfg.PepperRotationDays) * 24 * time.Hour,
		stop:          make(chan struct{}),
	}

	if cfg.Pepper != "" {
		h.currentPepper = &Pepper{Value: cfg.Pepper, CreatedAt: time.Now(), Version: 1}
		h.rotationEvery = 0
		return h
	}

	h.rotatePepper()

	return h
}

func (h *Hasher) rotatePepper() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.currentPepper != nil {
		h.oldPeppers = append(h.oldPeppers, h.currentPepper)
		if len(h.oldPeppers) > defaultKeepPeppers {
			h.oldPeppers = h.oldPeppers[len(h.oldPeppers)-defaultKeepPeppers:]
		}
	}

	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}

	version := 1
	if h.currentPepper != nil {
		version = h.currentPepper.Version + 1
	}

	h.currentPepper = &Pepper{
		Value:     base64.RawURLEncoding.EncodeToString(pepperBytes),
		CreatedAt: time.Now(),
		Version:   version,
	}

	util.Debug("Pepper rotated", zap.Int("version", h.currentPepper.Version))
}

// StartPepperRotation rotates the pepper in the background until Stop is called.
func (h *Hasher) StartPepperRotation() {
	if h.rotationEvery <= 0 {
		return
	}
	ticker := time.NewTicker(h.rotationEvery)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.rotatePepper()
			case <-h.stop:
				return
			}
		}
	}()
}

func (h *Hasher) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hasher) HashCode(code string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := h.derive(code, pepper.Value, salt, h.params.KeyLength)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     "argon2id-v1",
	}, nil
}

func (h *Hasher) VerifyCode(code string, hashResult *HashResult) (bool, error) {
	pepper, err := h.getPepper(hashResult.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil || len(expectedHash) == 0 {
		return false, ErrInvalidHash
	}

	computedHash := h.derive(code, pepper, salt, uint32(len(expectedHash)))

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) derive(code, pepper string, salt []byte, keyLength uint32) []byte {
	return argon2.IDKey(
		[]byte(code+pepper+codeHashContext),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		keyLength,
	)
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}

	for _, pepper := range h.oldPeppers {
		if pepper.Version == version {
			return pepper.Value, nil
		}
	}

	return "", ErrPepperNotFound
}
