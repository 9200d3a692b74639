package verification

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"walletpass-service/internal/config"
	"walletpass-service/internal/hashing"
	"walletpass-service/internal/model"
)

// Action tells a ledger what to do with the stored entry after a validation.
type Action int

const (
	// ActionDelete removes the entry: success, expiry or exhaustion.
	ActionDelete Action = iota
	// ActionIncrement persists one more failed attempt and keeps the entry.
	ActionIncrement
)

var phonePattern = regexp.MustCompile(`^\+[0-9]{2,15}$`)

// ValidatePhoneNumber checks the normalized international format: a leading
// '+' followed by 2 to 15 digits.
func ValidatePhoneNumber(phoneNumber string) error {
	if !phonePattern.MatchString(phoneNumber) {
		return model.ErrInvalidFormat
	}
	return nil
}

// RandomDigits returns a uniformly drawn numeral of exactly length digits
// with no leading zero.
func RandomDigits(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid numeral length %d", length)
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(low, big.NewInt(10)), low)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("failed to generate random numeral: %w", err)
	}
	return n.Add(n, low).String(), nil
}

// Policy holds the code lifetime rules shared by every ledger implementation.
// Ledgers own storage and atomicity; Policy owns the decisions.
type Policy struct {
	ttl         time.Duration
	maxAttempts int
	codeLength  int
	hasher      *hashing.Hasher
}

func NewPolicy(cfg config.VerificationConfig, hasher *hashing.Hasher) *Policy {
	p := &Policy{
		ttl:         cfg.CodeTTL,
		maxAttempts: cfg.MaxAttempts,
		codeLength:  cfg.CodeLength,
		hasher:      hasher,
	}
	if p.ttl <= 0 {
		p.ttl = 10 * time.Minute
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.codeLength <= 0 {
		p.codeLength = 6
	}
	return p
}

func (p *Policy) TTL() time.Duration { return p.ttl }

func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// NewEntry validates the phone number and prepares a fresh entry holding only
// the hash of a newly generated code.
func (p *Policy) NewEntry(phoneNumber string, now time.Time) (*model.VerificationEntry, *model.IssuedCode, error) {
	if err := ValidatePhoneNumber(phoneNumber); err != nil {
		return nil, nil, err
	}

	code, err := RandomDigits(p.codeLength)
	if err != nil {
		return nil, nil, err
	}

	hashed, err := p.hasher.HashCode(code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash verification code: %w", err)
	}

	expiresAt := now.Add(p.ttl)
	entry := &model.VerificationEntry{
		PhoneNumber: phoneNumber,
		CodeHash:    hashed.Hash,
		CodeSalt:    hashed.Salt,
		PepperVer:   hashed.PepperVersion,
		ExpiresAt:   expiresAt,
		Attempts:    0,
	}
	return entry, &model.IssuedCode{Code: code, ExpiresAt: expiresAt, TTL: p.ttl}, nil
}

// Evaluate applies the validation order to a live entry: expiry, then the
// attempt budget, then the code comparison. The returned error is the
// business outcome for the caller (nil on success).
func (p *Policy) Evaluate(entry *model.VerificationEntry, submittedCode string, now time.Time) (Action, error) {
	if !now.Before(entry.ExpiresAt) {
		return ActionDelete, model.ErrCodeExpired
	}

	if entry.Attempts >= p.maxAttempts {
		return ActionDelete, model.ErrAttemptsExhausted
	}

	ok, err := p.hasher.VerifyCode(submittedCode, &hashing.HashResult{
		Hash:          entry.CodeHash,
		Salt:          entry.CodeSalt,
		PepperVersion: entry.PepperVer,
	})
	if err != nil {
		// a retired pepper or a corrupt hash can never match again
		if errors.Is(err, hashing.ErrPepperNotFound) || errors.Is(err, hashing.ErrInvalidHash) {
			return ActionDelete, model.ErrCodeExpired
		}
		return ActionDelete, err
	}

	if !ok {
		entry.Attempts++
		return ActionIncrement, &model.CodeMismatchError{Remaining: p.maxAttempts - entry.Attempts}
	}

	return ActionDelete, nil
}
