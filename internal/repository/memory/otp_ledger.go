package memory

import (
	"context"
	"sync"
	"time"

	"walletpass-service/internal/bucketing"
	"walletpass-service/internal/model"
	"walletpass-service/internal/util"
	"walletpass-service/internal/verification"

	"go.uber.org/zap"
)

// OTPLedger keeps verification entries in process memory. Issue and validate
// for one phone number run under that number's lock stripe.
type OTPLedger struct {
	policy  *verification.Policy
	locker  *bucketing.KeyLocker
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]model.VerificationEntry
}

func NewOTPLedger(policy *verification.Policy, locker *bucketing.KeyLocker, logger *zap.Logger) *OTPLedger {
	return &OTPLedger{
		policy:  policy,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]model.VerificationEntry),
	}
}

// SetClock replaces the time source used for expiry.
func (l *OTPLedger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *OTPLedger) IssueCode(ctx context.Context, phoneNumber string) (*model.IssuedCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := l.locker.Lock(phoneNumber)
	defer unlock()

	entry, issued, err := l.policy.NewEntry(phoneNumber, l.now())
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	_, replaced := l.entries[phoneNumber]
	l.entries[phoneNumber] = *entry
	l.mu.Unlock()

	l.logger.Debug("Verification code issued",
		util.Phone("phone_number", phoneNumber),
		zap.Bool("replaced", replaced),
		zap.Time("expires_at", issued.ExpiresAt))

	return issued, nil
}

func (l *OTPLedger) ValidateCode(ctx context.Context, phoneNumber, submittedCode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := l.locker.Lock(phoneNumber)
	defer unlock()

	l.mu.Lock()
	entry, ok := l.entries[phoneNumber]
	l.mu.Unlock()
	if !ok {
		return model.ErrCodeNotFound
	}

	action, result := l.policy.Evaluate(&entry, submittedCode, l.now())

	l.mu.Lock()
	switch action {
	case verification.ActionIncrement:
		l.entries[phoneNumber] = entry
	case verification.ActionDelete:
		delete(l.entries, phoneNumber)
	}
	l.mu.Unlock()

	if result != nil {
		l.logger.Debug("Verification code rejected",
			util.Phone("phone_number", phoneNumber),
			zap.Int("attempts", entry.Attempts),
			zap.Error(result))
	}
	return result
}

// Purge drops expired entries. Expiry is enforced at validation time; this
// only reclaims memory.
func (l *OTPLedger) Purge() int {
	now := l.now()

	l.mu.Lock()
	var expired []string
	for phone, entry := range l.entries {
		if !now.Before(entry.ExpiresAt) {
			expired = append(expired, phone)
		}
	}
	l.mu.Unlock()

	removed := 0
	for _, phone := range expired {
		unlock := l.locker.Lock(phone)
		l.mu.Lock()
		if entry, ok := l.entries[phone]; ok && !now.Before(entry.ExpiresAt) {
			delete(l.entries, phone)
			removed++
		}
		l.mu.Unlock()
		unlock()
	}
	return removed
}

// StartReaper runs Purge every interval until ctx is done.
func (l *OTPLedger) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := l.Purge(); removed > 0 {
					l.logger.Debug("Expired verification codes purged", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
