package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletpass-service/internal/client"
	"walletpass-service/internal/model"
	"walletpass-service/internal/util"
	"walletpass-service/internal/verification"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	otpPrefix = "otp:"
	// keys outlive the code so an expired code is reported as expired
	// rather than missing
	otpExpiryGrace = 5 * time.Minute
	maxTxRetries   = 10
)

// OTPLedger keeps verification entries in Redis so every instance shares
// them. Validation is a WATCH/MULTI compare-and-swap on the phone's key.
type OTPLedger struct {
	client *client.RedisClient
	policy *verification.Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewOTPLedger(client *client.RedisClient, policy *verification.Policy, logger *zap.Logger) *OTPLedger {
	return &OTPLedger{
		client: client,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

func (l *OTPLedger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *OTPLedger) IssueCode(ctx context.Context, phoneNumber string) (*model.IssuedCode, error) {
	entry, issued, err := l.policy.NewEntry(phoneNumber, l.now())
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification entry: %w", err)
	}

	// SET replaces any live code; a validator watching the key retries.
	if err := l.client.Client.Set(ctx, otpPrefix+phoneNumber, raw, l.policy.TTL()+otpExpiryGrace).Err(); err != nil {
		l.logger.Error("Failed to store verification code", util.Phone("phone_number", phoneNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to store verification code: %w", err)
	}

	l.logger.Debug("Verification code issued",
		util.Phone("phone_number", phoneNumber),
		zap.Time("expires_at", issued.ExpiresAt))

	return issued, nil
}

func (l *OTPLedger) ValidateCode(ctx context.Context, phoneNumber, submittedCode string) error {
	key := otpPrefix + phoneNumber
	var result error

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			result = model.ErrCodeNotFound
			return nil
		}
		if err != nil {
			return err
		}

		var entry model.VerificationEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("corrupt verification entry: %w", err)
		}

		action, outcome := l.policy.Evaluate(&entry, submittedCode, l.now())
		result = outcome

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			switch action {
			case verification.ActionIncrement:
				updated, err := json.Marshal(&entry)
				if err != nil {
					return err
				}
				pipe.Set(ctx, key, updated, goredis.KeepTTL)
			case verification.ActionDelete:
				pipe.Del(ctx, key)
			}
			return nil
		})
		return err
	}

	if err := l.client.Watch(ctx, maxTxRetries, txf, key); err != nil {
		l.logger.Error("Verification code transaction failed", util.Phone("phone_number", phoneNumber), zap.Error(err))
		return fmt.Errorf("failed to validate verification code: %w", err)
	}

	return result
}
