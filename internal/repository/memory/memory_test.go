package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"walletpass-service/internal/bucketing"
	"walletpass-service/internal/catalog"
	"walletpass-service/internal/config"
	"walletpass-service/internal/hashing"
	"walletpass-service/internal/model"
	"walletpass-service/internal/verification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testPhone = "+15551234567"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T) (*OTPLedger, *fakeClock) {
	hasher := hashing.NewHasher(config.HashingConfig{Argon2MemoryCost: 64, Argon2TimeCost: 1, Argon2Parallelism: 1})
	policy := verification.NewPolicy(config.VerificationConfig{CodeTTL: 10 * time.Minute, MaxAttempts: 3, CodeLength: 6}, hasher)
	ledger := NewOTPLedger(policy, bucketing.NewKeyLocker(16), zaptest.NewLogger(t))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	ledger.SetClock(clock.Now)
	return ledger, clock
}

func wrong(code string) string {
	n, _ := strconv.Atoi(code)
	if n == 999999 {
		return "100000"
	}
	return strconv.Itoa(n + 1)
}

func TestOTPLedger_ValidateOnce(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	issued, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)

	require.NoError(t, ledger.ValidateCode(ctx, testPhone, issued.Code))
	assert.ErrorIs(t, ledger.ValidateCode(ctx, testPhone, issued.Code), model.ErrNotFound)
}

func TestOTPLedger_ReissueInvalidatesPrevious(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)
	second, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)

	if first.Code != second.Code {
		assert.ErrorIs(t, ledger.ValidateCode(ctx, testPhone, first.Code), model.ErrCodeMismatch)
	}
	assert.NoError(t, ledger.ValidateCode(ctx, testPhone, second.Code))
}

func TestOTPLedger_StrictAttemptBudget(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	issued, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)

	for expected := 2; expected >= 0; expected-- {
		err := ledger.ValidateCode(ctx, testPhone, wrong(issued.Code))
		require.ErrorIs(t, err, model.ErrCodeMismatch)
		remaining, ok := model.RemainingAttempts(err)
		require.True(t, ok)
		assert.Equal(t, expected, remaining)
	}

	assert.ErrorIs(t, ledger.ValidateCode(ctx, testPhone, issued.Code), model.ErrAttemptsExhausted)
	assert.ErrorIs(t, ledger.ValidateCode(ctx, testPhone, issued.Code), model.ErrNotFound)
}

func TestOTPLedger_Expiry(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	issued, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	assert.ErrorIs(t, ledger.ValidateCode(ctx, testPhone, issued.Code), model.ErrCodeExpired)
	assert.ErrorIs(t, ledger.ValidateCode(ctx, testPhone, issued.Code), model.ErrNotFound)
}

func TestOTPLedger_InvalidFormat(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.IssueCode(context.Background(), "5551234567")
	assert.ErrorIs(t, err, model.ErrInvalidFormat)
}

func TestOTPLedger_ConcurrentGuessesCountEveryAttempt(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	issued, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		mismatches int
		exhausted  int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.ValidateCode(ctx, testPhone, wrong(issued.Code))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				t.Error("wrong code accepted")
			case errors.Is(err, model.ErrCodeMismatch):
				mismatches++
			case errors.Is(err, model.ErrAttemptsExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, mismatches)
	assert.Equal(t, 1, exhausted)
}

func TestOTPLedger_Purge(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.IssueCode(ctx, testPhone)
	require.NoError(t, err)
	_, err = ledger.IssueCode(ctx, "+447911123456")
	require.NoError(t, err)

	assert.Equal(t, 0, ledger.Purge())
	clock.Advance(11 * time.Minute)
	assert.Equal(t, 2, ledger.Purge())
}

func newTestStore(t *testing.T) *PassStore {
	return NewPassStore(catalog.Default(), bucketing.NewKeyLocker(16), zaptest.NewLogger(t))
}

func TestPassStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pass, err := store.CreatePass(ctx, "+1", "5551234567", "aurora-waves")
	require.NoError(t, err)
	assert.NotEmpty(t, pass.PassID)
	assert.Len(t, pass.FanID, model.FanIDLength)
	assert.Equal(t, model.PassStatusPending, pass.Status)
	assert.False(t, pass.PhoneVerified)
	assert.Equal(t, model.PlaceholderFanName, pass.FanName)
	assert.Equal(t, testPhone, pass.PhoneNumber())

	_, err = store.CompletePass(ctx, pass.PassID, "Ada Lovelace")
	assert.ErrorIs(t, err, model.ErrPreconditionFailed)

	verified, err := store.MarkVerified(ctx, pass.PassID)
	require.NoError(t, err)
	assert.True(t, verified.PhoneVerified)
	assert.Equal(t, model.PassStatusActive, verified.Status)
	require.NotNil(t, verified.VerifiedAt)

	_, err = store.MarkVerified(ctx, pass.PassID)
	assert.ErrorIs(t, err, model.ErrAlreadyVerified)

	completed, err := store.CompletePass(ctx, pass.PassID, "  Ada Lovelace ")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", completed.FanName)

	_, err = store.CompletePass(ctx, pass.PassID, " ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestPassStore_Errors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreatePass(ctx, "1", "5551234567", "unknown-artist")
	assert.ErrorIs(t, err, model.ErrUnknownArtist)

	_, err = store.CreatePass(ctx, "1", "55x", "aurora-waves")
	assert.ErrorIs(t, err, model.ErrInvalidFormat)

	_, err = store.GetPass(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.MarkVerified(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.CompletePass(ctx, "missing", "Ada")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPassStore_ReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pass, err := store.CreatePass(ctx, "1", "5551234567", "aurora-waves")
	require.NoError(t, err)

	pass.PhoneVerified = true
	pass.FanName = "tampered"

	stored, err := store.GetPass(ctx, pass.PassID)
	require.NoError(t, err)
	assert.False(t, stored.PhoneVerified)
	assert.Equal(t, model.PlaceholderFanName, stored.FanName)

	ok, err := store.RegisterDevice(ctx, pass.PassID, model.PlatformApple, "device-1", "token")
	require.NoError(t, err)
	require.True(t, ok)

	devices, err := store.ListDevices(ctx, pass.PassID)
	require.NoError(t, err)
	delete(devices, model.DeviceKey(model.PlatformApple, "device-1"))

	devices, err = store.ListDevices(ctx, pass.PassID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestPassStore_Devices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.RegisterDevice(ctx, "missing", model.PlatformApple, "d", "")
	require.NoError(t, err)
	assert.False(t, ok)

	devices, err := store.ListDevices(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, devices)

	pass, err := store.CreatePass(ctx, "1", "5551234567", "aurora-waves")
	require.NoError(t, err)

	_, err = store.RegisterDevice(ctx, pass.PassID, model.PlatformApple, "d1", "old")
	require.NoError(t, err)
	_, err = store.RegisterDevice(ctx, pass.PassID, model.PlatformApple, "d1", "new")
	require.NoError(t, err)
	_, err = store.RegisterDevice(ctx, pass.PassID, model.PlatformGoogle, "d1", "")
	require.NoError(t, err)

	devices, err = store.ListDevices(ctx, pass.PassID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "new", devices["apple:d1"].PushToken)
	assert.Equal(t, model.PlatformGoogle, devices["google:d1"].Platform)
}

func TestPassStore_ConcurrentMarkVerifiedSucceedsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pass, err := store.CreatePass(ctx, "1", "5551234567", "aurora-waves")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.MarkVerified(ctx, pass.PassID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestPassStore_UniqueFanIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		pass, err := store.CreatePass(ctx, "1", "5551234567", "solar-flare")
		require.NoError(t, err)
		_, dup := seen[pass.FanID]
		require.False(t, dup)
		seen[pass.FanID] = struct{}{}
	}
}
