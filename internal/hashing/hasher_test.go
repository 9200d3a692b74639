package hashing

import (
	"testing"

	"walletpass-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHasher() *Hasher {
	return NewHasher(config.HashingConfig{
		Argon2MemoryCost:  64,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	})
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher()

	result, err := h.HashCode("123456")
	require.NoError(t, err)
	assert.NotContains(t, result.Hash, "123456")
	assert.Equal(t, "argon2id-v1", result.Algorithm)

	ok, err := h.VerifyCode("123456", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyCode("654321", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_SaltsDiffer(t *testing.T) {
	h := newTestHasher()

	first, err := h.HashCode("123456")
	require.NoError(t, err)
	second, err := h.HashCode("123456")
	require.NoError(t, err)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestHasher_VerifiesAcrossRotation(t *testing.T) {
	h := newTestHasher()

	result, err := h.HashCode("424242")
	require.NoError(t, err)

	h.rotatePepper()
	ok, err := h.VerifyCode("424242", result)
	require.NoError(t, err)
	assert.True(t, ok)

	h.rotatePepper()
	h.rotatePepper()
	_, err = h.VerifyCode("424242", result)
	assert.ErrorIs(t, err, ErrPepperNotFound)
}

func TestHasher_InvalidHash(t *testing.T) {
	h := newTestHasher()

	_, err := h.VerifyCode("123456", &HashResult{Hash: "!!", Salt: "c2FsdA", PepperVersion: 1})
	assert.ErrorIs(t, err, ErrInvalidHash)
}
