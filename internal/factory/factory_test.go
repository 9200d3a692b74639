package factory

import (
	"context"
	"testing"

	"walletpass-service/internal/config"
	"walletpass-service/internal/model"
	"walletpass-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("PLATFORM_DEFAULT", "google")
	t.Setenv("VERIFICATION_EXPOSE_CODE", "true")
	t.Setenv("ARGON2_MEMORY_KB", "64")
	t.Setenv("ARGON2_TIME_COST", "1")
	return config.LoadConfig()
}

func TestNewFactoryWithConfig_Memory(t *testing.T) {
	f, err := NewFactoryWithConfig(memoryConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer f.Close()

	require.NotNil(t, f.PassService())
	assert.Nil(t, f.TLSManager())
	assert.True(t, f.IsHealthy(context.Background()))
	assert.True(t, f.Registry().Supports(model.PlatformApple))
	assert.True(t, f.Registry().Supports(model.PlatformGoogle))

	ctx := context.Background()
	svc := f.PassService()
	res, err := svc.Initiate(ctx, service.InitiateRequest{CountryCode: "+44", NationalNumber: "7700900123", ArtistID: "midnight-echo"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)

	_, err = svc.Verify(ctx, res.PassID, res.Code)
	require.NoError(t, err)

	// configured default applies when nothing identifies the platform
	dl, err := svc.Download(ctx, res.PassID, "", "")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformGoogle, dl.Detection.Platform)
	assert.True(t, dl.File.IsRedirect())
}

func TestNewFactoryWithConfig_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Driver = "cassandra"

	_, err := NewFactoryWithConfig(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestClose_IsIdempotent(t *testing.T) {
	f, err := NewFactoryWithConfig(memoryConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	f.WaitForClose()
}
