package wallet

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"walletpass-service/internal/bucketing"
	"walletpass-service/internal/catalog"
	"walletpass-service/internal/config"
	"walletpass-service/internal/model"
	"walletpass-service/internal/repository/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testPassData() PassData {
	artist, _ := catalog.Default().GetArtist("aurora-waves")
	return PassData{
		Pass: &model.Pass{
			PassID:        "7d5e4c1a-0000-4000-8000-000000000001",
			FanName:       "Ada Lovelace",
			FanID:         "1234567",
			ArtistID:      artist.ArtistID,
			Status:        model.PassStatusActive,
			PhoneVerified: true,
		},
		Artist: artist,
	}
}

func newTestStore(t *testing.T) *memory.PassStore {
	return memory.NewPassStore(catalog.Default(), bucketing.NewKeyLocker(8), zaptest.NewLogger(t))
}

func readZip(t *testing.T, content []byte) map[string][]byte {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		files[f.Name] = data
	}
	return files
}

func TestAppleBackend_GeneratePass(t *testing.T) {
	b := NewAppleBackend(config.AppleWalletConfig{
		PassTypeID:       "pass.com.example.fanpass",
		TeamID:           "TEAM123456",
		OrganizationName: "Fan Pass",
	}, newTestStore(t), zaptest.NewLogger(t))

	file, err := b.GeneratePass(context.Background(), testPassData())
	require.NoError(t, err)
	assert.False(t, file.IsRedirect())
	assert.Equal(t, "application/vnd.apple.pkpass", file.MimeType)
	assert.Equal(t, "fanpass-1234567.pkpass", file.Filename)

	files := readZip(t, file.Content)
	require.Contains(t, files, "pass.json")
	require.Contains(t, files, "manifest.json")

	var pass map[string]interface{}
	require.NoError(t, json.Unmarshal(files["pass.json"], &pass))
	assert.Equal(t, "pass.com.example.fanpass", pass["passTypeIdentifier"])
	assert.Equal(t, testPassData().Pass.PassID, pass["serialNumber"])
	assert.Equal(t, "TEAM123456", pass["teamIdentifier"])
	assert.NotContains(t, pass, "webServiceURL")

	var manifest map[string]string
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	sum := sha1.Sum(files["pass.json"])
	assert.Equal(t, hex.EncodeToString(sum[:]), manifest["pass.json"])
}

func TestAppleBackend_WebServiceToken(t *testing.T) {
	b := NewAppleBackend(config.AppleWalletConfig{WebServiceURL: "https://passes.example.com"}, newTestStore(t), zaptest.NewLogger(t))

	file, err := b.GeneratePass(context.Background(), testPassData())
	require.NoError(t, err)

	var pass map[string]interface{}
	require.NoError(t, json.Unmarshal(readZip(t, file.Content)["pass.json"], &pass))
	assert.Equal(t, "https://passes.example.com", pass["webServiceURL"])
	assert.GreaterOrEqual(t, len(pass["authenticationToken"].(string)), 16)
}

func TestAppleBackend_Push(t *testing.T) {
	store := newTestStore(t)
	b := NewAppleBackend(config.AppleWalletConfig{}, store, zaptest.NewLogger(t))
	ctx := context.Background()

	pass, err := store.CreatePass(ctx, "1", "5551234567", "aurora-waves")
	require.NoError(t, err)

	res := b.SendPushNotification(ctx, "unknown", pass.PassID, "hello")
	assert.False(t, res.Success)
	assert.Equal(t, "device not registered", res.Reason)

	ok, err := b.RegisterDevice(ctx, pass.PassID, "no-token", "")
	require.NoError(t, err)
	require.True(t, ok)
	res = b.SendPushNotification(ctx, "no-token", pass.PassID, "hello")
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "push token")

	_, err = b.RegisterDevice(ctx, pass.PassID, "phone", "apns-token")
	require.NoError(t, err)
	res = b.SendPushNotification(ctx, "phone", pass.PassID, "hello")
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Detail)

	devices, err := store.ListDevices(ctx, pass.PassID)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformApple, devices["apple:phone"].Platform)
}

func TestGoogleBackend_GeneratePass(t *testing.T) {
	cfg := config.GoogleWalletConfig{
		IssuerID:            "3388000000000000000",
		ServiceAccountEmail: "wallet@example.iam.gserviceaccount.com",
		SigningSecret:       "test-secret",
		Origins:             []string{"https://fans.example.com"},
	}
	b := NewGoogleBackend(cfg, newTestStore(t), zaptest.NewLogger(t))
	b.now = func() time.Time { return time.Unix(1700000000, 0) }

	file, err := b.GeneratePass(context.Background(), testPassData())
	require.NoError(t, err)
	require.True(t, file.IsRedirect())
	require.True(t, strings.HasPrefix(file.RedirectURL, "https://pay.google.com/gp/v/save/"))
	assert.Empty(t, file.Content)

	raw := strings.TrimPrefix(file.RedirectURL, "https://pay.google.com/gp/v/save/")
	claims := &SaveClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	assert.Equal(t, "savetowallet", claims.Typ)
	assert.Equal(t, cfg.ServiceAccountEmail, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"google"}, claims.Audience)
	require.Len(t, claims.Payload.GenericObjects, 1)
	obj := claims.Payload.GenericObjects[0]
	assert.Equal(t, "3388000000000000000.7d5e4c1a-0000-4000-8000-000000000001", obj.ID)
	assert.Equal(t, "3388000000000000000.aurora-waves", obj.ClassID)
	assert.Equal(t, "Ada Lovelace", obj.Header.DefaultValue.Value)
	assert.Equal(t, "1234567", obj.Barcode.Value)
}

func TestGoogleBackend_MissingSecret(t *testing.T) {
	b := NewGoogleBackend(config.GoogleWalletConfig{}, newTestStore(t), zaptest.NewLogger(t))

	_, err := b.GeneratePass(context.Background(), testPassData())
	assert.Error(t, err)
	assert.False(t, b.DescribeRequirements().Configured)
}

type fakeBackend struct {
	platform         model.Platform
	generatePassFunc func(ctx context.Context, data PassData) (*PassFile, error)
}

func (f *fakeBackend) Name() string             { return "fake-" + string(f.platform) }
func (f *fakeBackend) Platform() model.Platform { return f.platform }
func (f *fakeBackend) GeneratePass(ctx context.Context, data PassData) (*PassFile, error) {
	return f.generatePassFunc(ctx, data)
}
func (f *fakeBackend) SendPushNotification(ctx context.Context, deviceID, passID, message string) PushResult {
	return PushResult{Success: true, Detail: "ok"}
}
func (f *fakeBackend) RegisterDevice(ctx context.Context, passID, deviceID, pushToken string) (bool, error) {
	return true, nil
}
func (f *fakeBackend) DescribeRequirements() Requirements {
	return Requirements{Platform: f.platform, Name: f.Name()}
}

func fileBackend(p model.Platform) *fakeBackend {
	return &fakeBackend{platform: p, generatePassFunc: func(ctx context.Context, data PassData) (*PassFile, error) {
		return &PassFile{Content: []byte(p), MimeType: "text/plain", Filename: "x"}, nil
	}}
}

func TestRegistry_ResolveFallsBackToDefault(t *testing.T) {
	r, err := NewRegistry(model.PlatformGoogle, time.Second, zaptest.NewLogger(t),
		fileBackend(model.PlatformApple), fileBackend(model.PlatformGoogle))
	require.NoError(t, err)

	assert.Equal(t, model.PlatformApple, r.Resolve(model.PlatformApple).Platform())
	assert.Equal(t, model.PlatformGoogle, r.Resolve(model.PlatformUnknown).Platform())

	file, err := r.GeneratePass(context.Background(), model.PlatformUnknown, testPassData())
	require.NoError(t, err)
	assert.Equal(t, []byte("google"), file.Content)

	res := r.SendPushNotification(context.Background(), model.PlatformUnknown, "d1", "p1", "msg")
	assert.Equal(t, model.PlatformGoogle, res.Platform)
	assert.Equal(t, "d1", res.DeviceID)
}

func TestRegistry_Construction(t *testing.T) {
	_, err := NewRegistry(model.PlatformGoogle, time.Second, zaptest.NewLogger(t), fileBackend(model.PlatformApple))
	assert.Error(t, err, "default platform must have a backend")

	_, err = NewRegistry(model.PlatformApple, time.Second, zaptest.NewLogger(t),
		fileBackend(model.PlatformApple), fileBackend(model.PlatformApple))
	assert.Error(t, err, "duplicate platforms are rejected")
}

func TestRegistry_WrapsBackendErrors(t *testing.T) {
	failing := &fakeBackend{platform: model.PlatformApple, generatePassFunc: func(ctx context.Context, data PassData) (*PassFile, error) {
		return nil, errors.New("signing certificate expired")
	}}
	r, err := NewRegistry(model.PlatformApple, time.Second, zaptest.NewLogger(t), failing)
	require.NoError(t, err)

	_, err = r.GeneratePass(context.Background(), model.PlatformApple, testPassData())
	assert.ErrorIs(t, err, model.ErrBackendFailure)
}

func TestRegistry_RejectsEmptyArtifact(t *testing.T) {
	empty := &fakeBackend{platform: model.PlatformApple, generatePassFunc: func(ctx context.Context, data PassData) (*PassFile, error) {
		return &PassFile{}, nil
	}}
	r, err := NewRegistry(model.PlatformApple, time.Second, zaptest.NewLogger(t), empty)
	require.NoError(t, err)

	_, err = r.GeneratePass(context.Background(), model.PlatformApple, testPassData())
	assert.ErrorIs(t, err, model.ErrBackendFailure)
}

func TestRegistry_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := &fakeBackend{platform: model.PlatformApple, generatePassFunc: func(ctx context.Context, data PassData) (*PassFile, error) {
		<-release
		return &PassFile{Content: []byte("late")}, nil
	}}
	r, err := NewRegistry(model.PlatformApple, 20*time.Millisecond, zaptest.NewLogger(t), slow)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.GeneratePass(context.Background(), model.PlatformApple, testPassData())
	assert.ErrorIs(t, err, model.ErrBackendFailure)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_Requirements(t *testing.T) {
	store := newTestStore(t)
	logger := zaptest.NewLogger(t)
	r, err := NewRegistry(model.PlatformApple, time.Second, logger,
		NewGoogleBackend(config.GoogleWalletConfig{}, store, logger),
		NewAppleBackend(config.AppleWalletConfig{}, store, logger))
	require.NoError(t, err)

	reqs := r.Requirements()
	require.Len(t, reqs, 2)
	assert.Equal(t, model.PlatformApple, reqs[0].Platform)
	assert.Equal(t, "file", reqs[0].DeliveryMode)
	assert.Equal(t, model.PlatformGoogle, reqs[1].Platform)
	assert.Equal(t, "redirect", reqs[1].DeliveryMode)
	assert.True(t, r.Supports(model.PlatformGoogle))
	assert.False(t, r.Supports(model.PlatformUnknown))
}
