package wallet

import (
	"context"

	"walletpass-service/internal/model"
)

// PassData is everything a backend needs to render one pass.
type PassData struct {
	Pass   *model.Pass
	Artist *model.ArtistTemplate
}

// PassFile is the artifact of GeneratePass. File backends fill Content,
// MimeType and Filename; URL backends fill RedirectURL. Callers branch on
// IsRedirect.
type PassFile struct {
	Content     []byte
	MimeType    string
	Filename    string
	RedirectURL string
}

func (f *PassFile) IsRedirect() bool {
	return f.RedirectURL != ""
}

// PushResult reports one notification attempt. Detail is set on success,
// Reason on failure.
type PushResult struct {
	Platform model.Platform `json:"platform"`
	DeviceID string         `json:"device_id"`
	Success  bool           `json:"success"`
	Detail   string         `json:"detail,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Requirements documents a backend's setup; it carries no behaviour.
type Requirements struct {
	Platform     model.Platform `json:"platform"`
	Name         string         `json:"name"`
	DeliveryMode string         `json:"delivery_mode"`
	MimeType     string         `json:"mime_type,omitempty"`
	Credentials  []string       `json:"credentials"`
	Production   []string       `json:"production"`
	Configured   bool           `json:"configured"`
}

// Backend is one wallet ecosystem.
type Backend interface {
	Name() string
	Platform() model.Platform
	GeneratePass(ctx context.Context, data PassData) (*PassFile, error)
	SendPushNotification(ctx context.Context, deviceID, passID, message string) PushResult
	RegisterDevice(ctx context.Context, passID, deviceID, pushToken string) (bool, error)
	DescribeRequirements() Requirements
}
