package model

import (
	"context"
	"strings"
	"time"
)

// -------------------- PLATFORM --------------------

type Platform string

const (
	PlatformApple   Platform = "apple"
	PlatformGoogle  Platform = "google"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a case-insensitive platform name or alias to a Platform.
// Unrecognised values yield PlatformUnknown and false.
func ParsePlatform(value string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "apple", "ios":
		return PlatformApple, true
	case "google", "android":
		return PlatformGoogle, true
	default:
		return PlatformUnknown, false
	}
}

type DetectionMethod string

const (
	MethodExplicitParameter DetectionMethod = "explicit_parameter"
	MethodSignalMatch       DetectionMethod = "signal_match"
	MethodHeuristic         DetectionMethod = "heuristic"
	MethodDefault           DetectionMethod = "default"
)

// DetectionResult is computed per request and never stored.
type DetectionResult struct {
	Platform   Platform        `json:"platform"`
	Method     DetectionMethod `json:"method"`
	Confidence float64         `json:"confidence"`
	Source     string          `json:"source"`
}

// SignatureAnalysis is diagnostic only; it never influences routing.
type SignatureAnalysis struct {
	IsDesktop bool   `json:"is_desktop"`
	IsMobile  bool   `json:"is_mobile"`
	IsBot     bool   `json:"is_bot"`
	Browser   string `json:"browser"`
	OS        string `json:"os"`
}

// -------------------- VERIFICATION --------------------

// VerificationEntry is keyed by the normalized phone number (country code and
// national number concatenated). CodeHash is never the plain code.
type VerificationEntry struct {
	PhoneNumber string    `json:"phone_number"`
	CodeHash    string    `json:"code_hash"`
	CodeSalt    string    `json:"code_salt"`
	PepperVer   int       `json:"pepper_version"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
}

type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
	TTL       time.Duration
}

// -------------------- PASS --------------------

type PassStatus string

const (
	PassStatusPending PassStatus = "pending"
	PassStatusActive  PassStatus = "active"
	PassStatusDeleted PassStatus = "deleted"
)

const (
	PlaceholderFanName = "Fan"
	FanIDLength        = 7
	// MaxFanIDAttempts bounds the search for an unused public fan id.
	MaxFanIDAttempts = 10
)

type Pass struct {
	PassID         string     `json:"pass_id"`
	FanName        string     `json:"fan_name"`
	CountryCode    string     `json:"country_code"`
	NationalNumber string     `json:"-"`
	FanID          string     `json:"fan_id"`
	ArtistID       string     `json:"artist_id"`
	Status         PassStatus `json:"status"`
	PhoneVerified  bool       `json:"phone_verified"`
	CreatedAt      time.Time  `json:"created_at"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

// PhoneNumber returns the normalized international number of the pass holder.
func (p *Pass) PhoneNumber() string {
	return NormalizePhone(p.CountryCode, p.NationalNumber)
}

// Clone returns a deep copy so callers never share store-owned state.
func (p *Pass) Clone() *Pass {
	if p == nil {
		return nil
	}
	cp := *p
	if p.VerifiedAt != nil {
		at := *p.VerifiedAt
		cp.VerifiedAt = &at
	}
	return &cp
}

// NormalizePhone strips formatting characters and joins the country code and
// national number into "+<digits>".
func NormalizePhone(countryCode, nationalNumber string) string {
	cc := stripPhoneFormatting(countryCode)
	cc = strings.TrimPrefix(cc, "+")
	nn := stripPhoneFormatting(nationalNumber)
	return "+" + cc + nn
}

func stripPhoneFormatting(s string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(strings.TrimSpace(s))
}

// -------------------- DEVICE --------------------

type DeviceRegistration struct {
	PassID       string    `json:"pass_id"`
	Platform     Platform  `json:"platform"`
	DeviceID     string    `json:"device_id"`
	PushToken    string    `json:"push_token,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DeviceKey is the composite key of a registration within a pass.
func DeviceKey(platform Platform, deviceID string) string {
	return string(platform) + ":" + deviceID
}

// -------------------- ARTIST --------------------

type ArtistTemplate struct {
	ArtistID        string `json:"artist_id" yaml:"id"`
	DisplayName     string `json:"display_name" yaml:"display_name"`
	TierName        string `json:"tier_name" yaml:"tier_name"`
	LogoURL         string `json:"logo_url" yaml:"logo_url"`
	HeroImageURL    string `json:"hero_image_url" yaml:"hero_image_url"`
	BackgroundColor string `json:"background_color" yaml:"background_color"`
	ForegroundColor string `json:"foreground_color" yaml:"foreground_color"`
}

// -------------------- EVENTS --------------------

type EventType string

const (
	EventPassInitiated  EventType = "pass.initiated"
	EventPassVerified   EventType = "pass.verified"
	EventPassCompleted  EventType = "pass.completed"
	EventPassDownloaded EventType = "pass.downloaded"
	EventPassNotified   EventType = "pass.notified"
)

// PassEvent never carries phone numbers.
type PassEvent struct {
	Type       EventType         `json:"type"`
	PassID     string            `json:"pass_id"`
	ArtistID   string            `json:"artist_id,omitempty"`
	Platform   Platform          `json:"platform,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type DetectionRecord struct {
	PassID        string
	Result        DetectionResult
	LowConfidence bool
	RecordedAt    time.Time
}

// -------------------- REPOSITORY INTERFACES --------------------

// VerificationLedger issues and validates one-time codes. Issue and validate
// for the same phone number are linearizable.
type VerificationLedger interface {
	IssueCode(ctx context.Context, phoneNumber string) (*IssuedCode, error)
	ValidateCode(ctx context.Context, phoneNumber, submittedCode string) error
}

// PassStore owns pass records and their device registrations. Mutations on
// one pass id are atomic with respect to each other. Returned values are copies.
type PassStore interface {
	CreatePass(ctx context.Context, countryCode, nationalNumber, artistID string) (*Pass, error)
	MarkVerified(ctx context.Context, passID string) (*Pass, error)
	CompletePass(ctx context.Context, passID, fanName string) (*Pass, error)
	GetPass(ctx context.Context, passID string) (*Pass, error)
	RegisterDevice(ctx context.Context, passID string, platform Platform, deviceID, pushToken string) (bool, error)
	ListDevices(ctx context.Context, passID string) (map[string]DeviceRegistration, error)
}

type ArtistCatalog interface {
	GetArtist(artistID string) (*ArtistTemplate, bool)
}

// -------------------- COLLABORATOR INTERFACES --------------------

type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event PassEvent) error
}

type DetectionRecorder interface {
	RecordDetection(ctx context.Context, record DetectionRecord) error
}
