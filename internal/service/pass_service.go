package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"walletpass-service/internal/model"
	"walletpass-service/internal/platform"
	"walletpass-service/internal/util"
	"walletpass-service/internal/verification"
	"walletpass-service/internal/wallet"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxFanNameLength = 64
	maxMessageLength = 512
	notifyFanOut     = 8
	sideEffectBudget = 2 * time.Second
)

// PassServiceDeps are the collaborators of PassService. Every field is
// required.
type PassServiceDeps struct {
	Ledger   model.VerificationLedger
	Store    model.PassStore
	Catalog  model.ArtistCatalog
	Detector *platform.Detector
	Registry *wallet.Registry
	SMS      model.SMSSender
	Events   model.EventPublisher
	Recorder model.DetectionRecorder
}

type PassServiceOptions struct {
	// ExposeCode returns the issued code from Initiate. Demo use only.
	ExposeCode             bool
	LowConfidenceThreshold float64
	PublicBaseURL          string
}

// PassService drives a pass from initiation through verification,
// completion, download and notification.
type PassService struct {
	ledger   model.VerificationLedger
	store    model.PassStore
	catalog  model.ArtistCatalog
	detector *platform.Detector
	registry *wallet.Registry
	sms      model.SMSSender
	events   model.EventPublisher
	recorder model.DetectionRecorder
	opts     PassServiceOptions
	logger   *zap.Logger
	now      func() time.Time

	background sync.WaitGroup
}

func NewPassService(deps PassServiceDeps, opts PassServiceOptions, logger *zap.Logger) *PassService {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &PassService{
		ledger:   deps.Ledger,
		store:    deps.Store,
		catalog:  deps.Catalog,
		detector: deps.Detector,
		registry: deps.Registry,
		sms:      deps.SMS,
		events:   deps.Events,
		recorder: deps.Recorder,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// PassView is a pass as shown to clients: the phone number is masked.
type PassView struct {
	PassID        string           `json:"pass_id"`
	FanName       string           `json:"fan_name"`
	FanID         string           `json:"fan_id"`
	ArtistID      string           `json:"artist_id"`
	Status        model.PassStatus `json:"status"`
	PhoneVerified bool             `json:"phone_verified"`
	MaskedPhone   string           `json:"masked_phone"`
	CreatedAt     time.Time        `json:"created_at"`
	VerifiedAt    *time.Time       `json:"verified_at,omitempty"`
}

func newPassView(p *model.Pass) *PassView {
	return &PassView{
		PassID:        p.PassID,
		FanName:       p.FanName,
		FanID:         p.FanID,
		ArtistID:      p.ArtistID,
		Status:        p.Status,
		PhoneVerified: p.PhoneVerified,
		MaskedPhone:   util.MaskPhone(p.PhoneNumber()),
		CreatedAt:     p.CreatedAt,
		VerifiedAt:    p.VerifiedAt,
	}
}

type InitiateRequest struct {
	CountryCode    string `json:"country_code"`
	NationalNumber string `json:"national_number"`
	ArtistID       string `json:"artist_id"`
}

type InitiateResult struct {
	PassID           string        `json:"pass_id"`
	MaskedPhone      string        `json:"masked_phone"`
	ExpiresIn        time.Duration `json:"-"`
	ExpiresInSeconds int           `json:"expires_in_seconds"`
	ExpiresAt        time.Time     `json:"expires_at"`
	CodeDelivered    bool          `json:"code_delivered"`
	Code             string        `json:"code,omitempty"`
}

// Initiate issues a verification code for the phone number and creates a
// pending pass for it.
func (s *PassService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	phone := model.NormalizePhone(req.CountryCode, req.NationalNumber)
	if err := verification.ValidatePhoneNumber(phone); err != nil {
		return nil, err
	}
	artistID := strings.TrimSpace(req.ArtistID)
	if _, ok := s.catalog.GetArtist(artistID); !ok {
		return nil, model.ErrUnknownArtist
	}

	// The pass goes first so a failed creation never leaves a live code.
	pass, err := s.store.CreatePass(ctx, req.CountryCode, req.NationalNumber, artistID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pass: %w", err)
	}

	issued, err := s.ledger.IssueCode(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to issue verification code: %w", err)
	}

	delivered := true
	message := fmt.Sprintf("Your verification code is: %s", issued.Code)
	if err := s.sms.SendSMS(ctx, phone, message); err != nil {
		delivered = false
		s.logger.Error("Verification code delivery failed",
			zap.String("pass_id", pass.PassID),
			util.Phone("phone_number", phone),
			zap.Error(err))
	}

	s.logger.Info("Pass initiated",
		zap.String("pass_id", pass.PassID),
		zap.String("artist_id", artistID),
		util.Phone("phone_number", phone),
		zap.Duration("expires_in", issued.TTL))

	s.publish(ctx, model.PassEvent{Type: model.EventPassInitiated, PassID: pass.PassID, ArtistID: artistID})

	result := &InitiateResult{
		PassID:           pass.PassID,
		MaskedPhone:      util.MaskPhone(phone),
		ExpiresIn:        issued.TTL,
		ExpiresInSeconds: int(issued.TTL.Seconds()),
		ExpiresAt:        issued.ExpiresAt,
		CodeDelivered:    delivered,
	}
	if s.opts.ExposeCode {
		result.Code = issued.Code
	}
	return result, nil
}

// Verify checks the submitted code against the pass's phone number and marks
// the pass verified on success.
func (s *PassService) Verify(ctx context.Context, passID, code string) (*PassView, error) {
	pass, err := s.store.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	if pass.PhoneVerified {
		return nil, model.ErrAlreadyVerified
	}

	if err := s.ledger.ValidateCode(ctx, pass.PhoneNumber(), strings.TrimSpace(code)); err != nil {
		s.logger.Info("Verification rejected",
			zap.String("pass_id", passID),
			zap.Error(err))
		return nil, err
	}

	verified, err := s.store.MarkVerified(ctx, passID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Pass verified", zap.String("pass_id", passID))
	s.publish(ctx, model.PassEvent{Type: model.EventPassVerified, PassID: passID, ArtistID: verified.ArtistID})

	return newPassView(verified), nil
}

type CompleteResult struct {
	Pass          *PassView         `json:"pass"`
	DownloadLinks map[string]string `json:"download_links"`
}

// Complete sets the fan's display name on a verified pass.
func (s *PassService) Complete(ctx context.Context, passID, fanName string) (*CompleteResult, error) {
	fanName = strings.TrimSpace(fanName)
	if fanName == "" || len(fanName) > maxFanNameLength || util.ContainsSuspicious(fanName) {
		return nil, fmt.Errorf("%w: fan name", model.ErrInvalidInput)
	}

	pass, err := s.store.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	if !pass.PhoneVerified {
		return nil, model.ErrPreconditionFailed
	}

	completed, err := s.store.CompletePass(ctx, passID, fanName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Pass completed", zap.String("pass_id", passID))
	s.publish(ctx, model.PassEvent{Type: model.EventPassCompleted, PassID: passID, ArtistID: completed.ArtistID})

	return &CompleteResult{
		Pass:          newPassView(completed),
		DownloadLinks: s.downloadLinks(passID),
	}, nil
}

func (s *PassService) downloadLinks(passID string) map[string]string {
	base := fmt.Sprintf("%s/api/v1/passes/%s/download", s.opts.PublicBaseURL, url.PathEscape(passID))
	return map[string]string{
		string(model.PlatformApple):  base + "?platform=apple",
		string(model.PlatformGoogle): base + "?platform=google",
		"auto":                       base,
	}
}

type DownloadResult struct {
	File          *wallet.PassFile
	Detection     model.DetectionResult
	LowConfidence bool
}

// Download detects the caller's platform and renders the pass on that
// platform's backend. Low confidence is flagged, never rejected.
func (s *PassService) Download(ctx context.Context, passID, hint, signature string) (*DownloadResult, error) {
	pass, err := s.store.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	if !pass.PhoneVerified {
		return nil, model.ErrPreconditionFailed
	}
	artist, ok := s.catalog.GetArtist(pass.ArtistID)
	if !ok {
		return nil, model.ErrUnknownArtist
	}

	detection := s.detector.Detect(hint, signature)
	low := detection.Method != model.MethodExplicitParameter && detection.Confidence < s.opts.LowConfidenceThreshold

	fields := []zap.Field{
		zap.String("pass_id", passID),
		zap.String("platform", string(detection.Platform)),
		zap.String("method", string(detection.Method)),
		util.Float64("confidence", detection.Confidence),
		zap.String("source", detection.Source),
	}
	if low {
		s.logger.Warn("Low confidence platform detection, consider prompting the user", fields...)
	} else {
		s.logger.Info("Platform detected", fields...)
	}

	s.record(ctx, model.DetectionRecord{
		PassID:        passID,
		Result:        detection,
		LowConfidence: low,
		RecordedAt:    s.now().UTC(),
	})

	file, err := s.registry.GeneratePass(ctx, detection.Platform, wallet.PassData{Pass: pass, Artist: artist})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.PassEvent{
		Type:     model.EventPassDownloaded,
		PassID:   passID,
		ArtistID: pass.ArtistID,
		Platform: detection.Platform,
		Attributes: map[string]string{
			"method":   string(detection.Method),
			"redirect": fmt.Sprintf("%t", file.IsRedirect()),
		},
	})

	return &DownloadResult{File: file, Detection: detection, LowConfidence: low}, nil
}

type PlatformSummary struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type NotifyResult struct {
	PassID    string                             `json:"pass_id"`
	Sent      int                                `json:"sent"`
	Failed    int                                `json:"failed"`
	Platforms map[model.Platform]PlatformSummary `json:"platforms"`
	Results   []wallet.PushResult                `json:"results"`
}

// Notify pushes the message to every device registered for the pass. A
// failing platform is reported in the result and does not fail the call.
func (s *PassService) Notify(ctx context.Context, passID, message string) (*NotifyResult, error) {
	message = strings.TrimSpace(message)
	if message == "" || len(message) > maxMessageLength {
		return nil, fmt.Errorf("%w: message", model.ErrInvalidInput)
	}

	pass, err := s.store.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	if !pass.PhoneVerified {
		return nil, model.ErrPreconditionFailed
	}
	devices, err := s.store.ListDevices(ctx, passID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, model.ErrNoDevicesRegistered
	}

	keys := make([]string, 0, len(devices))
	for k := range devices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	regs := make([]model.DeviceRegistration, 0, len(keys))
	for _, k := range keys {
		regs = append(regs, devices[k])
	}

	results := make([]wallet.PushResult, len(regs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(notifyFanOut)
	for i, reg := range regs {
		i, reg := i, reg
		g.Go(func() error {
			results[i] = s.registry.SendPushNotification(gctx, reg.Platform, reg.DeviceID, passID, message)
			return nil
		})
	}
	_ = g.Wait()

	out := &NotifyResult{
		PassID:    passID,
		Platforms: make(map[model.Platform]PlatformSummary),
		Results:   results,
	}
	for _, r := range results {
		summary := out.Platforms[r.Platform]
		if r.Success {
			summary.Sent++
			out.Sent++
		} else {
			summary.Failed++
			out.Failed++
		}
		out.Platforms[r.Platform] = summary
	}

	s.logger.Info("Pass notification fan-out finished",
		zap.String("pass_id", passID),
		zap.Int("devices", len(regs)),
		zap.Int("sent", out.Sent),
		zap.Int("failed", out.Failed))

	s.publish(ctx, model.PassEvent{
		Type:   model.EventPassNotified,
		PassID: passID,
		Attributes: map[string]string{
			"sent":   fmt.Sprintf("%d", out.Sent),
			"failed": fmt.Sprintf("%d", out.Failed),
		},
	})

	return out, nil
}

type DetectResult struct {
	Detection model.DetectionResult   `json:"detection"`
	Analysis  model.SignatureAnalysis `json:"analysis"`
}

// Detect reports the routing decision for a hint and signature without
// touching any state.
func (s *PassService) Detect(hint, signature string) *DetectResult {
	return &DetectResult{
		Detection: s.detector.Detect(hint, signature),
		Analysis:  platform.Analyze(signature),
	}
}

type RegisterDeviceRequest struct {
	Platform  string `json:"platform"`
	DeviceID  string `json:"device_id"`
	PushToken string `json:"push_token"`
}

// RegisterDevice records a wallet device for a verified pass. It reports
// whether the registration is new.
func (s *PassService) RegisterDevice(ctx context.Context, passID string, req RegisterDeviceRequest) (bool, error) {
	p, ok := model.ParsePlatform(req.Platform)
	if !ok {
		return false, fmt.Errorf("%w: platform", model.ErrInvalidInput)
	}
	if !s.registry.Supports(p) {
		return false, fmt.Errorf("%w: platform %s has no backend", model.ErrInvalidInput, p)
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return false, fmt.Errorf("%w: device id", model.ErrInvalidInput)
	}

	pass, err := s.store.GetPass(ctx, passID)
	if err != nil {
		return false, err
	}
	if !pass.PhoneVerified {
		return false, model.ErrPreconditionFailed
	}

	created, err := s.registry.RegisterDevice(ctx, p, passID, deviceID, strings.TrimSpace(req.PushToken))
	if err != nil {
		return false, err
	}
	if !created {
		// the pass disappeared between the lookup and the write
		return false, model.ErrPassNotFound
	}

	s.logger.Info("Device registered",
		zap.String("pass_id", passID),
		zap.String("platform", string(p)),
		zap.String("device_id", deviceID))

	return true, nil
}

func (s *PassService) GetPass(ctx context.Context, passID string) (*PassView, error) {
	pass, err := s.store.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	return newPassView(pass), nil
}

func (s *PassService) GetArtist(artistID string) (*model.ArtistTemplate, error) {
	artist, ok := s.catalog.GetArtist(artistID)
	if !ok {
		return nil, model.ErrUnknownArtist
	}
	return artist, nil
}

func (s *PassService) Platforms() []wallet.Requirements {
	return s.registry.Requirements()
}

// Wait blocks until in-flight event publishes and detection records finish.
func (s *PassService) Wait() {
	s.background.Wait()
}

// goBackground runs fn off the request path with its own deadline. The
// request's values are kept but its cancellation is not.
func (s *PassService) goBackground(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(ctx, sideEffectBudget)
		defer cancel()
		fn(ctx)
	}()
}

func (s *PassService) publish(ctx context.Context, event model.PassEvent) {
	event.OccurredAt = s.now().UTC()
	s.goBackground(ctx, func(ctx context.Context) {
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish pass event",
				zap.String("type", string(event.Type)),
				zap.String("pass_id", event.PassID),
				zap.Error(err))
		}
	})
}

func (s *PassService) record(ctx context.Context, record model.DetectionRecord) {
	s.goBackground(ctx, func(ctx context.Context) {
		if err := s.recorder.RecordDetection(ctx, record); err != nil {
			s.logger.Warn("Failed to record platform detection",
				zap.String("pass_id", record.PassID),
				zap.Error(err))
		}
	})
}

// IsBusinessError reports whether err is an expected outcome rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		model.ErrInvalidFormat,
		model.ErrInvalidInput,
		model.ErrNotFound,
		model.ErrCodeExpired,
		model.ErrAttemptsExhausted,
		model.ErrCodeMismatch,
		model.ErrAlreadyVerified,
		model.ErrUnknownArtist,
		model.ErrPreconditionFailed,
		model.ErrNoDevicesRegistered,
		model.ErrBackendFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
