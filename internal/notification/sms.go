package notification

import (
	"context"
	"fmt"

	"walletpass-service/internal/config"
	"walletpass-service/internal/model"
	"walletpass-service/internal/util"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// messageCreator is the slice of the Twilio REST API the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender delivers verification codes as SMS through Twilio.
type TwilioSender struct {
	api        messageCreator
	fromNumber string
	logger     *zap.Logger
}

func NewTwilioSender(cfg config.TwilioConfig, logger *zap.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, fromNumber: cfg.FromNumber, logger: logger}
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.fromNumber)
	params.SetBody(message)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.Error("Failed to send SMS", util.Phone("to", to), zap.Error(err))
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.Info("SMS sent", util.Phone("to", to), zap.String("sid", sid))
	return nil
}

// LoggingSender stands in for an SMS gateway in development. The message
// body is never logged since it carries the code.
type LoggingSender struct {
	logger *zap.Logger
}

func NewLoggingSender(logger *zap.Logger) *LoggingSender {
	return &LoggingSender{logger: logger}
}

func (s *LoggingSender) SendSMS(ctx context.Context, to, message string) error {
	s.logger.Info("SMS delivery skipped, no gateway configured",
		util.Phone("to", to),
		zap.Int("message_length", len(message)))
	return nil
}

// NewSender returns a Twilio sender when credentials are configured and a
// logging sender otherwise.
func NewSender(cfg config.TwilioConfig, logger *zap.Logger) model.SMSSender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return NewLoggingSender(logger)
	}
	return NewTwilioSender(cfg, logger)
}
