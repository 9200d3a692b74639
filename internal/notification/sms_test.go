package notification

import (
	"context"
	"errors"
	"testing"

	"walletpass-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fakeMessages struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeMessages) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSender_SendSMS(t *testing.T) {
	fake := &fakeMessages{}
	s := &TwilioSender{api: fake, fromNumber: "+15550000000", logger: zaptest.NewLogger(t)}

	require.NoError(t, s.SendSMS(context.Background(), "+15551234567", "Your verification code is: 123456"))
	require.NotNil(t, fake.params)
	assert.Equal(t, "+15551234567", *fake.params.To)
	assert.Equal(t, "+15550000000", *fake.params.From)
	assert.Equal(t, "Your verification code is: 123456", *fake.params.Body)
}

func TestTwilioSender_Failure(t *testing.T) {
	s := &TwilioSender{api: &fakeMessages{err: errors.New("unreachable")}, logger: zaptest.NewLogger(t)}

	err := s.SendSMS(context.Background(), "+15551234567", "hi")
	assert.Error(t, err)
}

func TestTwilioSender_CancelledContext(t *testing.T) {
	fake := &fakeMessages{}
	s := &TwilioSender{api: fake, logger: zaptest.NewLogger(t)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.SendSMS(ctx, "+15551234567", "hi"), context.Canceled)
	assert.Nil(t, fake.params)
}

func TestLoggingSender_MasksPhone(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLoggingSender(zap.New(core))

	require.NoError(t, s.SendSMS(context.Background(), "+15551234567", "Your verification code is: 123456"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "+15****4567", entry.ContextMap()["to"])
	for _, v := range entry.ContextMap() {
		if str, ok := v.(string); ok {
			assert.NotContains(t, str, "123456")
		}
	}
}

func TestNewSender(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, ok := NewSender(config.TwilioConfig{}, logger).(*LoggingSender)
	assert.True(t, ok)

	_, ok = NewSender(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000000"}, logger).(*TwilioSender)
	assert.True(t, ok)
}
