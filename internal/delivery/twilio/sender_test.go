package twilio

import (
	"context"
	"errors"
	"testing"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/delivery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type mockAPI struct {
	err    error
	params *twilioApi.CreateMessageParams
	calls  int
}

func (m *mockAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	m.calls++
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestNewSender_RequiresCredentialsWhenEnabled(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "disabled needs nothing",
			config:  Config{Enabled: false},
			wantErr: false,
		},
		{
			name:    "enabled without credentials",
			config:  Config{Enabled: true, From: "+15550001111"},
			wantErr: true,
		},
		{
			name:    "enabled without from number",
			config:  Config{Enabled: true, AccountSID: "AC123", AuthToken: "secret"},
			wantErr: true,
		},
		{
			name:    "enabled fully configured",
			config:  Config{Enabled: true, AccountSID: "AC123", AuthToken: "secret", From: "+15550001111"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSender(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSender_Send_DisabledIsNoOp(t *testing.T) {
	api := &mockAPI{}
	sender := NewSenderWithAPI(Config{Enabled: false}, api)

	err := sender.Send(context.Background(), "5551234567", "hello")

	require.NoError(t, err)
	assert.Equal(t, 0, api.calls)
}

func TestSender_Send_SetsRecipientAndBody(t *testing.T) {
	api := &mockAPI{}
	sender := NewSenderWithAPI(Config{
		Enabled:   true,
		From:      "+15550001111",
		RateLimit: 100,
	}, api)

	err := sender.Send(context.Background(), "5551234567", "checking in")

	require.NoError(t, err)
	require.Equal(t, 1, api.calls)
	require.NotNil(t, api.params.To)
	assert.Equal(t, "+15551234567", *api.params.To)
	require.NotNil(t, api.params.From)
	assert.Equal(t, "+15550001111", *api.params.From)
	require.NotNil(t, api.params.Body)
	assert.Equal(t, "checking in", *api.params.Body)
}

func TestSender_Send_APIFailureIsRetryable(t *testing.T) {
	api := &mockAPI{err: errors.New("upstream 503")}
	sender := NewSenderWithAPI(Config{
		Enabled:   true,
		From:      "+15550001111",
		RateLimit: 100,
	}, api)

	err := sender.Send(context.Background(), "5551234567", "hello")

	require.Error(t, err)
	var retryable *delivery.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.True(t, retryable.IsRetryable())
}
