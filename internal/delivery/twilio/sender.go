// Package twilio provides the SMS sender backing the delivery queue.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/delivery"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/privacy"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

// Config holds twilio sender configuration.
type Config struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	From       string
	RateLimit  float64 // messages per second
}

// messageAPI is the slice of the Twilio REST API the sender uses.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Sender implements delivery.Sender over the Twilio REST API.
type Sender struct {
	config  Config
	api     messageAPI
	limiter *rate.Limiter
}

// NewSender creates a twilio sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.AccountSID == "" || config.AuthToken == "" {
			return nil, errors.New("twilio sender: account sid and auth token are required when enabled")
		}
		if config.From == "" {
			return nil, errors.New("twilio sender: from number is required when enabled")
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = 1
	}

	var api messageAPI
	if config.Enabled {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: config.AccountSID,
			Password: config.AuthToken,
		})
		api = client.Api
	}

	slog.Info("twilio sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:  config,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// NewSenderWithAPI creates a sender with an injected API client, for tests.
func NewSenderWithAPI(config Config, api messageAPI) *Sender {
	if config.RateLimit <= 0 {
		config.RateLimit = 1
	}
	return &Sender{
		config:  config,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Send delivers one SMS. Network and API failures are wrapped retryable so
// the queue's retry processor picks them up.
func (s *Sender) Send(ctx context.Context, to, body string) error {
	if !s.config.Enabled {
		slog.Debug("twilio sender disabled, skipping", "to", privacy.MaskAddress(to))
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("+1" + to)
	params.SetFrom(s.config.From)
	params.SetBody(body)

	if _, err := s.api.CreateMessage(params); err != nil {
		slog.Error("twilio send failed", "to", privacy.MaskAddress(to), "error", err)
		return delivery.NewRetryableError(fmt.Errorf("create message: %w", err))
	}

	slog.Debug("twilio message sent", "to", privacy.MaskAddress(to))
	return nil
}
