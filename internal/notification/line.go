package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/clinicops/platform/internal/shared/config"
	"github.com/clinicops/platform/internal/shared/settings"
	"github.com/clinicops/platform/internal/shared/types"
)

// LineClient pushes messages through the LINE Messaging API. The channel
// token is resolved per tenant on every send.
type LineClient struct {
	httpClient *resty.Client
	settings   SettingResolver
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type lineError struct {
	Message string `json:"message"`
}

// NewLineClient creates a LINE Messaging API client.
func NewLineClient(cfg config.LineConfig, resolver SettingResolver, logger zerolog.Logger) *LineClient {
	client := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json")

	return &LineClient{
		httpClient: client,
		settings:   resolver,
		limiter:    rate.NewLimiter(rate.Limit(cfg.PushRate), cfg.PushBurst),
		logger:     logger.With().Str("component", "line").Logger(),
	}
}

// Send pushes to one user with the tenant's channel token.
func (c *LineClient) Send(ctx context.Context, tenantID types.ID, push Push) error {
	if push.To == "" {
		return fmt.Errorf("no LINE user id")
	}
	if len(push.Messages) == 0 {
		return fmt.Errorf("no messages")
	}

	token, err := c.settings.Resolve(ctx, tenantID, settings.LineChannelAccessToken)
	if err != nil {
		return fmt.Errorf("resolve LINE token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("LINE channel token is not configured for tenant %s", tenantID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limit: %w", err)
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(push).
		SetError(&lineError{})
	if push.RetryKey != "" {
		req.SetHeader("X-Line-Retry-Key", push.RetryKey)
	}

	resp, err := req.Post("/v2/bot/message/push")
	if err != nil {
		c.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("LINE push failed")
		return fmt.Errorf("LINE push: %w", err)
	}

	// 409 means a push with the same retry key was already accepted.
	if resp.StatusCode() == http.StatusConflict && push.RetryKey != "" {
		return nil
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*lineError); ok && e.Message != "" {
			msg = e.Message
		}
		c.logger.Warn().
			Str("tenant_id", tenantID.String()).
			Int("status", resp.StatusCode()).
			Str("error", msg).
			Msg("LINE push rejected")
		return fmt.Errorf("LINE push rejected (%d): %s", resp.StatusCode(), msg)
	}
	return nil
}
