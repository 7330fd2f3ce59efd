// Package webhook delivers messages to an HTTP provider authenticated with an
// OAuth2 client-credentials token.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kart-io/msgbus/pkg/connector"
	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/recipient"
	"github.com/kart-io/msgbus/pkg/token"
)

// Connector posts messages to the webhook provider.
type Connector struct {
	cfg    *Config
	tokens *token.Cache
	client *http.Client
	logger logger.Logger
	now    func() time.Time
}

// New creates a webhook connector from a validated config.
func New(cfg *Config, tokens *token.Cache, log logger.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webhook config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("webhook requires a token cache")
	}
	if log == nil {
		log = logger.Discard
	}
	return &Connector{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log,
		now:    time.Now,
	}, nil
}

// Name returns the channel name.
func (c *Connector) Name() string {
	return recipient.ChannelWebhook
}

// Connect ensures a valid access token is cached for the channel.
func (c *Connector) Connect(ctx context.Context) error {
	_, err := c.tokens.GetOrRefresh(ctx, recipient.ChannelWebhook, c.exchange)
	return err
}

// Send posts the message once with the full recipient list.
func (c *Connector) Send(ctx context.Context, msg *message.Message, recipients []string) error {
	if len(recipients) == 0 {
		return errors.New(errors.ErrNoRecipients, "no webhook recipients").WithChannel(recipient.ChannelWebhook)
	}

	tok, err := c.tokens.GetOrRefresh(ctx, recipient.ChannelWebhook, c.exchange)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"uuid":       msg.UUID,
		"title":      msg.Title,
		"content":    msg.Content,
		"category":   msg.Category,
		"sender":     msg.Sender,
		"recipients": recipients,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "encode webhook payload").WithChannel(recipient.ChannelWebhook)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "build webhook request").WithChannel(recipient.ChannelWebhook)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrTimeout, "webhook request deadline exceeded").WithChannel(recipient.ChannelWebhook)
		}
		return errors.Wrap(err, errors.ErrTransport, "webhook request failed").WithChannel(recipient.ChannelWebhook)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.tokens.Invalidate(ctx, recipient.ChannelWebhook); err != nil {
			c.logger.Warn("Failed to invalidate rejected token", "error", err)
		}
	}

	if err := checkResponse(resp); err != nil {
		return err
	}

	c.logger.Info("Webhook message sent", "message_uuid", msg.UUID, "recipients", len(recipients))
	return nil
}

// Disconnect is a no-op; the access token stays cached for the next dispatch.
func (c *Connector) Disconnect(_ context.Context) error {
	return nil
}

// exchange performs the OAuth2 client-credentials grant.
func (c *Connector) exchange(ctx context.Context) (*token.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "build token request").WithChannel(recipient.ChannelWebhook)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "token request failed").WithChannel(recipient.ChannelWebhook)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "read token response").WithChannel(recipient.ChannelWebhook)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrTokenExchange, "token endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data))).WithChannel(recipient.ChannelWebhook)
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, errors.Wrap(err, errors.ErrTokenExchange, "decode token response").WithChannel(recipient.ChannelWebhook)
	}
	if grant.AccessToken == "" {
		return nil, errors.New(errors.ErrTokenExchange, "token endpoint returned empty access_token").WithChannel(recipient.ChannelWebhook)
	}
	if grant.TokenType == "" {
		grant.TokenType = "Bearer"
	}

	return &token.Token{
		Channel:      recipient.ChannelWebhook,
		AccessToken:  grant.AccessToken,
		TokenType:    grant.TokenType,
		RefreshToken: grant.RefreshToken,
		ExpiredAt:    c.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}, nil
}

// checkResponse rejects non-2xx responses and embedded provider error codes
// in 200 envelopes.
func checkResponse(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "read webhook response").WithChannel(recipient.ChannelWebhook)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(data))
		pe := connector.NewProviderError(recipient.ChannelWebhook, fmt.Sprintf("HTTP_%d", resp.StatusCode), detail)
		return errors.Wrap(pe, errors.ErrProviderRejected, "webhook rejected request").WithChannel(recipient.ChannelWebhook)
	}

	var env struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if len(data) > 0 && json.Unmarshal(data, &env) == nil && env.Code != 0 {
		pe := connector.NewProviderError(recipient.ChannelWebhook, fmt.Sprintf("%d", env.Code), env.Message)
		return errors.Wrap(pe, errors.ErrProviderRejected, "webhook returned error code").WithChannel(recipient.ChannelWebhook)
	}
	return nil
}
