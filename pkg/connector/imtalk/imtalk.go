// Package imtalk delivers messages through the enterprise IM provider. Login
// exchanges an RSA-encrypted password for a bearer token, which is cached and
// reused across dispatches.
package imtalk

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/msgbus/pkg/connector"
	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/recipient"
	"github.com/kart-io/msgbus/pkg/token"
)

// Connector sends messages to the enterprise IM provider over HTTP.
type Connector struct {
	cfg    *Config
	pubKey *rsa.PublicKey
	tokens *token.Cache
	client *http.Client
	logger logger.Logger
	now    func() time.Time
}

// envelope is the provider's uniform response wrapper. A non-zero code in a
// 200 response is still a rejection.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// New creates an IM connector from a validated config.
func New(cfg *Config, tokens *token.Cache, log logger.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imtalk config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid imtalk config: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("imtalk requires a token cache")
	}
	if log == nil {
		log = logger.Discard
	}

	pubKey, err := parsePublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid imtalk public key: %w", err)
	}

	return &Connector{
		cfg:    cfg,
		pubKey: pubKey,
		tokens: tokens,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log,
		now:    time.Now,
	}, nil
}

// Name returns the channel name.
func (c *Connector) Name() string {
	return recipient.ChannelIMTalk
}

// Connect ensures a valid bearer token is cached for the channel.
func (c *Connector) Connect(ctx context.Context) error {
	_, err := c.tokens.GetOrRefresh(ctx, recipient.ChannelIMTalk, c.login)
	return err
}

// Send posts the message to the full recipient list in one provider call.
// When follower filtering is enabled, recipients outside the bot's follower
// list are dropped with a warning rather than failing the batch.
func (c *Connector) Send(ctx context.Context, msg *message.Message, recipients []string) error {
	if len(recipients) == 0 {
		return errors.New(errors.ErrNoRecipients, "no imtalk recipients").WithChannel(recipient.ChannelIMTalk)
	}

	tok, err := c.tokens.GetOrRefresh(ctx, recipient.ChannelIMTalk, c.login)
	if err != nil {
		return err
	}

	targets := recipients
	if c.cfg.FilterFollowers {
		targets, err = c.filterFollowers(ctx, tok.AccessToken, recipients)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return errors.New(errors.ErrNoRecipients, "no imtalk recipients follow the bot").WithChannel(recipient.ChannelIMTalk)
		}
	}

	payload := map[string]interface{}{
		"title":    msg.Title,
		"content":  msg.Content,
		"category": msg.Category,
		"to":       targets,
	}

	if err := c.post(ctx, "/api/v1/messages", tok.AccessToken, payload, nil); err != nil {
		return err
	}

	c.logger.Info("IM message sent", "message_uuid", msg.UUID, "recipients", len(targets))
	return nil
}

// Disconnect is a no-op; the bearer token stays cached for the next dispatch.
func (c *Connector) Disconnect(_ context.Context) error {
	return nil
}

// login performs the RSA-encrypted password exchange and returns the bearer
// token with its expiry computed from the provider TTL.
func (c *Connector) login(ctx context.Context) (*token.Token, error) {
	encrypted, err := encryptPassword(c.pubKey, c.cfg.Password)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"username": c.cfg.Username,
		"password": encrypted,
	}

	var data struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := c.post(ctx, "/api/v1/login", "", payload, &data); err != nil {
		return nil, err
	}
	if data.AccessToken == "" {
		return nil, errors.New(errors.ErrTokenExchange, "imtalk login returned empty token").WithChannel(recipient.ChannelIMTalk)
	}
	if data.TokenType == "" {
		data.TokenType = "Bearer"
	}

	c.logger.Info("IM login succeeded", "expires_in", data.ExpiresIn)
	return &token.Token{
		Channel:      recipient.ChannelIMTalk,
		AccessToken:  data.AccessToken,
		TokenType:    data.TokenType,
		RefreshToken: data.RefreshToken,
		ExpiredAt:    c.now().Add(time.Duration(data.ExpiresIn) * time.Second),
	}, nil
}

// filterFollowers intersects the recipient list with the bot's follower list.
func (c *Connector) filterFollowers(ctx context.Context, accessToken string, recipients []string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v1/followers", nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "build followers request").WithChannel(recipient.ChannelIMTalk)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "fetch follower list").WithChannel(recipient.ChannelIMTalk)
	}
	defer func() { _ = resp.Body.Close() }()

	env, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}

	var data struct {
		Followers []string `json:"followers"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "decode follower list").WithChannel(recipient.ChannelIMTalk)
	}

	followers := make(map[string]struct{}, len(data.Followers))
	for _, f := range data.Followers {
		followers[f] = struct{}{}
	}

	kept := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := followers[r]; ok {
			kept = append(kept, r)
			continue
		}
		c.logger.Warn("Recipient does not follow the bot, dropping", "recipient", r)
	}
	return kept, nil
}

// post sends a JSON payload and decodes the response envelope. When out is
// non-nil the envelope data field is unmarshaled into it.
func (c *Connector) post(ctx context.Context, path, accessToken string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "encode imtalk payload").WithChannel(recipient.ChannelIMTalk)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "build imtalk request").WithChannel(recipient.ChannelIMTalk)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrTimeout, "imtalk request deadline exceeded").WithChannel(recipient.ChannelIMTalk)
		}
		return errors.Wrap(err, errors.ErrTransport, "imtalk request failed").WithChannel(recipient.ChannelIMTalk)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		// Provider invalidated the token server-side. Drop it so the next
		// attempt logs in again instead of replaying a dead credential.
		if err := c.tokens.Invalidate(ctx, recipient.ChannelIMTalk); err != nil {
			c.logger.Warn("Failed to invalidate rejected token", "error", err)
		}
	}

	env, err := decodeEnvelope(resp)
	if err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, errors.ErrTransport, "decode imtalk response").WithChannel(recipient.ChannelIMTalk)
		}
	}
	return nil
}

// decodeEnvelope rejects non-2xx responses and embedded provider error codes.
func decodeEnvelope(resp *http.Response) (*envelope, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "read imtalk response").WithChannel(recipient.ChannelIMTalk)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(data))
		pe := connector.NewProviderError(recipient.ChannelIMTalk, fmt.Sprintf("HTTP_%d", resp.StatusCode), detail)
		return nil, errors.Wrap(pe, errors.ErrProviderRejected, "imtalk rejected request").WithChannel(recipient.ChannelIMTalk)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "decode imtalk envelope").WithChannel(recipient.ChannelIMTalk)
	}
	if env.Code != 0 {
		pe := connector.NewProviderError(recipient.ChannelIMTalk, fmt.Sprintf("%d", env.Code), env.Message)
		return nil, errors.Wrap(pe, errors.ErrProviderRejected, "imtalk returned error code").WithChannel(recipient.ChannelIMTalk)
	}
	return &env, nil
}
