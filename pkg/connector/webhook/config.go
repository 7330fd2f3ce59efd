package webhook

import (
	"fmt"
	"time"
)

// Config holds the settings for the webhook provider connector.
type Config struct {
	// WebhookURL is the provider endpoint messages are posted to.
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	// TokenURL is the OAuth2 token endpoint for the client-credentials grant.
	TokenURL     string `json:"token_url" yaml:"token_url"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	Scope        string `json:"scope" yaml:"scope"`

	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("webhook token_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("webhook client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("webhook client_secret is required")
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}
