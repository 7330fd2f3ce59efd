package imtalk

import (
	"fmt"
	"time"
)

// Config holds the settings for the enterprise IM connector.
type Config struct {
	// BaseURL is the provider API root, e.g. https://imtalk.example.com.
	BaseURL  string `json:"base_url" yaml:"base_url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// PublicKeyPEM is the provider's RSA public key. The login password is
	// encrypted with it before transmission.
	PublicKeyPEM string `json:"public_key_pem" yaml:"public_key_pem"`
	// FilterFollowers drops recipients that do not follow the bot account
	// instead of letting the provider reject the whole batch.
	FilterFollowers bool `json:"filter_followers" yaml:"filter_followers"`

	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("imtalk base_url is required")
	}
	if c.Username == "" {
		return fmt.Errorf("imtalk username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("imtalk password is required")
	}
	if c.PublicKeyPEM == "" {
		return fmt.Errorf("imtalk public_key_pem is required")
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}
