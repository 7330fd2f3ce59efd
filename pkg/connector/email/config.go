package email

import (
	"fmt"
	"time"
)

// Config holds the SMTP settings for the email connector.
type Config struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	From string `json:"from" yaml:"from"`

	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// AuthMethod selects the SMTP AUTH mechanism: plain or login.
	AuthMethod string `json:"auth_method" yaml:"auth_method"`

	// UseTLS upgrades the session with STARTTLS (port 587 style).
	UseTLS bool `json:"use_tls" yaml:"use_tls"`
	// UseSSL opens an implicit TLS connection (port 465 style).
	UseSSL bool `json:"use_ssl" yaml:"use_ssl"`
	// SkipCertVerify disables server certificate verification. Only for
	// internal relays with self-signed certificates.
	SkipCertVerify bool `json:"skip_cert_verify" yaml:"skip_cert_verify"`

	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid smtp port: %d", c.Port)
	}
	if c.From == "" {
		return fmt.Errorf("smtp from address is required")
	}
	if c.UseTLS && c.UseSSL {
		return fmt.Errorf("use_tls and use_ssl are mutually exclusive")
	}
	if c.AuthMethod == "" {
		c.AuthMethod = "plain"
	}
	switch c.AuthMethod {
	case "plain", "login":
	default:
		return fmt.Errorf("invalid auth method: %s (supported: plain, login)", c.AuthMethod)
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// ServerAddress returns the host:port dial address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
