package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
)

// loginAuth implements the LOGIN mechanism, which net/smtp does not ship.
// Some enterprise relays accept only LOGIN.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:":
		return []byte(a.username), nil
	case "Password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
	}
}

// smtpAuth returns the smtp.Auth for the configured mechanism, or nil when no
// credentials are set.
func smtpAuth(cfg *Config) smtp.Auth {
	if cfg.Username == "" || cfg.Password == "" {
		return nil
	}
	switch cfg.AuthMethod {
	case "login":
		return &loginAuth{username: cfg.Username, password: cfg.Password}
	default:
		return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
}

func tlsConfig(cfg *Config) *tls.Config {
	return &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipCertVerify,
	}
}
