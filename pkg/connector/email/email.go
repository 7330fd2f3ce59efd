// Package email delivers messages over SMTP. Every send owns its own session,
// opened and closed inside the call, so one connector instance serves
// concurrent dispatches without shared connection state.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/recipient"
)

// Connector sends email through an SMTP relay. It carries no session state.
type Connector struct {
	cfg    *Config
	auth   smtp.Auth
	logger logger.Logger
}

// New creates an email connector from a validated config.
func New(cfg *Config, log logger.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("email config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	if log == nil {
		log = logger.Discard
	}
	return &Connector{
		cfg:    cfg,
		auth:   smtpAuth(cfg),
		logger: log,
	}, nil
}

// Name returns the channel name.
func (c *Connector) Name() string {
	return recipient.ChannelEmail
}

// Connect is a no-op. SMTP sessions are scoped to a single Send, so there is
// no standing connection to establish up front.
func (c *Connector) Connect(_ context.Context) error {
	return nil
}

// Send dials the relay and delivers the message to all recipients in a single
// SMTP transaction. The session is closed on every exit path.
func (c *Connector) Send(ctx context.Context, msg *message.Message, recipients []string) error {
	if len(recipients) == 0 {
		return errors.New(errors.ErrNoRecipients, "no email recipients").WithChannel(recipient.ChannelEmail)
	}

	client, err := c.dial(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "smtp connect").WithChannel(recipient.ChannelEmail)
	}
	defer c.quit(client)

	if err := client.Mail(c.cfg.From); err != nil {
		return errors.Wrap(err, errors.ErrTransport, "smtp MAIL FROM").WithChannel(recipient.ChannelEmail)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, errors.ErrProviderRejected, "smtp RCPT TO %s", rcpt).
				WithChannel(recipient.ChannelEmail).WithTarget(rcpt)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "smtp DATA").WithChannel(recipient.ChannelEmail)
	}
	if _, err := wc.Write([]byte(buildRFC822(c.cfg.From, recipients, msg))); err != nil {
		_ = wc.Close()
		return errors.Wrap(err, errors.ErrTransport, "smtp write body").WithChannel(recipient.ChannelEmail)
	}
	if err := wc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrTransport, "smtp close body").WithChannel(recipient.ChannelEmail)
	}

	c.logger.Info("Email sent", "message_uuid", msg.UUID, "recipients", len(recipients))
	return nil
}

// Disconnect is a no-op; sessions are released inside Send.
func (c *Connector) Disconnect(_ context.Context) error {
	return nil
}

// quit ends a session, falling back to a hard close when QUIT fails.
func (c *Connector) quit(client *smtp.Client) {
	if err := client.Quit(); err != nil {
		_ = client.Close()
		c.logger.Warn("SMTP session close failed", "error", err)
	}
}

func (c *Connector) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	addr := c.cfg.ServerAddress()

	if c.cfg.UseSSL {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig(c.cfg))
		if err != nil {
			return nil, fmt.Errorf("tls dial %s: %w", addr, err)
		}
		return c.newClient(conn)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if err := client.Hello("localhost"); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("smtp EHLO: %w", err)
	}
	if c.cfg.UseTLS {
		if err := client.StartTLS(tlsConfig(c.cfg)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	if c.auth != nil {
		if err := client.Auth(c.auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

func (c *Connector) newClient(conn net.Conn) (*smtp.Client, error) {
	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if c.auth != nil {
		if err := client.Auth(c.auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

// buildRFC822 assembles the wire message: headers, blank line, body. The
// subject is MIME-encoded so non-ASCII titles survive transit.
func buildRFC822(from string, to []string, msg *message.Message) string {
	var b strings.Builder

	subject := msg.Title
	if subject == "" {
		subject = "Notification"
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Content)
	return b.String()
}
