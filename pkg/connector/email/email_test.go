package email

import (
	"bufio"
	"context"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
)

// startFakeSMTP runs a minimal SMTP relay and returns its address plus a
// counter of accepted sessions.
func startFakeSMTP(t *testing.T) (string, *int64) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var sessions int64
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt64(&sessions, 1)
			go serveSMTP(conn)
		}
	}()
	return ln.Addr().String(), &sessions
}

func serveSMTP(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	r := bufio.NewReader(conn)
	write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	write("220 fake ESMTP")
	inData := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if inData {
			if line == "." {
				inData = false
				write("250 OK")
			}
			continue
		}
		switch cmd := strings.ToUpper(line); {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 fake")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
			write("250 OK")
		case strings.HasPrefix(cmd, "DATA"):
			inData = true
			write("354 End with .")
		case strings.HasPrefix(cmd, "QUIT"):
			write("221 Bye")
			return
		default:
			write("250 OK")
		}
	}
}

func fakeRelayConnector(t *testing.T, addr string) *Connector {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := New(&Config{Host: host, Port: port, From: "noreply@example.com", Timeout: 5 * time.Second}, logger.Discard)
	require.NoError(t, err)
	return c
}

func TestBuildRFC822(t *testing.T) {
	msg := message.New("svc-a", "alert", "Disk usage critical", "Volume /data is at 95%.")
	raw := buildRFC822("noreply@example.com", []string{"a@x.com", "b@x.com"}, msg)

	headers, body, found := strings.Cut(raw, "\r\n\r\n")
	require.True(t, found, "headers and body must be separated by a blank line")

	assert.Contains(t, headers, "From: noreply@example.com\r\n")
	assert.Contains(t, headers, "To: a@x.com, b@x.com\r\n")
	assert.Contains(t, headers, "Subject: Disk usage critical\r\n")
	assert.Contains(t, headers, "Content-Type: text/plain; charset=UTF-8")
	assert.Equal(t, "Volume /data is at 95%.", body)
}

func TestBuildRFC822EncodesNonASCIISubject(t *testing.T) {
	msg := message.New("svc-a", "alert", "磁盘告警", "content")
	raw := buildRFC822("noreply@example.com", []string{"a@x.com"}, msg)
	assert.Contains(t, raw, "Subject: =?utf-8?")
}

func TestBuildRFC822DefaultSubject(t *testing.T) {
	msg := message.New("svc-a", "alert", "", "content")
	raw := buildRFC822("noreply@example.com", []string{"a@x.com"}, msg)
	assert.Contains(t, raw, "Subject: Notification\r\n")
}

func TestSendOwnsItsSession(t *testing.T) {
	addr, sessions := startFakeSMTP(t)
	c := fakeRelayConnector(t, addr)
	ctx := context.Background()

	// Interleave two dispatch lifecycles on the one shared instance: the
	// first dispatch releasing its session must not break the second's send.
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Send(ctx, message.New("svc-a", "alert", "A", "first"), []string{"a@x.com"}))
	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Send(ctx, message.New("svc-a", "alert", "B", "second"), []string{"b@x.com"}))
	require.NoError(t, c.Disconnect(ctx))

	assert.EqualValues(t, 2, atomic.LoadInt64(sessions), "each send opens its own session")
}

func TestSendConcurrentDispatches(t *testing.T) {
	addr, sessions := startFakeSMTP(t)
	c := fakeRelayConnector(t, addr)
	ctx := context.Background()

	const dispatches = 4
	var wg sync.WaitGroup
	for i := 0; i < dispatches; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, c.Connect(ctx))
			msg := message.New("svc-a", "alert", "T", strconv.Itoa(n))
			assert.NoError(t, c.Send(ctx, msg, []string{"a@x.com"}))
			assert.NoError(t, c.Disconnect(ctx))
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, dispatches, atomic.LoadInt64(sessions))
}

func TestSendDialFailure(t *testing.T) {
	// Grab a port, then close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := fakeRelayConnector(t, addr)
	err = c.Send(context.Background(), message.New("svc-a", "alert", "T", "C"), []string{"a@x.com"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrTransport, errors.GetCode(err))
}

func TestDisconnectWithoutConnect(t *testing.T) {
	c, err := New(&Config{Host: "smtp.example.com", Port: 25, From: "noreply@example.com"}, logger.Discard)
	require.NoError(t, err)
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestLoginAuthChallenges(t *testing.T) {
	auth := &loginAuth{username: "bot", password: "secret"}

	proto, initial, err := auth.Start(&smtp.ServerInfo{Name: "smtp.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "LOGIN", proto)
	assert.Empty(t, initial)

	user, err := auth.Next([]byte("Username:"), true)
	require.NoError(t, err)
	assert.Equal(t, "bot", string(user))

	pass, err := auth.Next([]byte("Password:"), true)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(pass))

	_, err = auth.Next([]byte("Favourite colour:"), true)
	assert.Error(t, err)

	done, err := auth.Next(nil, false)
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestSMTPAuthSelection(t *testing.T) {
	assert.Nil(t, smtpAuth(&Config{Host: "h"}), "no credentials means no AUTH")

	plain := smtpAuth(&Config{Host: "h", Username: "u", Password: "p", AuthMethod: "plain"})
	assert.NotNil(t, plain)

	login := smtpAuth(&Config{Host: "h", Username: "u", Password: "p", AuthMethod: "login"})
	_, ok := login.(*loginAuth)
	assert.True(t, ok)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", UseTLS: true}},
		{name: "missing host", cfg: Config{Port: 25, From: "f@x.com"}, wantErr: "host"},
		{name: "bad port", cfg: Config{Host: "h", Port: 70000, From: "f@x.com"}, wantErr: "port"},
		{name: "missing from", cfg: Config{Host: "h", Port: 25}, wantErr: "from"},
		{name: "tls and ssl exclusive", cfg: Config{Host: "h", Port: 465, From: "f@x.com", UseTLS: true, UseSSL: true}, wantErr: "mutually exclusive"},
		{name: "unknown auth method", cfg: Config{Host: "h", Port: 25, From: "f@x.com", AuthMethod: "cram-md5"}, wantErr: "auth method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "plain", tt.cfg.AuthMethod)
			assert.Equal(t, 30*time.Second, tt.cfg.Timeout)
		})
	}
}

func TestServerAddress(t *testing.T) {
	cfg := Config{Host: "smtp.example.com", Port: 465}
	assert.Equal(t, "smtp.example.com:465", cfg.ServerAddress())
}
