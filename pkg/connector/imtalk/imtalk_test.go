package imtalk

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/token"
)

type providerState struct {
	key       *rsa.PrivateKey
	logins    int64
	sends     int64
	followers []string
	lastBody  map[string]interface{}
}

// newProvider simulates the IM API: RSA login, follower list, message post.
func newProvider(t *testing.T, state *providerState) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&state.logins, 1)

		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		cipher, err := base64.StdEncoding.DecodeString(body.Password)
		assert.NoError(t, err)
		plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, state.key, cipher, nil)
		assert.NoError(t, err)
		if string(plain) != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    0,
			"message": "ok",
			"data": map[string]interface{}{
				"access_token": "im-token",
				"token_type":   "Bearer",
				"expires_in":   7200,
			},
		})
	})
	mux.HandleFunc("/api/v1/followers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer im-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{"followers": state.followers},
		})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&state.sends, 1)
		assert.Equal(t, "Bearer im-token", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&state.lastBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "message": "ok"})
	})
	return httptest.NewServer(mux)
}

func publicKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func newTestConnector(t *testing.T, baseURL string, key *rsa.PrivateKey, filter bool) *Connector {
	t.Helper()
	c, err := New(&Config{
		BaseURL:         baseURL,
		Username:        "msgbus-bot",
		Password:        "hunter2",
		PublicKeyPEM:    publicKeyPEM(t, key),
		FilterFollowers: filter,
		Timeout:         5 * time.Second,
	}, token.NewCache(token.NewMemoryStore(), logger.Discard), logger.Discard)
	require.NoError(t, err)
	return c
}

func TestLoginAndSend(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	state := &providerState{key: key}
	srv := newProvider(t, state)
	defer srv.Close()

	c := newTestConnector(t, srv.URL, key, false)
	msg := message.New("svc-a", "alert", "T", "C")

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Send(context.Background(), msg, []string{"alice", "bob"}))

	assert.EqualValues(t, 1, atomic.LoadInt64(&state.logins), "token is cached across connect and send")
	assert.EqualValues(t, 1, atomic.LoadInt64(&state.sends))
	assert.Equal(t, []interface{}{"alice", "bob"}, state.lastBody["to"])
	assert.Equal(t, "T", state.lastBody["title"])
}

func TestFollowerFiltering(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	state := &providerState{key: key, followers: []string{"alice"}}
	srv := newProvider(t, state)
	defer srv.Close()

	c := newTestConnector(t, srv.URL, key, true)
	msg := message.New("svc-a", "alert", "T", "C")

	require.NoError(t, c.Send(context.Background(), msg, []string{"alice", "mallory"}))
	assert.Equal(t, []interface{}{"alice"}, state.lastBody["to"], "non-followers are dropped")
}

func TestFollowerFilteringAllDropped(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	state := &providerState{key: key, followers: []string{}}
	srv := newProvider(t, state)
	defer srv.Close()

	c := newTestConnector(t, srv.URL, key, true)
	err = c.Send(context.Background(), message.New("svc-a", "alert", "T", "C"), []string{"mallory"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrNoRecipients, errors.GetCode(err))
	assert.EqualValues(t, 0, atomic.LoadInt64(&state.sends))
}

func TestLoginRejectedWrongPassword(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	state := &providerState{key: key}
	srv := newProvider(t, state)
	defer srv.Close()

	c, err := New(&Config{
		BaseURL:      srv.URL,
		Username:     "msgbus-bot",
		Password:     "wrong",
		PublicKeyPEM: publicKeyPEM(t, key),
	}, token.NewCache(token.NewMemoryStore(), logger.Discard), logger.Discard)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrTokenExchange, errors.GetCode(err))
}

func TestSendEmbeddedErrorCode(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{"access_token": "im-token", "expires_in": 7200},
		})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 301, "message": "user not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv.URL, key, false)
	err = c.Send(context.Background(), message.New("svc-a", "alert", "T", "C"), []string{"ghost"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrProviderRejected, errors.GetCode(err))
	assert.Contains(t, err.Error(), "301")
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, err := parsePublicKey("not a pem")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemStr := publicKeyPEM(t, key)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BaseURL: "http://h", Username: "u", Password: "p", PublicKeyPEM: pemStr}},
		{name: "missing base url", cfg: Config{Username: "u", Password: "p", PublicKeyPEM: pemStr}, wantErr: true},
		{name: "missing username", cfg: Config{BaseURL: "http://h", Password: "p", PublicKeyPEM: pemStr}, wantErr: true},
		{name: "missing password", cfg: Config{BaseURL: "http://h", Username: "u", PublicKeyPEM: pemStr}, wantErr: true},
		{name: "missing public key", cfg: Config{BaseURL: "http://h", Username: "u", Password: "p"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
