// Command syncusers mirrors the identity provider's user directory into the
// recipient table. It authenticates with an OAuth2 client-credentials grant,
// pages through the directory, upserts every user, and removes recipients
// that no longer exist upstream. Groups are never touched.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kart-io/msgbus/pkg/config"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/recipient"
	"github.com/kart-io/msgbus/pkg/store/postgres"
)

const pageSize = 200

// directoryUser is the identity provider's user record. Channel handles live
// in the free-form attributes map.
type directoryUser struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Email      string              `json:"email"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes"`
}

type syncOptions struct {
	serverURL    string
	realm        string
	clientID     string
	clientSecret string
	caFile       string
	dryRun       bool
}

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "log the planned changes without writing")
	flag.Parse()

	if err := run(*configPath, *dryRun); err != nil {
		stdlog.Fatalf("syncusers: %v", err)
	}
}

func run(configPath string, dryRun bool) error {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found, relying on OS environment variables")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := logger.New().LogMode(logger.ParseLevel(cfg.LogLevel))

	opts := syncOptions{
		serverURL:    os.Getenv("MSGBUS_IDP_URL"),
		realm:        os.Getenv("MSGBUS_IDP_REALM"),
		clientID:     os.Getenv("MSGBUS_IDP_CLIENT_ID"),
		clientSecret: os.Getenv("MSGBUS_IDP_CLIENT_SECRET"),
		caFile:       os.Getenv("MSGBUS_IDP_CA_FILE"),
		dryRun:       dryRun,
	}
	if opts.serverURL == "" || opts.realm == "" || opts.clientID == "" || opts.clientSecret == "" {
		return fmt.Errorf("MSGBUS_IDP_URL, MSGBUS_IDP_REALM, MSGBUS_IDP_CLIENT_ID and MSGBUS_IDP_CLIENT_SECRET are required")
	}

	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("syncusers requires the postgres store, got driver=%s", cfg.Store.Driver)
	}
	db, err := postgres.Open(&cfg.Store.Postgres, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store := postgres.NewRecipientStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	return sync(ctx, opts, store, log)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("MSGBUS_CONFIG")
	}
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.New()
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func sync(ctx context.Context, opts syncOptions, store recipient.SyncStore, log logger.Logger) error {
	client, err := newHTTPClient(opts.caFile)
	if err != nil {
		return err
	}

	accessToken, err := fetchToken(ctx, client, opts)
	if err != nil {
		return err
	}
	log.Info("Directory token acquired")

	users, err := fetchAllUsers(ctx, client, opts, accessToken)
	if err != nil {
		return err
	}
	log.Info("Directory fetched", "users", len(users))

	var keep []string
	for _, user := range users {
		rec, ok := toRecipient(user)
		if !ok {
			log.Warn("Skipping user without employee id", "username", user.Username)
			continue
		}
		keep = append(keep, rec.EmployeeID)

		if opts.dryRun {
			log.Info("Would upsert recipient", "employee_id", rec.EmployeeID, "name", rec.Name)
			continue
		}
		if err := store.UpsertByEmployeeID(ctx, rec); err != nil {
			return fmt.Errorf("upsert recipient %s: %w", rec.EmployeeID, err)
		}
		log.Debug("Upserted recipient", "employee_id", rec.EmployeeID, "name", rec.Name)
	}

	if opts.dryRun {
		log.Info("Dry run complete", "kept", len(keep))
		return nil
	}

	deleted, err := store.DeleteMissing(ctx, keep)
	if err != nil {
		return fmt.Errorf("delete missing recipients: %w", err)
	}
	log.Info("Sync complete", "upserted", len(keep), "deleted", deleted)
	return nil
}

// toRecipient maps a directory user to a recipient row. Users without an
// employee id cannot be addressed and are skipped.
func toRecipient(user directoryUser) (*recipient.Recipient, bool) {
	employeeID := firstAttr(user.Attributes, "employee_id")
	if employeeID == "" {
		employeeID = user.Username
	}
	if employeeID == "" {
		return nil, false
	}

	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}

	return &recipient.Recipient{
		Name:       name,
		IsGroup:    false,
		EmployeeID: employeeID,
		Email:      user.Email,
		IMHandle:   firstAttr(user.Attributes, "imtalk"),
		SMSHandle:  firstAttr(user.Attributes, "sms"),
	}, true
}

func firstAttr(attrs map[string][]string, key string) string {
	if vals, ok := attrs[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func newHTTPClient(caFile string) (*http.Client, error) {
	transport := &http.Transport{}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport}, nil
}

func fetchToken(ctx context.Context, client *http.Client, opts syncOptions) (string, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", opts.serverURL, opts.realm)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", opts.clientID)
	form.Set("client_secret", opts.clientSecret)
	form.Set("scope", "openid profile")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access_token")
	}
	return grant.AccessToken, nil
}

func fetchAllUsers(ctx context.Context, client *http.Client, opts syncOptions, accessToken string) ([]directoryUser, error) {
	usersURL := fmt.Sprintf("%s/admin/realms/%s/users", opts.serverURL, opts.realm)

	var all []directoryUser
	for first := 0; ; first += pageSize {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, usersURL, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("first", fmt.Sprintf("%d", first))
		q.Set("max", fmt.Sprintf("%d", pageSize))
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read users response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("users endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var page []directoryUser
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode users response: %w", err)
		}

		for _, user := range page {
			if user.Enabled {
				all = append(all, user)
			}
		}
		if len(page) < pageSize {
			return all, nil
		}
	}
}
