package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// IdPConfig configures the identity provider client.
type IdPConfig struct {
	// ManagementAPI is the base URL of the provider's management API, e.g.
	// https://idp.example.com/api.
	ManagementAPI string
	AppID         string
	AppSecret     string
	Client        *http.Client
}

// IdP resolves emails through the provider's management API using
// machine-to-machine client credentials. Access tokens are cached until
// shortly before expiry.
type IdP struct {
	cfg    IdPConfig
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewIdP constructs the provider client.
func NewIdP(cfg IdPConfig) *IdP {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdP{cfg: cfg, client: client}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type idpUser struct {
	ID           string  `json:"id"`
	PrimaryEmail *string `json:"primaryEmail"`
}

// Email fetches the subject's primary email from the management API.
func (p *IdP) Email(ctx context.Context, subject string) (string, error) {
	token, err := p.token(ctx)
	if err != nil {
		return "", err
	}

	userURL := fmt.Sprintf("%s/users/%s", strings.TrimSuffix(p.cfg.ManagementAPI, "/"), url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
	if err != nil {
		return "", fmt.Errorf("enrich: build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enrich: fetch user: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("enrich: provider returned %d for subject lookup", res.StatusCode)
	}

	var user idpUser
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("enrich: decode user: %w", err)
	}
	if user.PrimaryEmail == nil {
		return "", nil
	}
	return *user.PrimaryEmail, nil
}

// token returns a cached M2M access token, exchanging client credentials when
// the cache is empty or about to expire.
func (p *IdP) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	base := strings.TrimSuffix(strings.TrimSuffix(p.cfg.ManagementAPI, "/"), "/api")
	tokenURL := base + "/oidc/token"

	form := url.Values{
		"grant_type": {"client_credentials"},
		"resource":   {base + "/api"},
		"scope":      {"all"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("enrich: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.AppID, p.cfg.AppSecret)

	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enrich: request token: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("enrich: token endpoint returned %d", res.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("enrich: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("enrich: token endpoint returned empty token")
	}

	p.accessToken = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second)
	return p.accessToken, nil
}
