// Package handoff builds the storefront installation URL a human must
// authorize and exchanges the resulting code for an access credential.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Compile-time check: Manager implements domain.AuthHandoff.
var _ domain.AuthHandoff = (*Manager)(nil)

// scopes is the fixed permission set requested during installation.
// Static by design: caller input never widens what the orchestrator asks
// for.
const scopes = "read_content,write_content," +
	"read_products,write_products," +
	"read_online_store_navigation,write_online_store_navigation," +
	"read_themes,write_themes"

// callbackPath is appended to the caller-supplied base URL so multiple
// deployment environments can point at the same backend.
const callbackPath = "/api/v1/auth/callback"

// Manager holds the platform partner credentials and performs the handoff.
type Manager struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	// endpointBase overrides "https://{storeDomain}" for the token
	// exchange; tests point it at a local server.
	endpointBase string
}

// New creates a manager. Empty credentials are tolerated here and rejected
// per call, so a misconfigured process still starts and reports an
// actionable error when the handoff is actually used.
func New(clientID, clientSecret string) *Manager {
	return &Manager{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *Manager) checkCredentials() error {
	if m.clientID == "" || m.clientSecret == "" {
		return &domain.ConfigurationError{
			Setting: "platform partner credentials",
			Reason:  "set STOREFORGE_PARTNER_CLIENT_ID and STOREFORGE_PARTNER_CLIENT_SECRET",
		}
	}
	return nil
}

// InstallURL builds the authorization URL for the given storefront. The
// job id rides along as the OAuth state parameter; it is the only
// correlation between the redirect and the originating job.
func (m *Manager) InstallURL(storeDomain, callerBaseURL, jobID string) (string, error) {
	if err := m.checkCredentials(); err != nil {
		return "", err
	}
	if storeDomain == "" {
		return "", &domain.ValidationError{Field: "storeDomain", Reason: "must not be empty"}
	}

	redirect := strings.TrimSuffix(callerBaseURL, "/") + callbackPath

	q := url.Values{}
	q.Set("client_id", m.clientID)
	q.Set("scope", scopes)
	q.Set("redirect_uri", redirect)
	q.Set("state", jobID)

	u := url.URL{
		Scheme:   "https",
		Host:     storeDomain,
		Path:     "/admin/oauth/authorize",
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// tokenResponse is the platform's access token payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// ExchangeCode trades an authorization code for an access credential. The
// credential is opaque to the orchestrator.
func (m *Manager) ExchangeCode(ctx context.Context, storeDomain, code string) (string, error) {
	if err := m.checkCredentials(); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("code", code)

	base := m.endpointBase
	if base == "" {
		base = "https://" + storeDomain
	}
	endpoint := base + "/admin/oauth/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.AuthenticationError{
			Reason: fmt.Sprintf("token exchange returned status %d", resp.StatusCode),
		}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", &domain.AuthenticationError{Reason: "token exchange returned no access token"}
	}

	return token.AccessToken, nil
}

// WithEndpointBase redirects token exchanges to the given base URL.
// Test hook.
func (m *Manager) WithEndpointBase(base string) *Manager {
	m.endpointBase = strings.TrimSuffix(base, "/")
	return m
}
