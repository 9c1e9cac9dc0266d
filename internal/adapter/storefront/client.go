// Package storefront wraps the commerce platform's admin API. Only the
// surface the populator needs is covered: pages, products, navigation
// links, and theme assets, plus the storefront details for the job result.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Compile-time check: Client implements domain.StorefrontClient.
var _ domain.StorefrontClient = (*Client)(nil)

const apiVersion = "2024-07"

// Client is a thin JSON-over-HTTP client for the platform admin API.
// Ensure operations look the object up by handle first and create only
// when absent, which is what makes the population step safe to re-run.
type Client struct {
	httpClient *http.Client

	// baseOverride replaces "https://{domain}" for tests.
	baseOverride string
}

// New creates a platform client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL redirects all API calls to the given base URL. Test hook.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseOverride = base
	return c
}

func (c *Client) endpoint(access domain.StoreAccess, path string) string {
	base := c.baseOverride
	if base == "" {
		base = "https://" + access.Domain
	}
	return fmt.Sprintf("%s/admin/api/%s%s", base, apiVersion, path)
}

// do performs one API call. 429 and 5xx responses come back as
// TransientExternalError so the populator's bounded retry can absorb
// rate limits; other non-2xx statuses are permanent failures.
func (c *Client) do(ctx context.Context, access domain.StoreAccess, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(access, path), body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Platform-Access-Token", access.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientExternalError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &domain.TransientExternalError{
			Op:  method + " " + path,
			Err: fmt.Errorf("platform returned status %d", resp.StatusCode),
		}
	default:
		return fmt.Errorf("platform returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

type pagePayload struct {
	Handle string `json:"handle"`
	Title  string `json:"title"`
	Body   string `json:"body_html"`
}

func (c *Client) EnsurePage(ctx context.Context, access domain.StoreAccess, page domain.PageContent) error {
	var existing struct {
		Pages []pagePayload `json:"pages"`
	}
	query := "/pages.json?handle=" + url.QueryEscape(page.Handle)
	if err := c.do(ctx, access, http.MethodGet, query, nil, &existing); err != nil {
		return err
	}
	if len(existing.Pages) > 0 {
		return nil
	}

	payload := map[string]pagePayload{
		"page": {Handle: page.Handle, Title: page.Title, Body: page.Body},
	}
	return c.do(ctx, access, http.MethodPost, "/pages.json", payload, nil)
}

type productPayload struct {
	Handle      string `json:"handle"`
	Title       string `json:"title"`
	Description string `json:"body_html"`
}

func (c *Client) EnsureProduct(ctx context.Context, access domain.StoreAccess, product domain.ProductContent) error {
	var existing struct {
		Products []productPayload `json:"products"`
	}
	query := "/products.json?handle=" + url.QueryEscape(product.Handle)
	if err := c.do(ctx, access, http.MethodGet, query, nil, &existing); err != nil {
		return err
	}
	if len(existing.Products) > 0 {
		return nil
	}

	payload := map[string]productPayload{
		"product": {Handle: product.Handle, Title: product.Title, Description: product.Description},
	}
	return c.do(ctx, access, http.MethodPost, "/products.json", payload, nil)
}

type navLinkPayload struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

func (c *Client) EnsureNavLink(ctx context.Context, access domain.StoreAccess, link domain.NavLink) error {
	var existing struct {
		Links []navLinkPayload `json:"links"`
	}
	query := "/navigation/links.json?path=" + url.QueryEscape(link.Path)
	if err := c.do(ctx, access, http.MethodGet, query, nil, &existing); err != nil {
		return err
	}
	if len(existing.Links) > 0 {
		return nil
	}

	payload := map[string]navLinkPayload{
		"link": {Title: link.Title, Path: link.Path},
	}
	return c.do(ctx, access, http.MethodPost, "/navigation/links.json", payload, nil)
}

func (c *Client) EnsureThemeAsset(ctx context.Context, access domain.StoreAccess, asset domain.ThemeAsset) error {
	// Asset writes are upserts on the platform side, so no lookup is
	// needed for idempotency.
	payload := map[string]map[string]string{
		"asset": {"key": asset.Key, "value": asset.Value},
	}
	return c.do(ctx, access, http.MethodPut, "/themes/current/assets.json", payload, nil)
}

// StorefrontDetails reads the shop record and derives the job result.
func (c *Client) StorefrontDetails(ctx context.Context, access domain.StoreAccess) (domain.Result, error) {
	var shop struct {
		Shop struct {
			Domain             string `json:"domain"`
			StorefrontPassword string `json:"storefront_password"`
		} `json:"shop"`
	}
	if err := c.do(ctx, access, http.MethodGet, "/shop.json", nil, &shop); err != nil {
		return domain.Result{}, err
	}

	domainName := shop.Shop.Domain
	if domainName == "" {
		domainName = access.Domain
	}

	return domain.Result{
		StoreURL:           "https://" + domainName,
		AdminURL:           "https://" + access.Domain + "/admin",
		StorefrontPassword: shop.Shop.StorefrontPassword,
	}, nil
}
