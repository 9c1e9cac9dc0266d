// Package config loads process configuration from environment variables.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Dispatch mode values for DispatchMode.
const (
	DispatchDirect = "direct"
	DispatchQueued = "queued"
)

// Config holds all configuration values for the orchestrator.
type Config struct {
	// HTTP listen port.
	Port string

	// SQLite database path.
	DatabasePath string

	// Static shared secret authenticating service-to-service admission.
	AdmissionSecret string

	// HMAC key verifying administrative identity tokens.
	AdminTokenKey []byte

	// HMAC key for the queue's service identity tokens.
	TaskTokenKey []byte

	// 32-byte key sealing stored credentials.
	CredentialKey []byte

	// Platform partner app credentials for the OAuth handoff.
	PartnerClientID     string
	PartnerClientSecret string

	// "direct" runs population in-process; "queued" goes through River.
	DispatchMode string

	// URL the queued dispatcher delivers population tasks to.
	TaskGatewayURL string

	// Site limit applied to entities with no explicit plan entry.
	DefaultSiteLimit int

	// Per-entity site limit overrides, parsed from "id=limit,id=limit".
	PlanLimits map[string]int

	// Company entities are unlimited unless this is set.
	EnforceCompanyQuota bool
}

// Load reads configuration from environment variables. Only values that
// would make the process unusable fail here; missing partner credentials
// surface later as actionable configuration errors from the handoff.
func Load() (*Config, error) {
	port := envOrDefault("PORT", "8080")

	cfg := &Config{
		Port:                port,
		DatabasePath:        envOrDefault("DATABASE_PATH", "storeforge.db"),
		AdmissionSecret:     os.Getenv("STOREFORGE_ADMISSION_SECRET"),
		PartnerClientID:     os.Getenv("STOREFORGE_PARTNER_CLIENT_ID"),
		PartnerClientSecret: os.Getenv("STOREFORGE_PARTNER_CLIENT_SECRET"),
		DispatchMode:        envOrDefault("STOREFORGE_DISPATCH_MODE", DispatchDirect),
		TaskGatewayURL:      envOrDefault("STOREFORGE_TASK_GATEWAY_URL", "http://localhost:"+port+"/api/v1/tasks/populate"),
		EnforceCompanyQuota: os.Getenv("STOREFORGE_ENFORCE_COMPANY_QUOTA") == "true",
	}

	if cfg.DispatchMode != DispatchDirect && cfg.DispatchMode != DispatchQueued {
		return nil, fmt.Errorf("invalid STOREFORGE_DISPATCH_MODE %q (use %q or %q)",
			cfg.DispatchMode, DispatchDirect, DispatchQueued)
	}

	limitStr := envOrDefault("STOREFORGE_DEFAULT_SITE_LIMIT", "3")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return nil, fmt.Errorf("invalid STOREFORGE_DEFAULT_SITE_LIMIT: %w", err)
	}
	cfg.DefaultSiteLimit = limit

	cfg.PlanLimits, err = parsePlanLimits(os.Getenv("STOREFORGE_PLAN_LIMITS"))
	if err != nil {
		return nil, err
	}

	// Signing and sealing keys derive from env secrets. A development
	// process with nothing set still starts, with keys derived from a
	// fixed string; any real deployment sets all three.
	cfg.AdminTokenKey = deriveKey(envOrDefault("STOREFORGE_ADMIN_TOKEN_KEY", "storeforge-dev-admin"))
	cfg.TaskTokenKey = deriveKey(envOrDefault("STOREFORGE_TASK_TOKEN_KEY", "storeforge-dev-task"))
	cfg.CredentialKey = deriveKey(envOrDefault("STOREFORGE_CREDENTIAL_KEY", "storeforge-dev-credential"))

	return cfg, nil
}

// parsePlanLimits parses "entityID=limit,entityID=limit".
func parsePlanLimits(raw string) (map[string]int, error) {
	if raw == "" {
		return nil, nil
	}

	limits := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid STOREFORGE_PLAN_LIMITS entry %q", pair)
		}
		limit, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid STOREFORGE_PLAN_LIMITS entry %q: %w", pair, err)
		}
		limits[key] = limit
	}
	return limits, nil
}

// deriveKey stretches an env secret into a 32-byte key.
func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
