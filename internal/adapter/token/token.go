// Package token handles the three caller identities the API distinguishes:
// the static service-to-service admission secret, administrative end-user
// tokens, and the short-lived identity tokens the task queue presents.
package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Audience and issuer for queue identity tokens. The gateway rejects any
// token minted for a different service identity.
const (
	taskAudience = "storeforge/tasks"
	taskIssuer   = "storeforge/dispatcher"

	adminAudience = "storeforge/admin"
)

// bearer extracts the token from an Authorization header.
func bearer(header string) (string, error) {
	if header == "" {
		return "", &domain.AuthenticationError{Reason: "missing authorization header"}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", &domain.AuthenticationError{Reason: "malformed authorization header"}
	}
	return parts[1], nil
}

// SharedSecret authenticates service-to-service calls with a static
// bearer credential compared in constant time.
type SharedSecret struct {
	secret string
}

// NewSharedSecret creates a shared-secret verifier.
func NewSharedSecret(secret string) *SharedSecret {
	return &SharedSecret{secret: secret}
}

// Verify checks the Authorization header against the configured secret.
func (s *SharedSecret) Verify(header string) error {
	if s.secret == "" {
		return &domain.ConfigurationError{
			Setting: "admission secret",
			Reason:  "set STOREFORGE_ADMISSION_SECRET",
		}
	}

	token, err := bearer(header)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
		return &domain.AuthenticationError{Reason: "invalid credential"}
	}
	return nil
}

// taskClaims are the registered claims of a queue identity token.
type taskClaims struct {
	jwt.RegisteredClaims
	JobID string `json:"job_id,omitempty"`
}

// ServiceIdentity mints and verifies the tokens that prove a task callback
// originates from the queue infrastructure.
type ServiceIdentity struct {
	key []byte
	ttl time.Duration
}

// NewServiceIdentity creates a service identity with the given HMAC key.
func NewServiceIdentity(key []byte) *ServiceIdentity {
	return &ServiceIdentity{key: key, ttl: 5 * time.Minute}
}

// WithTTL overrides the token lifetime. Tests use it to mint expired
// tokens.
func (s *ServiceIdentity) WithTTL(ttl time.Duration) *ServiceIdentity {
	s.ttl = ttl
	return s
}

// Mint issues a short-lived token covering one task delivery.
func (s *ServiceIdentity) Mint(jobID string) (string, error) {
	now := time.Now()
	claims := taskClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    taskIssuer,
			Audience:  jwt.ClaimStrings{taskAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		JobID: jobID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing task token: %w", err)
	}
	return signed, nil
}

// Verify checks the Authorization header carries a live token issued to
// the expected service identity. Every failure maps to an authentication
// error; no job logic runs behind one.
func (s *ServiceIdentity) Verify(header string) error {
	raw, err := bearer(header)
	if err != nil {
		return err
	}

	var claims taskClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &domain.AuthenticationError{Reason: "task token expired"}
		}
		return &domain.AuthenticationError{Reason: "invalid task token"}
	}

	if claims.Issuer != taskIssuer {
		return &domain.AuthenticationError{Reason: "unexpected task token issuer"}
	}
	if !contains(claims.Audience, taskAudience) {
		return &domain.AuthenticationError{Reason: "unexpected task token audience"}
	}

	return nil
}

// AdminClaims identify an administrative end user and the entity they act
// for.
type AdminClaims struct {
	jwt.RegisteredClaims
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"`
}

// AdminVerifier validates administrative end-user identity tokens.
type AdminVerifier struct {
	key []byte
}

// NewAdminVerifier creates a verifier with the given HMAC key.
func NewAdminVerifier(key []byte) *AdminVerifier {
	return &AdminVerifier{key: key}
}

// Verify parses and validates an admin token from the Authorization
// header and returns its claims.
func (a *AdminVerifier) Verify(header string) (AdminClaims, error) {
	raw, err := bearer(header)
	if err != nil {
		return AdminClaims{}, err
	}

	var claims AdminClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AdminClaims{}, &domain.AuthenticationError{Reason: "admin token expired"}
		}
		return AdminClaims{}, &domain.AuthenticationError{Reason: "invalid admin token"}
	}

	if !contains(claims.Audience, adminAudience) {
		return AdminClaims{}, &domain.AuthenticationError{Reason: "unexpected admin token audience"}
	}
	if claims.EntityType == "" || claims.EntityID == "" {
		return AdminClaims{}, &domain.AuthenticationError{Reason: "admin token missing entity claims"}
	}

	return claims, nil
}

// MintAdmin issues an admin token. Production tokens come from the
// identity provider; this exists for local development and tests.
func (a *AdminVerifier) MintAdmin(entity domain.Entity, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   entity.ID,
			Audience:  jwt.ClaimStrings{adminAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		EntityType: string(entity.Type),
		EntityID:   entity.ID,
		Role:       role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}
	return signed, nil
}

func contains(audience jwt.ClaimStrings, want string) bool {
	for _, a := range audience {
		if a == want {
			return true
		}
	}
	return false
}
