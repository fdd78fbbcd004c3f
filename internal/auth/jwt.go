// Package auth verifies and issues the bearer tokens that gate chat
// connections and the REST history endpoints.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/projectchat/internal/chat"
)

var (
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("auth disabled")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", chat.ErrAuth)
	// ErrMissingToken is returned for an empty credential.
	ErrMissingToken = fmt.Errorf("missing token: %w", chat.ErrAuth)
)

// Claims carried by chat tokens. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 tokens against a shared secret.
type Validator struct {
	secret []byte
	leeway time.Duration
}

// NewValidator builds a validator for secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret), leeway: 5 * time.Second}
}

// Validate parses credential and returns the identity in its subject claim.
// Missing, malformed, expired, wrongly signed and subject-less tokens are all
// rejected with an error wrapping chat.ErrAuth.
func (v *Validator) Validate(credential string) (chat.Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return chat.Identity{}, fmt.Errorf("%w: %w", chat.ErrAuth, ErrAuthDisabled)
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return chat.Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Identity{}, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return chat.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return chat.Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return chat.Identity{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return chat.Identity{
		ID:    subject,
		Name:  strings.TrimSpace(claims.Name),
		Email: strings.TrimSpace(claims.Email),
	}, nil
}

// Issuer signs tokens. Real deployments receive tokens from the account
// service; Issuer backs the CLI token command and tests.
type Issuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer builds an issuer. A zero expiry issues tokens without exp.
func NewIssuer(secret string, expiry time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue signs a token for identity.
func (i *Issuer) Issue(identity chat.Identity) (string, error) {
	if i == nil || len(i.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(identity.ID) == "" {
		return "", errors.New("user id required")
	}

	now := i.now()
	claims := Claims{
		Email: strings.TrimSpace(identity.Email),
		Name:  strings.TrimSpace(identity.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.expiry != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
