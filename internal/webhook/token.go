// Package webhook mints and verifies the callback tokens that authenticate
// inbound provider webhooks.
//
// Every callback URL handed to a provider carries an HS256 JWT in its "token"
// query parameter. The token is bound to the provider name through the
// subject claim, so a token issued for one provider cannot be replayed
// against another provider's webhook route.
package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is the iss claim of every callback token
	Issuer = "thv-imagegen-api"

	// Audience is the aud claim of every callback token
	Audience = "webhook"

	// TokenParam is the query parameter carrying the token
	TokenParam = "token"

	// DefaultTTL applies when a signer is created with a zero TTL
	DefaultTTL = 24 * time.Hour

	minKeyLength = 32
)

// ErrInvalidToken is returned when a callback token fails verification
var ErrInvalidToken = errors.New("invalid webhook token")

// Signer mints and verifies callback tokens.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a Signer from a shared secret of at least 32 bytes.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("webhook signing key must be at least %d bytes", minKeyLength)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// Mint issues a token for the named provider.
func (s *Signer) Mint(providerName string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   providerName,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign webhook token: %w", err)
	}
	return signed, nil
}

// CallbackURL returns the webhook URL a provider should call on completion.
func (s *Signer) CallbackURL(publicBaseURL, providerName string) (string, error) {
	token, err := s.Mint(providerName)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(publicBaseURL, "/")
	return fmt.Sprintf("%s/webhooks/%s?%s", base, url.PathEscape(providerName),
		url.Values{TokenParam: []string{token}}.Encode()), nil
}

// Verify checks that token was minted by this signer for the named provider
// and has not expired.
func (s *Signer) Verify(token, providerName string) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithSubject(providerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
