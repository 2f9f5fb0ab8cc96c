package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents the session token claims: account identity plus a
// snapshot of the active/verified flags at issuance time.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Handle   string `json:"handle,omitempty"`
	Active   bool   `json:"active"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// UserID returns the account ID from the Subject claim
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService signs and verifies session tokens. A token is verifiable
// with only the signing secret and its embedded expiry; no database round
// trip is needed for a non-revoked token.
type TokenService struct {
	secret      string
	tokenExpiry time.Duration
	issuer      string
	audience    string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
	Audience    string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &TokenService{
		secret:      cfg.Secret,
		tokenExpiry: expiry,
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
	}
}

// Identity is the subset of account state embedded in a token.
type Identity struct {
	AccountID string
	Email     string
	Handle    string
	Active    bool
	Verified  bool
}

// Generate signs a new session token for the identity and returns the
// token with its expiry time.
func (s *TokenService) Generate(id Identity) (string, time.Time, error) {
	// Truncated to seconds to match the claim's wire precision.
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(s.tokenExpiry)

	claims := Claims{
		Email:    id.Email,
		Handle:   id.Handle,
		Active:   id.Active,
		Verified: id.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the embedded claims.
// Expired tokens are distinguished from malformed or tampered ones so
// clients can decide between re-authenticating and refreshing.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// PeekExpiry reads the expiry claim WITHOUT verifying the signature. It
// exists only to compute the revocation-entry TTL for a token that is being
// revoked; it must never be used to grant access.
func (s *TokenService) PeekExpiry(tokenString string) (time.Time, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, ErrTokenInvalid
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrTokenInvalid
	}
	return claims.ExpiresAt.Time, nil
}

// Expiry returns the configured token lifetime
func (s *TokenService) Expiry() time.Duration {
	return s.tokenExpiry
}
