package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/modemfleet/internal/config"
	"github.com/modemfleet/internal/domain"
)

var (
	// ErrInvalidCredentials is returned for a bad user name or password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for expired, malformed, or mis-issued
	// bearer tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims carried by access tokens.
type Claims struct {
	UserName string      `json:"userName"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies signed bearer tokens.
type TokenIssuer struct {
	cfg config.JWTConfig
	key []byte
}

// NewTokenIssuer creates an issuer from the JWT configuration.
func NewTokenIssuer(cfg config.JWTConfig) (*TokenIssuer, error) {
	if cfg.Key == "" {
		return nil, errors.New("jwt key not configured")
	}
	return &TokenIssuer{cfg: cfg, key: []byte(cfg.Key)}, nil
}

// Issue mints an access token for the user. Returns the compact token and
// its expiry.
func (i *TokenIssuer) Issue(user *domain.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expiry := now.Add(time.Duration(i.cfg.ExpireMinutes) * time.Minute)

	claims := Claims{
		UserName: user.UserName,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiry, nil
}

// Verify parses and validates a compact token, returning its claims.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return i.key, nil
		},
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshTTL returns the configured lifetime of refresh tokens.
func (i *TokenIssuer) RefreshTTL() time.Duration {
	return time.Duration(i.cfg.RefreshTokenDays) * 24 * time.Hour
}
