package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = time.Minute
	defaultRefreshTTL = 72 * time.Hour

	correlationIDBytes = 11
)

// TokenMode discriminates access and refresh tokens.
type TokenMode int

const (
	ModeAccess  TokenMode = 0
	ModeRefresh TokenMode = 1
)

func (m TokenMode) String() string {
	if m == ModeRefresh {
		return "refresh"
	}
	return "access"
}

type tokenClaims struct {
	T string    `json:"t"`
	M TokenMode `json:"m"`
	jwt.RegisteredClaims
}

// TokenClaims is the verified payload of a token.
type TokenClaims struct {
	CorrelationID string
	Mode          TokenMode
	ExpiresAt     time.Time
}

// TokenPair is the result of one issuance event.
type TokenPair struct {
	CorrelationID    string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenIssuer signs and verifies RS256 tokens bound to session ids.
type TokenIssuer struct {
	keys       KeyPair
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(i *TokenIssuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(i *TokenIssuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuer sets the iss claim. Tokens carrying a different issuer are rejected.
func WithIssuer(issuer string) TokenOption {
	return func(i *TokenIssuer) error {
		i.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(i *TokenIssuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewTokenIssuer builds an issuer from a signing key pair.
func NewTokenIssuer(keys KeyPair, opts ...TokenOption) (*TokenIssuer, error) {
	if keys.Private == nil || keys.Public == nil {
		return nil, errors.New("auth: token issuer requires an RSA key pair")
	}
	i := &TokenIssuer{
		keys:       keys,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.issuer))
	}
	i.parser = jwt.NewParser(parserOpts...)
	return i, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// Issue creates a fresh correlation id and signs an access/refresh pair for it.
func (i *TokenIssuer) Issue() (TokenPair, error) {
	id, err := newCorrelationID()
	if err != nil {
		return TokenPair{}, err
	}
	now := i.now()
	access, accessExp, err := i.sign(id, ModeAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(id, ModeRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		CorrelationID:    id,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) sign(id string, mode TokenMode, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := tokenClaims{
		T: id,
		M: mode,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.keys.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", mode, err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm and expiry. It does not consult sessions.
func (i *TokenIssuer) Verify(token string) (TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenClaims{}, ErrTokenInvalid
	}
	var claims tokenClaims
	parsed, err := i.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.keys.Public, nil
	})
	if err != nil || !parsed.Valid {
		return TokenClaims{}, ErrTokenInvalid
	}
	if claims.T == "" || (claims.M != ModeAccess && claims.M != ModeRefresh) {
		return TokenClaims{}, ErrTokenInvalid
	}
	out := TokenClaims{CorrelationID: claims.T, Mode: claims.M}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func newCorrelationID() (string, error) {
	buf := make([]byte, correlationIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
