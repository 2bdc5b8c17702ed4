// Package utils provides helpers for token creation, verification and hashing.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "typ" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	// ErrExpiredToken means the token is well formed and correctly signed
	// but its exp claim has passed. Callers should prompt a refresh.
	ErrExpiredToken = errors.New("token expired")
	// ErrMalformedToken covers signature mismatch, structural corruption,
	// an unexpected algorithm and a token of the wrong kind.
	ErrMalformedToken = errors.New("malformed token")
)

// AccessToken is a signed short-lived JWT together with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken is a signed long-lived JWT returned to the client. Only
// HashRefreshRaw(Raw) is persisted.
type RefreshToken struct {
	Raw string    // signed token string returned to the client
	Exp time.Time // UTC expiration time
}

// Claims is the payload of both token kinds. Role is only meaningful for
// access tokens.
type Claims struct {
	Kind string `json:"typ"`
	Role uint8  `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a verified token resolves to.
type Identity struct {
	UserID uint64
	Role   uint8
	Exp    time.Time
}

// TokenCodec signs and verifies HS256 tokens with one injected secret.
// It performs no I/O and is safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec builds a codec. accessTTL must be shorter than refreshTTL.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if accessTTL >= refreshTTL {
		return nil, fmt.Errorf("access lifetime %s must be shorter than refresh lifetime %s", accessTTL, refreshTTL)
	}
	return &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock returns a copy of the codec that reads time from now.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL returns the lifetime of issued access tokens.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the lifetime of issued refresh tokens.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token carrying the user id as subject and
// the account role.
func (c *TokenCodec) IssueAccess(userID uint64, role uint8) (AccessToken, error) {
	signed, exp, err := c.sign(KindAccess, userID, role, c.accessTTL)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// IssueRefresh signs a refresh token that carries only the subject.
func (c *TokenCodec) IssueRefresh(userID uint64) (RefreshToken, error) {
	signed, exp, err := c.sign(KindRefresh, userID, 0, c.refreshTTL)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: signed, Exp: exp}, nil
}

func (c *TokenCodec) sign(kind string, userID uint64, role uint8, ttl time.Duration) (string, time.Time, error) {
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Kind: kind,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// two tokens minted in the same second must still differ
			ID: uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// Verify checks signature and expiry of a token of any kind.
func (c *TokenCodec) Verify(raw string) (Identity, string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenMalformed):
			return Identity{}, "", ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, "", ErrExpiredToken
		default:
			return Identity{}, "", ErrMalformedToken
		}
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return Identity{}, "", ErrMalformedToken
	}
	return Identity{UserID: uid, Role: claims.Role, Exp: claims.ExpiresAt.Time.UTC()}, claims.Kind, nil
}

// VerifyAccess is Verify restricted to access tokens.
func (c *TokenCodec) VerifyAccess(raw string) (Identity, error) {
	return c.verifyKind(raw, KindAccess)
}

// VerifyRefresh is Verify restricted to refresh tokens.
func (c *TokenCodec) VerifyRefresh(raw string) (Identity, error) {
	return c.verifyKind(raw, KindRefresh)
}

func (c *TokenCodec) verifyKind(raw, kind string) (Identity, error) {
	id, got, err := c.Verify(raw)
	if err != nil {
		return Identity{}, err
	}
	if got != kind {
		return Identity{}, ErrMalformedToken
	}
	return id, nil
}

// HashRefreshRaw returns the SHA-256 hex digest of a refresh token. The
// ledger is keyed by this value so a leaked table cannot be replayed.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
