package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789abcdef0123456789"

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec(testSecret, 100*time.Minute, 30*24*time.Hour)
	require.NoError(t, err)
	return c
}

func TestNewTokenCodec_Validation(t *testing.T) {
	_, err := NewTokenCodec("", time.Minute, time.Hour)
	assert.Error(t, err)

	_, err = NewTokenCodec(testSecret, 0, time.Hour)
	assert.Error(t, err)

	_, err = NewTokenCodec(testSecret, time.Hour, time.Hour)
	assert.Error(t, err)
}

func TestIssueAccess_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	for _, tc := range []struct {
		userID uint64
		role   uint8
	}{{1, 0}, {42, 1}, {1 << 40, 3}} {
		tok, err := c.IssueAccess(tc.userID, tc.role)
		require.NoError(t, err)

		id, err := c.VerifyAccess(tok.Token)
		require.NoError(t, err)
		assert.Equal(t, tc.userID, id.UserID)
		assert.Equal(t, tc.role, id.Role)
		assert.True(t, id.Exp.After(time.Now()))
		assert.WithinDuration(t, tok.Exp, id.Exp, time.Second)
	}
}

func TestIssueRefresh_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tok, err := c.IssueRefresh(7)
	require.NoError(t, err)

	id, err := c.VerifyRefresh(tok.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id.UserID)
	assert.Zero(t, id.Role)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), id.Exp, time.Minute)
}

func TestIssue_TokensAreUnique(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.IssueRefresh(7)
	require.NoError(t, err)
	b, err := c.IssueRefresh(7)
	require.NoError(t, err)

	assert.NotEqual(t, a.Raw, b.Raw)
	assert.NotEqual(t, HashRefreshRaw(a.Raw), HashRefreshRaw(b.Raw))
}

func TestVerify_Expired(t *testing.T) {
	c := newTestCodec(t)
	past := c.WithClock(func() time.Time { return time.Now().Add(-200 * time.Minute) })

	tok, err := past.IssueAccess(1, 0)
	require.NoError(t, err)

	_, err = c.VerifyAccess(tok.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewTokenCodec("another-secret-0123456789abcdef0123", time.Minute, time.Hour)
	require.NoError(t, err)

	tok, err := other.IssueAccess(1, 0)
	require.NoError(t, err)

	_, err = c.VerifyAccess(tok.Token)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_Corrupted(t *testing.T) {
	c := newTestCodec(t)

	tok, err := c.IssueAccess(1, 0)
	require.NoError(t, err)

	for _, raw := range []string{
		"",
		"not-a-jwt",
		tok.Token[:len(tok.Token)-4] + "AAAA",
		strings.Replace(tok.Token, ".", "", 1),
	} {
		_, err := c.VerifyAccess(raw)
		assert.ErrorIs(t, err, ErrMalformedToken, raw)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	c := newTestCodec(t)
	claims := Claims{Kind: KindAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = c.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_RequiresExpiry(t *testing.T) {
	c := newTestCodec(t)
	claims := Claims{Kind: KindAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = c.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_KindMismatch(t *testing.T) {
	c := newTestCodec(t)

	refresh, err := c.IssueRefresh(1)
	require.NoError(t, err)
	_, err = c.VerifyAccess(refresh.Raw)
	assert.ErrorIs(t, err, ErrMalformedToken)

	access, err := c.IssueAccess(1, 0)
	require.NoError(t, err)
	_, err = c.VerifyRefresh(access.Token)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestHashRefreshRaw(t *testing.T) {
	h := HashRefreshRaw("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}
