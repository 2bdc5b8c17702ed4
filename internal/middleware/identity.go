package middleware

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cms-auth/internal/utils"
)

// Echo context keys set by AccessAuth.
const (
	ContextUserID      = "user_id"
	ContextRole        = "role"
	ContextAccessToken = "access_token"
)

type identityKey struct{}

func setIdentity(c echo.Context, id utils.Identity, raw string) {
	c.Set(ContextUserID, id.UserID)
	c.Set(ContextRole, id.Role)
	c.Set(ContextAccessToken, raw)
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id utils.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached by AccessAuth, if any.
func IdentityFrom(ctx context.Context) (utils.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(utils.Identity)
	return id, ok
}

// AccessToken returns the bearer token admitted by AccessAuth.
func AccessToken(c echo.Context) string {
	s, _ := c.Get(ContextAccessToken).(string)
	return s
}

// userID identifies the caller for rate limit keys. Unauthenticated
// requests share the "guest" bucket of their IP.
func userID(c echo.Context) string {
	if v, ok := c.Get(ContextUserID).(uint64); ok && v != 0 {
		return strconv.FormatUint(v, 10)
	}
	return "guest"
}
