package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cms-auth/internal/utils"
)

// Responses written by AccessAuth.
const (
	MsgMissingAuth  = "Missing or invalid Authorization header"
	MsgInvalidToken = "Invalid token"
	MsgExpiredToken = "Token expired"
)

// SessionChecker is the read side of the session cache.
type SessionChecker interface {
	IsValid(ctx context.Context, token string) (bool, error)
}

// AccessAuth admits a request only when its bearer token is live in the
// session cache and verifies as an access token. The cache is consulted
// first: an evicted token is rejected without looking at its signature.
// On success the caller's identity is attached to the echo context and to
// the request context.
func AccessAuth(sessions SessionChecker, codec *utils.TokenCodec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": MsgMissingAuth})
			}

			live, err := sessions.IsValid(c.Request().Context(), raw)
			if err != nil {
				c.Logger().Errorf("session lookup: %v", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal server error"})
			}
			if !live {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": MsgInvalidToken})
			}

			id, err := codec.VerifyAccess(raw)
			if err != nil {
				if errors.Is(err, utils.ErrExpiredToken) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"message": MsgExpiredToken})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": MsgInvalidToken})
			}

			setIdentity(c, id, raw)
			return next(c)
		}
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
