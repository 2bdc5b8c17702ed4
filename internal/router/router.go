// Package router registers the HTTP routes of the auth API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cms-auth/internal/config"
	"github.com/iliyamo/cms-auth/internal/handler"
	"github.com/iliyamo/cms-auth/internal/middleware"
	"github.com/iliyamo/cms-auth/internal/utils"
)

// RegisterRoutes registers routes that do not touch credentials.
func RegisterRoutes(e *echo.Echo, h *handler.Health) {
	e.GET("/healthz", h.Check)
}

// RegisterAuth registers the credential and session endpoints. Login,
// register and refresh are rate limited; the rest require a live access
// token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, sessions middleware.SessionChecker, codec *utils.TokenCodec, rl config.RateLimitConfig, rdb redis.UniversalClient) {
	// Routes live at the root, so middleware is attached per route rather
	// than through prefix groups.
	limit := middleware.RateLimit(rl, rdb)
	e.POST("/login", a.Login, limit)
	e.POST("/register", a.Register, limit)
	e.POST("/refresh_token", a.RefreshToken, limit)

	auth := middleware.AccessAuth(sessions, codec)
	e.GET("/me", a.Me, auth)
	e.PATCH("/me", a.UpdateMe, auth)
	e.PATCH("/password", a.ChangePassword, auth)
	e.POST("/logout", a.Logout, auth)
}
