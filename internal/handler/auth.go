package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cms-auth/internal/middleware"
	"github.com/iliyamo/cms-auth/internal/repository"
	"github.com/iliyamo/cms-auth/internal/service"
)

const requestTimeout = 5 * time.Second

// AuthHandler exposes the auth service over HTTP.
type AuthHandler struct {
	Auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerReq struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type updateMeReq struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=4,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,min=4,max=150"`
	Username  *string `json:"username" validate:"omitempty,min=6,max=150"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
	RefreshToken    string `json:"refresh_token" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutReq struct {
	RefreshToken string `json:"refresh_token"`
}

// Login: verify credentials and return a token pair plus the profile.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  res.Access.Token,
		"refresh_token": res.Refresh.Raw,
		"data":          newProfile(res.User, res.User.Role),
	})
}

// Register: create an ordinary account. No tokens are issued.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.Register(ctx, req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"data": newProfile(u, u.Role)})
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, role := caller(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.GetProfile(ctx, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": newProfile(u, role)})
}

// UpdateMe changes the profile fields present in the body.
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	var req updateMeReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	uid, role := caller(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.UpdateProfile(ctx, uid, repository.ProfileUpdate{
		FirstName: trimmed(req.FirstName),
		LastName:  trimmed(req.LastName),
		Username:  trimmed(req.Username),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": newProfile(u, role)})
}

// ChangePassword sets a new password and returns the rotated refresh token
// alongside the profile; the one sent in the request no longer works.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	uid, role := caller(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, refresh, err := h.Auth.ChangePassword(ctx, service.ChangePasswordInput{
		UserID:          uid,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		RefreshToken:    strings.TrimSpace(req.RefreshToken),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":          newProfile(u, role),
		"refresh_token": refresh.Raw,
	})
}

// RefreshToken mints a new access token. The refresh token is not rotated.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req refreshReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	access, err := h.Auth.RefreshAccessToken(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"new_access_token": access.Token})
}

// Logout evicts the bearer token and, when given, revokes the caller's
// refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
	}
	uid, _ := caller(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, uid, middleware.AccessToken(c), strings.TrimSpace(req.RefreshToken)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// caller returns the identity set by middleware.AccessAuth.
func caller(c echo.Context) (uint64, uint8) {
	uid, _ := c.Get(middleware.ContextUserID).(uint64)
	role, _ := c.Get(middleware.ContextRole).(uint8)
	return uid, role
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// writeError maps service failures to responses. Anything unrecognised is
// an infrastructure fault and is logged, never reported as an auth failure.
func writeError(c echo.Context, err error) error {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		status, msg = http.StatusNotFound, "Not found user"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, msg = http.StatusNotFound, "Password is incorrect"
	case errors.Is(err, service.ErrEmailTaken):
		status, msg = http.StatusConflict, "Email is already taken"
	case errors.Is(err, service.ErrWeakPassword):
		status, msg = http.StatusBadRequest, fmt.Sprintf("Password must be at least %d characters", service.MinPasswordLength)
	case errors.Is(err, service.ErrIncorrectPassword):
		status, msg = http.StatusBadRequest, "Current password is incorrect"
	case errors.Is(err, service.ErrInvalidRefreshToken):
		status, msg = http.StatusUnauthorized, "Invalid refresh token"
	case errors.Is(err, service.ErrExpiredRefreshToken):
		status, msg = http.StatusUnauthorized, "Refresh Token expired"
	case errors.Is(err, service.ErrMalformedRefreshToken):
		status, msg = http.StatusUnauthorized, "Invalid Refresh Token"
	default:
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, echo.Map{"message": msg})
}
