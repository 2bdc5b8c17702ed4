// Package service holds the authentication and session flows: login,
// registration, password change, access token refresh and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cms-auth/internal/model"
	q "github.com/iliyamo/cms-auth/internal/queue"
	"github.com/iliyamo/cms-auth/internal/repository"
	"github.com/iliyamo/cms-auth/internal/utils"
)

// MinPasswordLength applies to registration and password change.
const MinPasswordLength = 8

// Failures the HTTP layer maps to client-facing statuses. Anything else
// returned by AuthService is an infrastructure failure.
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrIncorrectPassword     = errors.New("current password is incorrect")
	ErrEmailTaken            = errors.New("email is already taken")
	ErrWeakPassword          = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidRefreshToken   = errors.New("invalid refresh token")
	ErrExpiredRefreshToken   = errors.New("refresh token expired")
	ErrMalformedRefreshToken = errors.New("malformed refresh token")
)

// UserStore is the credential store.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, passwordHash string) error
	UpdateProfile(ctx context.Context, id uint64, p repository.ProfileUpdate) error
	SetOnlineStatus(ctx context.Context, id uint64, online bool) error
}

// RefreshLedger is the single-slot-per-user refresh token store. Entries
// are addressed by utils.HashRefreshRaw of the signed token.
type RefreshLedger interface {
	UpsertForUser(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	FindActiveByToken(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	FindActiveByUser(ctx context.Context, userID uint64) (model.RefreshToken, error)
	FindByUser(ctx context.Context, userID uint64) (model.RefreshToken, error)
	Revoke(ctx context.Context, t *model.RefreshToken) error
	Restore(ctx context.Context, t *model.RefreshToken) error
}

// SessionStore is the access token liveness registry.
type SessionStore interface {
	MarkValid(ctx context.Context, token string, ttl time.Duration) error
	IsValid(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string) error
}

// Options tunes an AuthService. Zero values select defaults.
type Options struct {
	SessionTTL time.Duration // capped at the codec's access lifetime
	BcryptCost int
	Events     EventPublisher
	Now        func() time.Time
}

// AuthService orchestrates the credential store, token codec, session
// cache and refresh ledger. It holds no mutable state of its own.
type AuthService struct {
	users      UserStore
	ledger     RefreshLedger
	sessions   SessionStore
	codec      *utils.TokenCodec
	events     EventPublisher
	log        echo.Logger
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

func NewAuthService(users UserStore, ledger RefreshLedger, sessions SessionStore, codec *utils.TokenCodec, logger echo.Logger, opts Options) *AuthService {
	ttl := opts.SessionTTL
	if ttl <= 0 || ttl > codec.AccessTTL() {
		ttl = codec.AccessTTL()
	}
	events := opts.Events
	if events == nil {
		events = NopPublisher{}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AuthService{
		users:      users,
		ledger:     ledger,
		sessions:   sessions,
		codec:      codec,
		events:     events,
		log:        logger,
		sessionTTL: ttl,
		bcryptCost: opts.BcryptCost,
		now:        now,
	}
}

// SessionTTL is the lifetime of a session cache entry.
func (s *AuthService) SessionTTL() time.Duration { return s.sessionTTL }

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Access  utils.AccessToken
	Refresh utils.RefreshToken
	User    model.User
}

// Login verifies credentials, mints a token pair, stores the refresh token
// in the caller's ledger slot and registers the access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	// The ledger is written first so a failed upsert leaves no live,
	// unreturned session behind.
	refresh, err := s.rotateRefresh(ctx, u.ID)
	if err != nil {
		return LoginResult{}, err
	}
	access, err := s.issueSession(ctx, u)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.users.SetOnlineStatus(ctx, u.ID, true); err != nil {
		return LoginResult{}, fmt.Errorf("mark user online: %w", err)
	}
	u.OnlineStatus = true

	s.log.Infoj(log.JSON{"event": "login", "user_id": u.ID})
	return LoginResult{Access: access, Refresh: refresh, User: u}, nil
}

// Register creates an ordinary account. The password is hashed before it
// reaches the store.
func (s *AuthService) Register(ctx context.Context, email, password string) (model.User, error) {
	if len(password) < MinPasswordLength {
		return model.User{}, ErrWeakPassword
	}
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	s.publish(ctx, q.QueueUserRegistered, u)
	s.log.Infoj(log.JSON{"event": "register", "user_id": u.ID})
	return u, nil
}

// ChangePasswordInput is the body of PATCH /password plus the caller id
// resolved by the access middleware.
type ChangePasswordInput struct {
	UserID          uint64
	CurrentPassword string
	NewPassword     string
	RefreshToken    string
}

// ChangePassword replaces the caller's password and rotates their ledger
// slot. The supplied refresh token must verify and belong to the caller;
// it is not looked up in the ledger. The old refresh token stops working
// because the slot now holds a different hash.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) (model.User, utils.RefreshToken, error) {
	id, err := s.codec.VerifyRefresh(in.RefreshToken)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return model.User{}, utils.RefreshToken{}, ErrExpiredRefreshToken
		}
		return model.User{}, utils.RefreshToken{}, ErrInvalidRefreshToken
	}
	if id.UserID != in.UserID {
		return model.User{}, utils.RefreshToken{}, ErrInvalidRefreshToken
	}

	u, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, utils.RefreshToken{}, ErrUserNotFound
		}
		return model.User{}, utils.RefreshToken{}, fmt.Errorf("load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, in.CurrentPassword) {
		return model.User{}, utils.RefreshToken{}, ErrIncorrectPassword
	}
	if len(in.NewPassword) < MinPasswordLength {
		return model.User{}, utils.RefreshToken{}, ErrWeakPassword
	}

	hash, err := utils.HashPassword(in.NewPassword, s.bcryptCost)
	if err != nil {
		return model.User{}, utils.RefreshToken{}, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return model.User{}, utils.RefreshToken{}, fmt.Errorf("update password: %w", err)
	}
	u.PasswordHash = hash

	refresh, err := s.rotateRefresh(ctx, u.ID)
	if err != nil {
		return model.User{}, utils.RefreshToken{}, err
	}

	s.publish(ctx, q.QueuePasswordChanged, u)
	s.log.Infoj(log.JSON{"event": "password_changed", "user_id": u.ID})
	return u, refresh, nil
}

// RefreshAccessToken mints a new access token from a refresh token. The
// ledger lookup comes first, so a rotated or revoked token is rejected
// even while its signature and expiry are still good. The refresh token
// itself is not rotated here.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (utils.AccessToken, error) {
	entry, err := s.ledger.FindActiveByToken(ctx, utils.HashRefreshRaw(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return utils.AccessToken{}, ErrInvalidRefreshToken
		}
		return utils.AccessToken{}, fmt.Errorf("find refresh token: %w", err)
	}

	id, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return utils.AccessToken{}, ErrExpiredRefreshToken
		}
		return utils.AccessToken{}, ErrMalformedRefreshToken
	}
	if entry.Expired(s.now()) {
		return utils.AccessToken{}, ErrExpiredRefreshToken
	}
	if entry.UserID == nil || *entry.UserID != id.UserID {
		return utils.AccessToken{}, ErrInvalidRefreshToken
	}

	u, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return utils.AccessToken{}, ErrInvalidRefreshToken
		}
		return utils.AccessToken{}, fmt.Errorf("load user: %w", err)
	}
	access, err := s.issueSession(ctx, u)
	if err != nil {
		return utils.AccessToken{}, err
	}
	s.log.Infoj(log.JSON{"event": "access_refreshed", "user_id": u.ID})
	return access, nil
}

// Logout evicts the caller's access token from the session cache. When a
// refresh token is given it must be the caller's active one, and it is
// soft-deleted.
func (s *AuthService) Logout(ctx context.Context, userID uint64, accessToken, refreshToken string) error {
	if refreshToken != "" {
		entry, err := s.ledger.FindActiveByToken(ctx, utils.HashRefreshRaw(refreshToken))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("find refresh token: %w", err)
		}
		if entry.UserID == nil || *entry.UserID != userID {
			return ErrInvalidRefreshToken
		}
		// ErrNotFound means a concurrent login rotated the slot after it
		// was read; the caller's token is already gone from the ledger and
		// the new one is not theirs to revoke.
		if err := s.ledger.Revoke(ctx, &entry); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	if err := s.sessions.Revoke(ctx, accessToken); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if err := s.users.SetOnlineStatus(ctx, userID, false); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("mark user offline: %w", err)
	}
	s.log.Infoj(log.JSON{"event": "logout", "user_id": userID})
	return nil
}

// RestoreRefreshToken reactivates a user's soft-deleted ledger slot. It
// is a no-op when the slot is already active.
func (s *AuthService) RestoreRefreshToken(ctx context.Context, userID uint64) error {
	entry, err := s.ledger.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("find refresh token: %w", err)
	}
	if entry.IsActive() {
		return nil
	}
	// A concurrent upsert that rotated the slot also reactivated it.
	if err := s.ledger.Restore(ctx, &entry); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("restore refresh token: %w", err)
	}
	return nil
}

// GetProfile loads the caller's account.
func (s *AuthService) GetProfile(ctx context.Context, userID uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// UpdateProfile writes the given profile fields and returns the result.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uint64, p repository.ProfileUpdate) (model.User, error) {
	if err := s.users.UpdateProfile(ctx, userID, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// issueSession signs an access token for u and registers it as live.
func (s *AuthService) issueSession(ctx context.Context, u model.User) (utils.AccessToken, error) {
	access, err := s.codec.IssueAccess(u.ID, u.Role)
	if err != nil {
		return utils.AccessToken{}, fmt.Errorf("issue access token: %w", err)
	}
	if err := s.sessions.MarkValid(ctx, access.Token, s.sessionTTL); err != nil {
		return utils.AccessToken{}, fmt.Errorf("register session: %w", err)
	}
	return access, nil
}

// rotateRefresh mints a refresh token and writes it into the user's slot.
func (s *AuthService) rotateRefresh(ctx context.Context, userID uint64) (utils.RefreshToken, error) {
	refresh, err := s.codec.IssueRefresh(userID)
	if err != nil {
		return utils.RefreshToken{}, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.ledger.UpsertForUser(ctx, userID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return utils.RefreshToken{}, fmt.Errorf("store refresh token: %w", err)
	}
	return refresh, nil
}

func (s *AuthService) publish(ctx context.Context, queue string, u model.User) {
	ev := q.AuthEvent{Type: queue, UserID: u.ID, Email: u.Email, OccurredAt: s.now()}
	if err := s.events.Publish(ctx, queue, ev); err != nil {
		s.log.Errorf("publish %s for user %d: %v", queue, u.ID, err)
	}
}
