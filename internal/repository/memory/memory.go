// Package memory provides mutex-guarded in-process implementations of the
// user store and refresh token ledger. They follow the same contracts as
// the MySQL repositories, including the one-row-per-user ledger rule.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cms-auth/internal/model"
	"github.com/iliyamo/cms-auth/internal/repository"
)

// UserRepo is an in-memory credential store.
type UserRepo struct {
	mu      sync.RWMutex
	nextID  uint64
	byID    map[uint64]model.User
	byEmail map[string]uint64
}

func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[uint64]model.User{}, byEmail: map[string]uint64{}}
}

func (r *UserRepo) Create(_ context.Context, email, passwordHash string) (model.User, error) {
	email = repository.NormalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return model.User{}, repository.ErrEmailExists
	}
	r.nextID++
	now := time.Now().UTC()
	u := model.User{
		ID:           r.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         model.RoleOrdinary,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return u, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[repository.NormalizeEmail(email)]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *UserRepo) GetByID(_ context.Context, id uint64) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (r *UserRepo) UpdatePassword(_ context.Context, id uint64, passwordHash string) error {
	return r.update(id, func(u *model.User) {
		u.PasswordHash = passwordHash
		u.ResetPasswordToken = nil
		u.ResetPasswordExpiresAt = nil
	})
}

func (r *UserRepo) UpdateProfile(_ context.Context, id uint64, p repository.ProfileUpdate) error {
	return r.update(id, func(u *model.User) {
		if p.FirstName != nil {
			u.FirstName = *p.FirstName
		}
		if p.LastName != nil {
			u.LastName = *p.LastName
		}
		if p.Username != nil {
			u.Username = *p.Username
		}
	})
}

func (r *UserRepo) SetOnlineStatus(_ context.Context, id uint64, online bool) error {
	return r.update(id, func(u *model.User) { u.OnlineStatus = online })
}

// SetRole is a test and bootstrap helper; roles are not changed over HTTP.
func (r *UserRepo) SetRole(id uint64, role uint8) error {
	return r.update(id, func(u *model.User) { u.Role = role })
}

func (r *UserRepo) update(id uint64, fn func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return nil
}

// TokenRepo is an in-memory refresh token ledger keyed by user id, which
// gives it the same single-slot guarantee as the unique index in MySQL.
type TokenRepo struct {
	mu     sync.RWMutex
	byUser map[uint64]model.RefreshToken
	Now    func() time.Time // defaults to time.Now
}

func NewTokenRepo() *TokenRepo {
	return &TokenRepo{byUser: map[uint64]model.RefreshToken{}, Now: time.Now}
}

func (r *TokenRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *TokenRepo) UpsertForUser(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	t, ok := r.byUser[userID]
	if !ok {
		uid := userID
		t = model.RefreshToken{ID: uuid.NewString(), UserID: &uid, CreatedAt: now}
	}
	t.TokenHash = tokenHash
	t.ExpiresAt = exp.UTC()
	t.Restore()
	t.UpdatedAt = now
	r.byUser[userID] = t
	return nil
}

func (r *TokenRepo) FindActiveByToken(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byUser {
		if t.TokenHash == tokenHash && t.IsActive() {
			return t, nil
		}
	}
	return model.RefreshToken{}, repository.ErrNotFound
}

func (r *TokenRepo) FindActiveByUser(ctx context.Context, userID uint64) (model.RefreshToken, error) {
	t, err := r.FindByUser(ctx, userID)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if !t.IsActive() {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return t, nil
}

func (r *TokenRepo) FindByUser(_ context.Context, userID uint64) (model.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byUser[userID]
	if !ok {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return t, nil
}

// Revoke soft-deletes t only while its slot still holds t.TokenHash.
func (r *TokenRepo) Revoke(_ context.Context, t *model.RefreshToken) error {
	return r.setDeleted(t, true)
}

// Restore reactivates t under the same hash guard as Revoke.
func (r *TokenRepo) Restore(_ context.Context, t *model.RefreshToken) error {
	return r.setDeleted(t, false)
}

// setDeleted flips the soft-delete flags of the stored row. Only the flags
// and updated_at change; the rest of the stored row is kept.
func (r *TokenRepo) setDeleted(t *model.RefreshToken, deleted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, cur := range r.byUser {
		if cur.ID != t.ID || cur.TokenHash != t.TokenHash {
			continue
		}
		now := r.now()
		if deleted {
			cur.MarkDeleted(now)
		} else {
			cur.Restore()
		}
		cur.UpdatedAt = now
		r.byUser[uid] = cur
		*t = cur
		return nil
	}
	return repository.ErrNotFound
}

// Len returns the number of ledger rows, active or not.
func (r *TokenRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
