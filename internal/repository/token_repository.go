package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cms-auth/internal/model"
)

const tokenColumns = "id,user_id,token_hash,expires_at,is_deleted,deleted_at,created_at,updated_at"

// TokenRepo is the refresh token ledger. refresh_tokens.user_id carries a
// UNIQUE index, so each user owns at most one row and every write for a
// user goes through UpsertForUser.
type TokenRepo struct {
	DB  *sql.DB
	Now func() time.Time // stamps updated_at and deleted_at; defaults to time.Now
}

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db, Now: time.Now} }

func (r *TokenRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// UpsertForUser stores tokenHash as the user's only refresh token. An
// existing row, active or soft-deleted, is overwritten in place and
// reactivated. Concurrent callers resolve to last writer wins on the
// token; the unique index makes a second row impossible.
func (r *TokenRepo) UpsertForUser(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	now := r.now()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, is_deleted, deleted_at, created_at, updated_at) "+
			"VALUES (?,?,?,?,0,NULL,?,?) "+
			"ON DUPLICATE KEY UPDATE token_hash=VALUES(token_hash), expires_at=VALUES(expires_at), "+
			"is_deleted=0, deleted_at=NULL, updated_at=VALUES(updated_at)",
		uuid.NewString(), userID, tokenHash, exp.UTC(), now, now)
	if err != nil {
		return fmt.Errorf("upsert refresh token: %w", err)
	}
	return nil
}

// FindActiveByToken returns the non-deleted entry holding tokenHash.
// Expiry is not checked here.
func (r *TokenRepo) FindActiveByToken(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	return r.getOne(ctx, "SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash=? AND is_deleted=0 LIMIT 1", tokenHash)
}

// FindActiveByUser returns the user's non-deleted entry.
func (r *TokenRepo) FindActiveByUser(ctx context.Context, userID uint64) (model.RefreshToken, error) {
	return r.getOne(ctx, "SELECT "+tokenColumns+" FROM refresh_tokens WHERE user_id=? AND is_deleted=0 LIMIT 1", userID)
}

// FindByUser returns the user's entry whether or not it is soft-deleted.
func (r *TokenRepo) FindByUser(ctx context.Context, userID uint64) (model.RefreshToken, error) {
	return r.getOne(ctx, "SELECT "+tokenColumns+" FROM refresh_tokens WHERE user_id=? LIMIT 1", userID)
}

func (r *TokenRepo) getOne(ctx context.Context, query string, arg any) (model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		userID    sql.NullInt64
		deletedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &userID, &t.TokenHash, &t.ExpiresAt, &t.IsDeleted, &deletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}
	if userID.Valid {
		uid := uint64(userID.Int64)
		t.UserID = &uid
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return t, nil
}

// Revoke soft-deletes the entry. The update only matches while the row
// still holds t.TokenHash: if a concurrent upsert has rotated the slot,
// nothing is written and ErrNotFound is returned, so a token the caller
// never held is left alone. t is updated only on success.
func (r *TokenRepo) Revoke(ctx context.Context, t *model.RefreshToken) error {
	next := *t
	next.MarkDeleted(r.now())
	return r.setDeleted(ctx, t, next)
}

// Restore reactivates a soft-deleted entry under the same hash guard as
// Revoke.
func (r *TokenRepo) Restore(ctx context.Context, t *model.RefreshToken) error {
	next := *t
	next.Restore()
	return r.setDeleted(ctx, t, next)
}

func (r *TokenRepo) setDeleted(ctx context.Context, t *model.RefreshToken, next model.RefreshToken) error {
	var deletedAt any
	if next.DeletedAt != nil {
		deletedAt = *next.DeletedAt
	}
	now := r.now()
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_deleted=?, deleted_at=?, updated_at=? WHERE id=? AND token_hash=?",
		next.IsDeleted, deletedAt, now, t.ID, t.TokenHash)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refresh token rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	next.UpdatedAt = now
	*t = next
	return nil
}
