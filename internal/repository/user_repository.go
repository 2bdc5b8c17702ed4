package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/cms-auth/internal/model"
)

const userColumns = "id,email,password_hash,username,first_name,last_name,name,address,role,online_status," +
	"reset_password_token,reset_password_expires_at,created_at,updated_at"

// UserRepo is the credential store over the `users` table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// ProfileUpdate carries the optional profile fields of PATCH /me. Nil
// fields are left untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Username  *string
}

// NormalizeEmail trims and lower-cases an address before storage or lookup.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts an ordinary account with an already hashed password.
func (r *UserRepo) Create(ctx context.Context, email, passwordHash string) (model.User, error) {
	now := time.Now().UTC().Truncate(time.Second)
	u := model.User{
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         model.RoleOrdinary,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role, created_at, updated_at) VALUES (?,?,?,?,?)",
		u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("insert user id: %w", err)
	}
	u.ID = uint64(id)
	return u, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (model.User, error) {
	var (
		u          model.User
		resetToken sql.NullString
		resetExp   sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Username, &u.FirstName, &u.LastName, &u.Name, &u.Address,
		&u.Role, &u.OnlineStatus, &resetToken, &resetExp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	if resetToken.Valid {
		u.ResetPasswordToken = &resetToken.String
	}
	if resetExp.Valid {
		u.ResetPasswordExpiresAt = &resetExp.Time
	}
	return u, nil
}

// UpdatePassword replaces the stored hash and clears any pending reset token.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, passwordHash string) error {
	return r.execOne(ctx,
		"UPDATE users SET password_hash=?, reset_password_token=NULL, reset_password_expires_at=NULL, updated_at=? WHERE id=?",
		passwordHash, time.Now().UTC(), id)
}

// UpdateProfile writes the non-nil fields of p.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, p ProfileUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if p.FirstName != nil {
		sets = append(sets, "first_name=?")
		args = append(args, *p.FirstName)
	}
	if p.LastName != nil {
		sets = append(sets, "last_name=?")
		args = append(args, *p.LastName)
	}
	if p.Username != nil {
		sets = append(sets, "username=?")
		args = append(args, *p.Username)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at=?")
	args = append(args, time.Now().UTC(), id)
	return r.execOne(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
}

// SetOnlineStatus flips users.online_status.
func (r *UserRepo) SetOnlineStatus(ctx context.Context, id uint64, online bool) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET online_status=? WHERE id=?", online, id)
	if err != nil {
		return fmt.Errorf("update online status: %w", err)
	}
	return nil
}

// execOne runs an UPDATE that must match exactly one user. It relies on
// the clientFoundRows DSN flag set by database.Open so unchanged rows
// still count as matched.
func (r *UserRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
