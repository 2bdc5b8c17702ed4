package model

import "time"

// Roles stored in users.role. Any nonzero value is treated as staff.
const (
	RoleOrdinary uint8 = 0
	RoleStaff    uint8 = 1
)

// User represents an account record as stored in the `users` table.
// Handlers never serialise this struct directly; they go through the
// profile projection so the password hash and reset token never leave
// the process. Role is 0 for ordinary accounts and nonzero for staff.
// OnlineStatus is set on login and cleared on logout. The reset token and
// its expiry are both nil unless a reset is pending.
type User struct {
	ID                     uint64
	Email                  string
	PasswordHash           string
	Username               string
	FirstName              string
	LastName               string
	Name                   string
	Address                string
	Role                   uint8
	OnlineStatus           bool
	ResetPasswordToken     *string
	ResetPasswordExpiresAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsStaff reports whether the account holds a privileged role.
func (u User) IsStaff() bool { return u.Role != RoleOrdinary }

// SoftDeletable is implemented by records that are revoked by flagging
// rather than removed.
type SoftDeletable interface {
	IsActive() bool
	MarkDeleted(at time.Time)
	Restore()
}

// RefreshToken models the single ledger slot a user owns in the
// `refresh_tokens` table. Only the SHA-256 hash of the signed token is
// kept. UserID is nil once the owning user has been removed.
type RefreshToken struct {
	ID        string     // refresh_tokens.id (uuid)
	UserID    *uint64    // refresh_tokens.user_id (nullable, unique)
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	IsDeleted bool       // refresh_tokens.is_deleted
	DeletedAt *time.Time // refresh_tokens.deleted_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
	UpdatedAt time.Time  // refresh_tokens.updated_at
}

var _ SoftDeletable = (*RefreshToken)(nil)

// IsActive reports whether the entry has not been soft-deleted.
func (t *RefreshToken) IsActive() bool { return !t.IsDeleted }

// MarkDeleted flags the entry as revoked at the given time.
func (t *RefreshToken) MarkDeleted(at time.Time) {
	at = at.UTC()
	t.IsDeleted = true
	t.DeletedAt = &at
}

// Restore clears the soft-delete flag.
func (t *RefreshToken) Restore() {
	t.IsDeleted = false
	t.DeletedAt = nil
}

// Expired reports whether the ledger expiry has passed at now.
func (t *RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
