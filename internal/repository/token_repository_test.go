package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cms-auth/internal/model"
)

func tokenRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "token_hash", "expires_at", "is_deleted", "deleted_at", "created_at", "updated_at",
	})
}

func TestTokenRepo_UpsertForUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)
	exp := time.Now().Add(30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens") + ".*" + regexp.QuoteMeta("ON DUPLICATE KEY UPDATE token_hash=VALUES(token_hash)")).
		WithArgs(sqlmock.AnyArg(), uint64(5), "hash-1", exp.UTC(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertForUser(context.Background(), 5, "hash-1", exp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_UpsertForUser_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).WillReturnError(errors.New("deadlock"))

	err := repo.UpsertForUser(context.Background(), 5, "hash-1", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestTokenRepo_FindActiveByToken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=? AND is_deleted=0")).
		WithArgs("hash-1").
		WillReturnRows(tokenRows().AddRow("id-1", 5, "hash-1", now.Add(time.Hour), false, nil, now, now))

	got, err := repo.FindActiveByToken(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, uint64(5), *got.UserID)
	assert.True(t, got.IsActive())
}

func TestTokenRepo_FindActiveByToken_Miss(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=?")).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveByToken(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenRepo_FindActiveByUser_OrphanedUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE user_id=? AND is_deleted=0")).
		WithArgs(uint64(5)).
		WillReturnRows(tokenRows().AddRow("id-1", nil, "hash-1", now, false, nil, now, now))

	got, err := repo.FindActiveByUser(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, got.UserID)
}

func TestTokenRepo_RevokeAndRestore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	repo.Now = func() time.Time { return at }
	entry := &model.RefreshToken{ID: "id-1", TokenHash: "hash-1"}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_deleted=?, deleted_at=?, updated_at=? WHERE id=? AND token_hash=?")).
		WithArgs(true, at, at, "id-1", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Revoke(context.Background(), entry))
	assert.False(t, entry.IsActive())
	require.NotNil(t, entry.DeletedAt)
	assert.Equal(t, at, *entry.DeletedAt)
	assert.Equal(t, at, entry.UpdatedAt)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_deleted=?")).
		WithArgs(false, nil, at, "id-1", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Restore(context.Background(), entry))
	assert.True(t, entry.IsActive())
	assert.Nil(t, entry.DeletedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_UpsertForUser_PinnedClock(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	repo.Now = func() time.Time { return at }
	exp := at.Add(720 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WithArgs(sqlmock.AnyArg(), uint64(5), "hash-1", exp, at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertForUser(context.Background(), 5, "hash-1", exp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_Revoke_SlotRotated(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)
	entry := &model.RefreshToken{ID: "id-1", TokenHash: "stale-hash"}

	// The row now holds another hash, so the guarded update matches nothing.
	mock.ExpectExec(regexp.QuoteMeta("WHERE id=? AND token_hash=?")).
		WithArgs(true, sqlmock.AnyArg(), sqlmock.AnyArg(), "id-1", "stale-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), entry)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, entry.IsActive(), "entry is untouched when nothing was written")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_Revoke_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens")).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Revoke(context.Background(), &model.RefreshToken{ID: "nope"}), ErrNotFound)
}
