package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cms-auth/internal/repository"
)

func TestUserRepo_DuplicateEmail(t *testing.T) {
	r := NewUserRepo()
	ctx := context.Background()

	_, err := r.Create(ctx, "a@x.com", "h1")
	require.NoError(t, err)
	_, err = r.Create(ctx, " A@X.COM", "h2")
	assert.ErrorIs(t, err, repository.ErrEmailExists)
}

func TestTokenRepo_SingleSlotUnderConcurrency(t *testing.T) {
	r := NewTokenRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.UpsertForUser(ctx, 1, string(rune('a'+i%26)), time.Now().Add(time.Hour))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
}

func TestTokenRepo_RevokeRestore(t *testing.T) {
	r := NewTokenRepo()
	ctx := context.Background()
	require.NoError(t, r.UpsertForUser(ctx, 1, "h", time.Now().Add(time.Hour)))

	entry, err := r.FindActiveByToken(ctx, "h")
	require.NoError(t, err)
	require.NoError(t, r.Revoke(ctx, &entry))

	_, err = r.FindActiveByToken(ctx, "h")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = r.FindActiveByUser(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, r.Restore(ctx, &entry))
	_, err = r.FindActiveByToken(ctx, "h")
	assert.NoError(t, err)
}

func TestTokenRepo_UpsertReactivatesRevokedSlot(t *testing.T) {
	r := NewTokenRepo()
	ctx := context.Background()
	require.NoError(t, r.UpsertForUser(ctx, 1, "old", time.Now().Add(time.Hour)))
	entry, err := r.FindActiveByUser(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, r.Revoke(ctx, &entry))

	require.NoError(t, r.UpsertForUser(ctx, 1, "new", time.Now().Add(time.Hour)))

	got, err := r.FindActiveByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", got.TokenHash)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, 1, r.Len())
}

func TestTokenRepo_RevokeStaleEntryLeavesRotatedSlot(t *testing.T) {
	r := NewTokenRepo()
	ctx := context.Background()
	require.NoError(t, r.UpsertForUser(ctx, 1, "first", time.Now().Add(time.Hour)))
	stale, err := r.FindActiveByToken(ctx, "first")
	require.NoError(t, err)

	// Another login rotates the slot after stale was read.
	require.NoError(t, r.UpsertForUser(ctx, 1, "second", time.Now().Add(time.Hour)))

	assert.ErrorIs(t, r.Revoke(ctx, &stale), repository.ErrNotFound)
	assert.True(t, stale.IsActive())

	got, err := r.FindActiveByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", got.TokenHash, "stale hash must not be written back")
	assert.True(t, got.IsActive())
}

func TestTokenRepo_PinnedClock(t *testing.T) {
	r := NewTokenRepo()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	r.Now = func() time.Time { return at }
	ctx := context.Background()

	require.NoError(t, r.UpsertForUser(ctx, 1, "h", at.Add(time.Hour)))
	entry, err := r.FindByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, at, entry.CreatedAt)
	assert.Equal(t, at, entry.UpdatedAt)

	later := at.Add(time.Minute)
	r.Now = func() time.Time { return later }
	require.NoError(t, r.Revoke(ctx, &entry))
	require.NotNil(t, entry.DeletedAt)
	assert.Equal(t, later, *entry.DeletedAt)
	assert.Equal(t, later, entry.UpdatedAt)
}
