package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/model"
)

type ledgerFixture struct {
	users  *UserRepo
	tokens *TokenRepo
}

func newLedgerFixture(t *testing.T) ledgerFixture {
	db := database.NewTestDB(t)
	return ledgerFixture{users: NewUserRepo(db), tokens: NewTokenRepo(db)}
}

func (f ledgerFixture) user(t *testing.T, name string) uint64 {
	u := newUser(name, name+"@x.com")
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func activeTokens(t *testing.T, repo *TokenRepo, userID uint64) []model.RefreshToken {
	rows, err := repo.ListForUser(context.Background(), userID)
	require.NoError(t, err)
	var out []model.RefreshToken
	for _, r := range rows {
		if !r.IsRevoked {
			out = append(out, r)
		}
	}
	return out
}

func TestIssueAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")
	exp := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	revoked, err := f.tokens.Issue(ctx, uid, "tok-1", exp)
	require.NoError(t, err)
	assert.Zero(t, revoked)

	rec, err := f.tokens.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, uid, rec.UserID)
	assert.Equal(t, "tok-1", rec.Token)
	assert.False(t, rec.IsRevoked)
	assert.True(t, rec.ExpiresAt.Equal(exp))
	assert.True(t, f.tokens.IsUsable(rec))

	_, err = f.tokens.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueRevokesPreviousTokens(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")
	other := f.user(t, "bob")
	exp := time.Now().UTC().Add(time.Hour)

	_, err := f.tokens.Issue(ctx, other, "bob-1", exp)
	require.NoError(t, err)

	const n = 5
	for i := 1; i <= n; i++ {
		revoked, err := f.tokens.Issue(ctx, uid, fmt.Sprintf("tok-%d", i), exp)
		require.NoError(t, err)
		if i == 1 {
			assert.Zero(t, revoked)
		} else {
			assert.EqualValues(t, 1, revoked)
		}
	}

	rows, err := f.tokens.ListForUser(ctx, uid)
	require.NoError(t, err)
	require.Len(t, rows, n)
	for _, r := range rows[:n-1] {
		assert.True(t, r.IsRevoked, "token %s should be revoked", r.Token)
	}
	active := activeTokens(t, f.tokens, uid)
	require.Len(t, active, 1)
	assert.Equal(t, fmt.Sprintf("tok-%d", n), active[0].Token)

	// Other users are untouched.
	assert.Len(t, activeTokens(t, f.tokens, other), 1)
}

func TestIssueConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")
	exp := time.Now().UTC().Add(time.Hour)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.tokens.Issue(ctx, uid, fmt.Sprintf("tok-%d", i), exp)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := f.tokens.ListForUser(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, rows, n)
	active := activeTokens(t, f.tokens, uid)
	require.Len(t, active, 1)
	// The survivor is the last committed insert.
	assert.Equal(t, rows[len(rows)-1].Token, active[0].Token)
}

func TestIssueUnknownUser(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.tokens.Issue(context.Background(), 777, "tok", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.tokens.Lookup(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueDuplicateTokenRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	exp := time.Now().UTC().Add(time.Hour)

	_, err := f.tokens.Issue(ctx, alice, "shared", exp)
	require.NoError(t, err)
	_, err = f.tokens.Issue(ctx, bob, "bob-1", exp)
	require.NoError(t, err)

	_, err = f.tokens.Issue(ctx, bob, "shared", exp)
	assert.ErrorIs(t, err, ErrDuplicateToken)

	// The revoke step of the failed issuance must not have committed.
	active := activeTokens(t, f.tokens, bob)
	require.Len(t, active, 1)
	assert.Equal(t, "bob-1", active[0].Token)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")

	_, err := f.tokens.Issue(ctx, uid, "tok", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	ok, err := f.tokens.Revoke(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := f.tokens.Lookup(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, rec.IsRevoked)
	assert.False(t, f.tokens.IsUsable(rec))

	// Revoking again still finds the row.
	ok, err = f.tokens.Revoke(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.tokens.Revoke(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredTokenIsNotUsable(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")

	_, err := f.tokens.Issue(ctx, uid, "old", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	rec, err := f.tokens.Lookup(ctx, "old")
	require.NoError(t, err)
	assert.False(t, rec.IsRevoked)
	assert.False(t, f.tokens.IsUsable(rec))

	// An expired token can still be revoked.
	ok, err := f.tokens.Revoke(ctx, "old")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeactivateRevokesTokens(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")
	_, err := f.tokens.Issue(ctx, uid, "tok-1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	n, err := f.users.Deactivate(ctx, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, activeTokens(t, f.tokens, uid))
	u, err := f.users.GetByID(ctx, uid)
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	n, err = f.users.Deactivate(ctx, uid)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.users.Deactivate(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	uid := f.user(t, "alice")

	_, err := f.users.DB.ExecContext(ctx, "DROP TABLE refresh_tokens")
	require.NoError(t, err)

	_, err = f.users.Deactivate(ctx, uid)
	require.Error(t, err)

	u, err := f.users.GetByID(ctx, uid)
	require.NoError(t, err)
	assert.True(t, u.IsActive, "user stays active when token revocation fails")
}
