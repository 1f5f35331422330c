package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/auth-service/internal/model"
)

const tokenColumns = "id, token, user_id, expires_at, is_revoked, created_at"

// TokenRepo is the refresh token ledger.  It is the only writer of the
// refresh_tokens table and the source of truth for revocation.
type TokenRepo struct {
	DB  *sqlx.DB
	now func() time.Time
}

func NewTokenRepo(db *sqlx.DB) *TokenRepo {
	return &TokenRepo{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

// forUpdate is the row-lock suffix for the connection's dialect.  SQLite has
// no row locks; its transactions begin IMMEDIATE and hold the write lock.
func (r *TokenRepo) forUpdate() string {
	if r.DB.DriverName() == "mysql" {
		return " FOR UPDATE"
	}
	return ""
}

// Issue records token as the single active refresh token of userID.  In one
// transaction it locks the owning users row, revokes every non-revoked token
// of that user and inserts the new one.  Concurrent issuances for the same
// user queue on the row lock, so at most one token is active once any
// issuance commits.  It returns how many tokens were revoked.
func (r *TokenRepo) Issue(ctx context.Context, userID uint64, token string, expiresAt time.Time) (int64, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked uint64
	err = tx.GetContext(ctx, &locked, "SELECT id FROM users WHERE id=?"+r.forUpdate(), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("issue refresh token for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=? WHERE user_id=? AND is_revoked=?",
		true, userID, false)
	if err != nil {
		return 0, err
	}
	revoked, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token, user_id, expires_at, is_revoked, created_at) VALUES (?,?,?,?,?)",
		token, userID, expiresAt.UTC(), false, r.now()); err != nil {
		if _, dup := uniqueViolation(err); dup {
			return 0, ErrDuplicateToken
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return revoked, nil
}

// Lookup returns the ledger row for an exact token string.
func (r *TokenRepo) Lookup(ctx context.Context, token string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.GetContext(ctx, &t, "SELECT "+tokenColumns+" FROM refresh_tokens WHERE token=? LIMIT 1", token)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, ErrNotFound
	}
	return t, err
}

// IsUsable is true iff the record is not revoked and not yet expired.
func (r *TokenRepo) IsUsable(t model.RefreshToken) bool { return t.Usable(r.now()) }

// Revoke marks token revoked.  It returns false when no such token exists;
// an already revoked or expired token is still reported as revoked.
func (r *TokenRepo) Revoke(ctx context.Context, token string) (bool, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var id uint64
	err = tx.GetContext(ctx, &id, "SELECT id FROM refresh_tokens WHERE token=?"+r.forUpdate(), token)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE refresh_tokens SET is_revoked=? WHERE id=?", true, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListForUser returns every ledger row of a user, oldest first.
func (r *TokenRepo) ListForUser(ctx context.Context, userID uint64) ([]model.RefreshToken, error) {
	var out []model.RefreshToken
	err := r.DB.SelectContext(ctx, &out,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE user_id=? ORDER BY id", userID)
	return out, err
}
