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

const userColumns = "id, username, email, password_hash, role, is_active, is_approved, created_at, updated_at"

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u and fills in its ID and timestamps.  Unique-key
// collisions come back as ErrDuplicateUsername or ErrDuplicateEmail.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, is_active, is_approved, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)",
		u.Username, u.Email, u.PasswordHash, u.Role, u.IsActive, u.IsApproved, now, now)
	if err != nil {
		return mapUserConflict(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

// GetByUsername fetches a user by exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", username)
}

// GetByEmail fetches a user by exact email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

func (r *UserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM users WHERE username=? LIMIT 1", username)
}

func (r *UserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM users WHERE email=? LIMIT 1", email)
}

// SetApproved flips the approval flag.  Only administrative tooling calls it.
func (r *UserRepo) SetApproved(ctx context.Context, id uint64, approved bool) error {
	return r.setFlag(ctx, "UPDATE users SET is_approved=?, updated_at=? WHERE id=?", id, approved)
}

// SetActive flips the active flag without touching refresh tokens.  Use
// Deactivate to block a user.
func (r *UserRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	return r.setFlag(ctx, "UPDATE users SET is_active=?, updated_at=? WHERE id=?", id, active)
}

// Deactivate clears the active flag of user id and revokes all of its
// refresh tokens in one transaction, so a failure leaves both untouched.  It
// returns how many tokens were revoked.
func (r *UserRepo) Deactivate(ctx context.Context, id uint64) (int64, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if r.DB.DriverName() == "mysql" {
		lock = " FOR UPDATE"
	}
	var locked uint64
	err = tx.GetContext(ctx, &locked, "SELECT id FROM users WHERE id=?"+lock, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("deactivate user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET is_active=?, updated_at=? WHERE id=?", false, time.Now().UTC(), id); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=? WHERE user_id=? AND is_revoked=?", true, id, false)
	if err != nil {
		return 0, err
	}
	revoked, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return revoked, nil
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func (r *UserRepo) exists(ctx context.Context, query string, arg any) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *UserRepo) setFlag(ctx context.Context, query string, id uint64, v bool) error {
	res, err := r.DB.ExecContext(ctx, query, v, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	// Existence is checked separately: MySQL reports 0 affected rows when the
	// flag already had the requested value.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
