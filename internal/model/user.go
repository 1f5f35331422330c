package model

import (
    "database/sql/driver"
    "fmt"
    "time"
)

// Role is the closed set of account roles.  Values outside the set are
// rejected when read from or written to the `users.role` column.
type Role string

const (
    RoleAdmin    Role = "admin"
    RoleOperator Role = "operator"
    RoleUser     Role = "user"
)

// ParseRole converts a stored or user-supplied string into a Role.
func ParseRole(s string) (Role, error) {
    switch r := Role(s); r {
    case RoleAdmin, RoleOperator, RoleUser:
        return r, nil
    }
    return "", fmt.Errorf("unknown role %q", s)
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
    var s string
    switch v := src.(type) {
    case string:
        s = v
    case []byte:
        s = string(v)
    default:
        return fmt.Errorf("role: unsupported column type %T", src)
    }
    parsed, err := ParseRole(s)
    if err != nil {
        return err
    }
    *r = parsed
    return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
    if _, err := ParseRole(string(r)); err != nil {
        return nil, err
    }
    return string(r), nil
}

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. Handlers define their own response types so that
// PasswordHash never leaves the service.
//
// Fields:
//  ID           – primary key identifier of the user, immutable once assigned.
//  Username     – unique login name.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – admin, operator or user.
//  IsActive     – inactive accounts cannot authenticate.
//  IsApproved   – flipped by an administrator; unapproved accounts cannot log in.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           uint64    `db:"id"`
    Username     string    `db:"username"`
    Email        string    `db:"email"`
    PasswordHash string    `db:"password_hash"`
    Role         Role      `db:"role"`
    IsActive     bool      `db:"is_active"`
    IsApproved   bool      `db:"is_approved"`
    CreatedAt    time.Time `db:"created_at"`
    UpdatedAt    time.Time `db:"updated_at"`
}

// TokenState is the derived lifecycle state of a refresh token.  Only
// Revoked is stored; Expired is computed from ExpiresAt at check time.
type TokenState string

const (
    TokenActive  TokenState = "active"
    TokenRevoked TokenState = "revoked"
    TokenExpired TokenState = "expired"
)

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user (UserID is a lookup key, not a
// handle) and is never deleted: revocation flips IsRevoked, once.
//
// Fields:
//  ID        – primary key identifier.
//  Token     – the opaque token string handed to the client.
//  UserID    – owner of the token.
//  ExpiresAt – absolute expiration timestamp.
//  IsRevoked – set by rotation or logout, never cleared.
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
    ID        uint64    `db:"id"`
    Token     string    `db:"token"`
    UserID    uint64    `db:"user_id"`
    ExpiresAt time.Time `db:"expires_at"`
    IsRevoked bool      `db:"is_revoked"`
    CreatedAt time.Time `db:"created_at"`
}

// State reports the token's state at now.  Revocation wins over expiry.
func (t RefreshToken) State(now time.Time) TokenState {
    switch {
    case t.IsRevoked:
        return TokenRevoked
    case !t.ExpiresAt.After(now):
        return TokenExpired
    default:
        return TokenActive
    }
}

// Usable is true iff the token is neither revoked nor past its expiry.
func (t RefreshToken) Usable(now time.Time) bool { return t.State(now) == TokenActive }
