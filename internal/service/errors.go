package service

import (
	"errors"
	"fmt"
)

// Business errors returned by AuthService.  Anything else coming out of the
// service is a storage or internal failure.
var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already exists")

	// ErrInvalidCredentials covers unknown user, wrong password and inactive
	// account alike, so callers cannot enumerate usernames.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	// ErrPendingApproval is only returned after the credentials were accepted.
	ErrPendingApproval = errors.New("user account is not approved yet")

	// ErrTokenInvalid is the single outward signal for an unusable refresh
	// token.  The wrapped variants below tell the reasons apart.
	ErrTokenInvalid         = errors.New("invalid or expired refresh token")
	ErrRefreshTokenNotFound = fmt.Errorf("%w: not found", ErrTokenInvalid)
	ErrRefreshTokenRevoked  = fmt.Errorf("%w: revoked", ErrTokenInvalid)
	ErrRefreshTokenExpired  = fmt.Errorf("%w: expired", ErrTokenInvalid)

	// ErrNotFound is returned by Logout when no ledger row matches.
	ErrNotFound = errors.New("refresh token not found")
)
