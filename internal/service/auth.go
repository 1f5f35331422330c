// Package service implements the auth use cases: registration,
// authentication, token pair issuance, access token refresh and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/auth-service/internal/lock"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// UserStore is the identity storage the service reads and creates users in.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// TokenLedger persists refresh tokens and their revocation state.
type TokenLedger interface {
	Issue(ctx context.Context, userID uint64, token string, expiresAt time.Time) (int64, error)
	Lookup(ctx context.Context, token string) (model.RefreshToken, error)
	Revoke(ctx context.Context, token string) (bool, error)
}

// PasswordHasher is the credential store.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// EventPublisher receives auth events after they commit.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// TokenPair is what a successful login returns.
type TokenPair struct {
	Access  utils.Token
	Refresh utils.Token
}

// AuthService holds no per-request state; every decision re-reads the store.
type AuthService struct {
	users      UserStore
	tokens     TokenLedger
	hasher     PasswordHasher
	codec      *utils.TokenCodec
	accessTTL  time.Duration
	refreshTTL time.Duration

	locker    lock.Locker
	events    EventPublisher
	log       *log.Logger
	now       func() time.Time
	dummyHash string
}

type Option func(*AuthService)

// WithLocker adds an outer per-user lock around refresh token issuance.
func WithLocker(l lock.Locker) Option { return func(s *AuthService) { s.locker = l } }

// WithPublisher enables auth event publishing.
func WithPublisher(p EventPublisher) Option { return func(s *AuthService) { s.events = p } }

func WithLogger(l *log.Logger) Option { return func(s *AuthService) { s.log = l } }

// WithClock replaces the time source of the service and its codec.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

func NewAuthService(users UserStore, tokens TokenLedger, hasher PasswordHasher, codec *utils.TokenCodec,
	accessTTL, refreshTTL time.Duration, opts ...Option) (*AuthService, error) {
	s := &AuthService{
		users:      users,
		tokens:     tokens,
		hasher:     hasher,
		codec:      codec,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		locker:     lock.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.New("auth")
		s.log.SetLevel(log.OFF)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	} else {
		s.codec = s.codec.WithClock(s.now)
	}
	// Compared against when the username is unknown so that the response
	// time does not reveal whether the account exists.
	dummy, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, fmt.Errorf("init dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Register creates an active, unapproved user with role "user".  The
// username check runs before the email check.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (model.User, error) {
	taken, err := s.users.UsernameExists(ctx, username)
	if err != nil {
		return model.User{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return model.User{}, ErrDuplicateUsername
	}
	taken, err = s.users.EmailExists(ctx, email)
	if err != nil {
		return model.User{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return model.User{}, ErrDuplicateEmail
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
		IsApproved:   false,
	}
	// A concurrent registration can still win between the checks and the
	// insert; the unique keys catch it.
	if err := s.users.Create(ctx, &u); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			return model.User{}, ErrDuplicateUsername
		case errors.Is(err, repository.ErrDuplicateEmail):
			return model.User{}, ErrDuplicateEmail
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Infoj(log.JSON{"event": queue.EventUserRegistered, "user_id": u.ID})
	s.emit(ctx, queue.AuthEvent{Type: queue.EventUserRegistered, UserID: u.ID, Username: u.Username})
	return u, nil
}

// Authenticate returns the user when it exists, the password matches and
// the account is active.  Approval is not checked here.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (model.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.Verify(s.dummyHash, password)
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return model.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Login authenticates and, for approved users, issues a token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (TokenPair, model.User, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.log.Warnj(log.JSON{"event": "login.rejected", "reason": "credentials"})
		}
		return TokenPair{}, model.User{}, err
	}
	if !u.IsApproved {
		s.log.Warnj(log.JSON{"event": "login.rejected", "reason": "pending_approval", "user_id": u.ID})
		return TokenPair{}, model.User{}, ErrPendingApproval
	}
	pair, err := s.IssueTokenPair(ctx, u)
	if err != nil {
		return TokenPair{}, model.User{}, err
	}
	return pair, u, nil
}

// IssueTokenPair mints an access token and a refresh token for u and
// records the refresh token as u's only active one.
func (s *AuthService) IssueTokenPair(ctx context.Context, u model.User) (TokenPair, error) {
	sub := strconv.FormatUint(u.ID, 10)
	access, err := s.codec.Mint(sub, utils.KindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := s.codec.Mint(sub, utils.KindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	unlock, err := s.locker.Lock(ctx, "issue:"+sub)
	switch {
	case err == nil:
		defer unlock()
	case ctx.Err() != nil:
		return TokenPair{}, fmt.Errorf("issuance lock: %w", ctx.Err())
	default:
		// The ledger's row lock still serializes issuance.
		s.log.Warnf("issuance lock unavailable, relying on row lock: %v", err)
	}

	revoked, err := s.tokens.Issue(ctx, u.ID, refresh.Token, refresh.Exp)
	if err != nil {
		s.log.Errorf("issue refresh token for user %d: %v", u.ID, err)
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	fp := utils.Fingerprint(refresh.Token)
	s.log.Infoj(log.JSON{"event": queue.EventSessionIssued, "user_id": u.ID, "token": fp, "revoked": revoked})
	s.emit(ctx, queue.AuthEvent{Type: queue.EventSessionIssued, UserID: u.ID, TokenID: fp, RevokedCount: revoked})
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token.
// Validity is decided by the ledger alone: the refresh token string is
// matched exactly and its signature is not re-verified.  The refresh token
// itself is not rotated.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (utils.Token, error) {
	if refreshToken == "" {
		return utils.Token{}, ErrRefreshTokenNotFound
	}
	rec, err := s.tokens.Lookup(ctx, refreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		return utils.Token{}, ErrRefreshTokenNotFound
	}
	if err != nil {
		return utils.Token{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	switch rec.State(s.now()) {
	case model.TokenRevoked:
		s.log.Warnj(log.JSON{"event": "refresh.rejected", "reason": "revoked", "user_id": rec.UserID})
		return utils.Token{}, ErrRefreshTokenRevoked
	case model.TokenExpired:
		s.log.Warnj(log.JSON{"event": "refresh.rejected", "reason": "expired", "user_id": rec.UserID})
		return utils.Token{}, ErrRefreshTokenExpired
	}

	access, err := s.codec.Mint(strconv.FormatUint(rec.UserID, 10), utils.KindAccess, s.accessTTL)
	if err != nil {
		return utils.Token{}, fmt.Errorf("mint access token: %w", err)
	}
	return access, nil
}

// Logout revokes the refresh token whatever its current state.  It returns
// ErrNotFound only when the ledger has no such token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrNotFound
	}
	rec, err := s.tokens.Lookup(ctx, refreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	ok, err := s.tokens.Revoke(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	fp := utils.Fingerprint(refreshToken)
	s.log.Infoj(log.JSON{"event": queue.EventSessionRevoked, "user_id": rec.UserID, "token": fp})
	s.emit(ctx, queue.AuthEvent{Type: queue.EventSessionRevoked, UserID: rec.UserID, TokenID: fp})
	return nil
}

// CurrentUser loads the user an access token was issued to.  Accounts that
// were removed or deactivated since are reported as ErrInvalidCredentials.
func (s *AuthService) CurrentUser(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// VerifyAccessToken checks an access token and returns the user id it
// was issued to.
func (s *AuthService) VerifyAccessToken(token string) (uint64, error) {
	v, err := s.codec.Verify(token)
	if err != nil {
		return 0, err
	}
	if v.Kind != utils.KindAccess {
		return 0, fmt.Errorf("%w: not an access token", utils.ErrTokenMalformed)
	}
	id, err := strconv.ParseUint(v.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject %q", utils.ErrTokenMalformed, v.Subject)
	}
	return id, nil
}

// emit hands ev to the publisher.  The request's cancellation is not
// passed on so that a finished request still records its event.  Failures
// are only logged.
func (s *AuthService) emit(ctx context.Context, ev queue.AuthEvent) {
	if s.events == nil {
		return
	}
	ev.OccurredAt = s.now().Format(time.RFC3339)
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warnf("publish %s event: %v", ev.Type, err)
	}
}
