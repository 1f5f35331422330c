package handler

import (
	"context"  // per-request deadline for storage work
	"errors"   // errors.Is against the service taxonomy
	"net/http" // HTTP status codes
	"regexp"   // username character class
	"strings"  // input normalisation
	"time"     // timestamps in responses

	validation "github.com/go-ozzo/ozzo-validation/v4" // request payload rules
	"github.com/go-ozzo/ozzo-validation/v4/is"          // email format rule
	"github.com/labstack/echo/v4"                       // Echo framework for HTTP routing

	"github.com/iliyamo/auth-service/internal/model"   // user record
	"github.com/iliyamo/auth-service/internal/service" // auth use cases
)

// maxPasswordBytes is the longest password bcrypt accepts.
const maxPasswordBytes = 72

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// refresh tokens are compared byte for byte, so surrounding whitespace is
// rejected rather than stripped.
var refreshTokenPattern = regexp.MustCompile(`^\S+$`)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Svc     *service.AuthService
	Timeout time.Duration
}

func NewAuthHandler(svc *service.AuthService, timeout time.Duration) *AuthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuthHandler{Svc: svc, Timeout: timeout}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r registerReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50),
			validation.Match(usernamePattern).Error("may only contain letters, digits, '_' and '-'")),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 255), is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0),
			validation.By(maxBytes(maxPasswordBytes))),
	)
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (r refreshReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required,
			validation.Match(refreshTokenPattern).Error("must not contain whitespace")),
	)
}

type tokenPairResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type accessResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// userResp is the public view of a user; the password hash never leaves
// the service.
type userResp struct {
	ID         uint64     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Role       model.Role `json:"role"`
	IsActive   bool       `json:"is_active"`
	IsApproved bool       `json:"is_approved"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func newUserResp(u model.User) userResp {
	return userResp{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       u.Role,
		IsActive:   u.IsActive,
		IsApproved: u.IsApproved,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// Register: create an unapproved user.  No tokens are issued until an
// administrator approves the account.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return invalid(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	u, err := h.Svc.Register(ctx, req.Username, req.Email, req.Password)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, newUserResp(u))
	case errors.Is(err, service.ErrDuplicateUsername), errors.Is(err, service.ErrDuplicateEmail):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return h.internal(c, "register", err)
}

// Login: verify credentials and return a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := req.Validate(); err != nil {
		return invalid(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	pair, _, err := h.Svc.Login(ctx, req.Username, req.Password)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, tokenPairResp{
			AccessToken:  pair.Access.Token,
			RefreshToken: pair.Refresh.Token,
			TokenType:    "bearer",
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		return unauthorized(c, "incorrect username or password")
	case errors.Is(err, service.ErrPendingApproval):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "user account is not approved yet, please wait for admin approval"})
	}
	return h.internal(c, "login", err)
}

// Refresh: exchange a refresh token for a new access token.  The refresh
// token is not rotated.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := req.Validate(); err != nil {
		return invalid(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	access, err := h.Svc.RefreshAccessToken(ctx, req.RefreshToken)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, accessResp{AccessToken: access.Token, TokenType: "bearer"})
	case errors.Is(err, service.ErrTokenInvalid):
		// not found, revoked and expired look the same from outside
		return unauthorized(c, "invalid or expired refresh token")
	}
	return h.internal(c, "refresh", err)
}

// Logout: revoke the given refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := req.Validate(); err != nil {
		return invalid(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	err := h.Svc.Logout(ctx, req.RefreshToken)
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid refresh token"})
	}
	return h.internal(c, "logout", err)
}

// Me: the user the bearer access token was issued to.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := c.Get("user_id").(uint64)
	if !ok {
		return unauthorized(c, "unauthorized")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	u, err := h.Svc.CurrentUser(ctx, uid)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, newUserResp(u))
	case errors.Is(err, service.ErrInvalidCredentials):
		return unauthorized(c, "unauthorized")
	}
	return h.internal(c, "me", err)
}

// internal maps storage failures: a blown deadline is 503, anything else 500.
func (h *AuthHandler) internal(c echo.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		c.Logger().Warnf("%s: storage deadline exceeded: %v", op, err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service temporarily unavailable"})
	}
	c.Logger().Errorf("%s failed: %v", op, err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": op + " failed"})
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
}

func invalid(c echo.Context, err error) error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
}

// maxBytes limits the encoded length of a string, which bcrypt cares about,
// rather than its rune count.
func maxBytes(n int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > n {
			return validation.NewError("validation_length_too_long_bytes", "must be no more than {{.max}} bytes").
				SetParams(map[string]interface{}{"max": n})
		}
		return nil
	}
}
