package utils // package utils provides the password and token primitives used by the auth service

import (
    "crypto/sha256" // fingerprints for log lines
    "encoding/hex"  // hex encoding of fingerprints
    "errors"
    "fmt"
    "time" // time utilities for generating expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
    "github.com/google/uuid"       // unique token ids
)

var (
    // ErrInvalidSignature means the token was not signed with our secret
    // and algorithm.  It is checked before any claim is trusted.
    ErrInvalidSignature = errors.New("token signature is invalid")
    // ErrTokenExpired means the signature is valid but now >= exp.
    ErrTokenExpired = errors.New("token has expired")
    // ErrTokenMalformed covers everything that is not a parseable JWT or
    // lacks the claims we require.  Such a token proves nothing, so it is
    // also an ErrInvalidSignature.
    ErrTokenMalformed = fmt.Errorf("%w: token is malformed", ErrInvalidSignature)
)

// TokenKind separates access tokens from refresh tokens so that one can't
// be presented where the other is expected.
type TokenKind string

const (
    KindAccess  TokenKind = "access"
    KindRefresh TokenKind = "refresh"
)

// Claims is the JWT payload: the standard registered claims plus the kind.
// Subject carries the user id as a decimal string.
type Claims struct {
    Kind TokenKind `json:"typ"`
    jwt.RegisteredClaims
}

// Token is a signed token string and its absolute expiry.
type Token struct {
    Token string
    Exp   time.Time
}

// Verified is what Verify proves about a token: who and until when.
type Verified struct {
    Subject   string
    Kind      TokenKind
    ExpiresAt time.Time
}

// TokenCodec mints and verifies HMAC-signed JWTs.  It is stateless; whether
// a refresh token is still honoured is decided by the token ledger.
type TokenCodec struct {
    secret []byte
    method *jwt.SigningMethodHMAC
    now    func() time.Time
}

// NewTokenCodec builds a codec for the given secret and algorithm
// identifier (HS256, HS384 or HS512).
func NewTokenCodec(secret, alg string) (*TokenCodec, error) {
    if secret == "" {
        return nil, errors.New("jwt secret is empty")
    }
    m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
    if !ok {
        return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
    }
    return &TokenCodec{
        secret: []byte(secret),
        method: m,
        now:    func() time.Time { return time.Now().UTC() },
    }, nil
}

// WithClock returns a copy of the codec reading time from now.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
    cp := *c
    cp.now = now
    return &cp
}

// Algorithm is the JWT "alg" the codec signs with.
func (c *TokenCodec) Algorithm() string { return c.method.Alg() }

// Mint signs a token for subject that expires ttl from now.  Every token
// carries a random jti, so two tokens minted within the same second for the
// same subject are still distinct strings.
func (c *TokenCodec) Mint(subject string, kind TokenKind, ttl time.Duration) (Token, error) {
    if subject == "" {
        return Token{}, errors.New("token subject is empty")
    }
    now := c.now()
    exp := now.Add(ttl)
    claims := Claims{
        Kind: kind,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   subject,
            ExpiresAt: jwt.NewNumericDate(exp),
            IssuedAt:  jwt.NewNumericDate(now),
            ID:        uuid.NewString(),
        },
    }
    signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
    if err != nil {
        return Token{}, err
    }
    return Token{Token: signed, Exp: exp}, nil
}

// Verify checks the signature first and only then the expiry, returning
// ErrInvalidSignature, ErrTokenExpired or ErrTokenMalformed on failure.
// Segments must be canonical base64url: a changed character that only
// flips unused trailing bits is still a different token.
func (c *TokenCodec) Verify(token string) (Verified, error) {
    var claims Claims
    _, err := jwt.ParseWithClaims(token, &claims,
        func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
        jwt.WithValidMethods([]string{c.method.Alg()}),
        jwt.WithStrictDecoding(),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(c.now),
    )
    switch {
    case err == nil:
    case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
        return Verified{}, ErrInvalidSignature
    case errors.Is(err, jwt.ErrTokenExpired):
        return Verified{}, ErrTokenExpired
    default:
        return Verified{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
    }
    if claims.Subject == "" {
        return Verified{}, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
    }
    return Verified{
        Subject:   claims.Subject,
        Kind:      claims.Kind,
        ExpiresAt: claims.ExpiresAt.Time,
    }, nil
}

// Fingerprint returns a short SHA-256 prefix of a token, safe for logs.
func Fingerprint(token string) string {
    sum := sha256.Sum256([]byte(token))
    return hex.EncodeToString(sum[:6])
}
