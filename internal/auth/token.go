package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/gatekeeper/internal/domain"
)

var (
	// ErrTokenInvalid covers malformed tokens and signature or claim mismatches.
	ErrTokenInvalid = errors.New("auth: invalid token")
	// ErrTokenExpired is returned once the current time reaches the token expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrMissingSecret means the codec was built without a signing key.
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
)

const defaultIssuer = "gatekeeper"

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    Clock
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithIssuer overrides the iss claim written and required by the manager.
func WithIssuer(issuer string) TokenOption {
	return func(tm *TokenManager) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			tm.issuer = issuer
		}
	}
}

// WithClock injects the time source used for iat/exp and for verification.
func WithClock(now Clock) TokenOption {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// NewTokenManager builds a new manager. The secret must be non-empty.
func NewTokenManager(secret string, ttl time.Duration, opts ...TokenOption) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	tm := &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// TTL returns the lifetime of issued tokens.
func (tm *TokenManager) TTL() time.Duration { return tm.ttl }

// Claims describes the JWT payload. UserID, Email and Role are required.
type Claims struct {
	UserID string      `json:"id"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issue builds and signs a token for the identity.
func (tm *TokenManager) Issue(identityID, email string, role domain.Role) (string, time.Time, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", time.Time{}, errors.New("auth: identity id is required")
	}
	if !role.Valid() {
		return "", time.Time{}, errors.New("auth: unknown role")
	}

	issuedAt := tm.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(tm.ttl)
	claims := &Claims{
		UserID: identityID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify validates the signature and expiry and returns the claims.
// It only ever fails with ErrTokenInvalid or ErrTokenExpired.
func (tm *TokenManager) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.UserID) == "" || claims.Subject != claims.UserID {
		return errors.New("subject missing or mismatched")
	}
	if !claims.Role.Valid() {
		return errors.New("unknown role")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("expiry precedes issued-at")
	}
	return nil
}
