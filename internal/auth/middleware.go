package auth

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/spec-kit/gatekeeper/internal/admission"
	"github.com/spec-kit/gatekeeper/internal/domain"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

const principalKey = "auth_principal"

// Denial messages returned to callers.
const (
	MessageNoToken         = "Access denied. No token provided."
	MessageRateLimited     = "Rate limit exceeded"
	MessageBotSuspected    = "Bot requests are not allowed"
	MessageShieldTriggered = "Shield requests are not allowed"
)

// Principal represents the authenticated caller.
type Principal struct {
	ID        string
	Email     string
	Role      domain.Role
	ExpiresAt time.Time
}

// Actor returns the authorization view of the principal.
func (p *Principal) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role}
}

func principalFromClaims(claims *Claims) *Principal {
	p := &Principal{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}

type principalCtxKey struct{}

// ContextWithPrincipal stores the principal on a context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the principal stored by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok && p != nil
}

// PrincipalFromFiber retrieves the authenticated entity from fiber locals.
func PrincipalFromFiber(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// Admitter decides whether a request of a given class may proceed.
type Admitter interface {
	AdmitRequest(ctx context.Context, class admission.Class, in admission.Inbound) (admission.Decision, error)
}

// Gatekeeper verifies credentials and applies admission before any handler runs.
type Gatekeeper struct {
	tokens       *TokenManager
	admitter     Admitter
	logger       *zap.Logger
	cookieName   string
	secureCookie bool
	trustXFF     bool
}

// GatekeeperOption customises a Gatekeeper.
type GatekeeperOption func(*Gatekeeper)

// WithCookieName sets the cookie that carries the token.
func WithCookieName(name string) GatekeeperOption {
	return func(g *Gatekeeper) {
		if name = strings.TrimSpace(name); name != "" {
			g.cookieName = name
		}
	}
}

// WithSecureCookie marks written cookies as Secure.
func WithSecureCookie(secure bool) GatekeeperOption {
	return func(g *Gatekeeper) { g.secureCookie = secure }
}

// WithTrustForwardedFor takes the client IP from X-Forwarded-For.
func WithTrustForwardedFor(trust bool) GatekeeperOption {
	return func(g *Gatekeeper) { g.trustXFF = trust }
}

// WithGatekeeperLogger sets the logger.
func WithGatekeeperLogger(l *zap.Logger) GatekeeperOption {
	return func(g *Gatekeeper) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGatekeeper constructs the pipeline.
func NewGatekeeper(tokens *TokenManager, admitter Admitter, opts ...GatekeeperOption) *Gatekeeper {
	g := &Gatekeeper{
		tokens:     tokens,
		admitter:   admitter,
		logger:     zap.NewNop(),
		cookieName: "token",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Protect requires a valid token, then admits the caller under its role's class.
func (g *Gatekeeper) Protect() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := g.extractToken(c)
		if !ok {
			return apperrors.NewUnauthorized(MessageNoToken)
		}

		claims, err := g.tokens.Verify(raw)
		if err != nil {
			g.logger.Debug("token rejected", zap.Error(err), zap.String("path", c.Path()))
			return apperrors.NewInvalidToken(err)
		}

		principal := principalFromClaims(claims)
		if err := g.admit(c, admission.ClassForRole(principal.Role)); err != nil {
			return err
		}

		g.attach(c, principal)
		return c.Next()
	}
}

// Admit admits public routes. A missing or invalid token makes the caller a guest.
func (g *Gatekeeper) Admit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		class := admission.ClassGuest
		var principal *Principal

		if raw, ok := g.extractToken(c); ok {
			if claims, err := g.tokens.Verify(raw); err == nil {
				principal = principalFromClaims(claims)
				class = admission.ClassForRole(principal.Role)
			}
		}

		if err := g.admit(c, class); err != nil {
			return err
		}
		if principal != nil {
			g.attach(c, principal)
		}
		return c.Next()
	}
}

func (g *Gatekeeper) admit(c *fiber.Ctx, class admission.Class) error {
	if g.admitter == nil {
		return nil
	}

	dec, err := g.admitter.AdmitRequest(c.UserContext(), class, g.inbound(c))
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if dec.Allowed {
		if dec.Limit > 0 {
			c.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		}
		return nil
	}

	switch dec.Reason {
	case admission.ReasonBotSuspected:
		return apperrors.NewAdmissionDenied(apperrors.CodeBotSuspected, MessageBotSuspected, nil)
	case admission.ReasonShieldTriggered:
		return apperrors.NewAdmissionDenied(apperrors.CodeShieldTriggered, MessageShieldTriggered, nil)
	default:
		retry := retryAfterSeconds(dec.RetryAfter)
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
		return apperrors.NewAdmissionDenied(apperrors.CodeRateLimited, MessageRateLimited, map[string]any{
			"class":       string(dec.Class),
			"limit":       dec.Limit,
			"retry_after": retry,
		})
	}
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func (g *Gatekeeper) attach(c *fiber.Ctx, p *Principal) {
	c.Locals(principalKey, p)
	c.SetUserContext(ContextWithPrincipal(c.UserContext(), p))
}

// extractToken prefers the cookie, then an Authorization Bearer header.
func (g *Gatekeeper) extractToken(c *fiber.Ctx) (string, bool) {
	if token := strings.TrimSpace(c.Cookies(g.cookieName)); token != "" {
		return token, true
	}

	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (g *Gatekeeper) inbound(c *fiber.Ctx) admission.Inbound {
	return admission.Inbound{
		IP:        g.clientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Method:    c.Method(),
		Path:      c.Path(),
		Query:     string(c.Request().URI().QueryString()),
	}
}

func (g *Gatekeeper) clientIP(c *fiber.Ctx) string {
	if g.trustXFF {
		// c.IPs aliases the request buffer; the inspector keeps the key.
		if ips := c.IPs(); len(ips) > 0 && ips[0] != "" {
			return utils.CopyString(ips[0])
		}
	}
	return c.IP()
}

// SetTokenCookie writes the token back to the client.
func (g *Gatekeeper) SetTokenCookie(c *fiber.Ctx, token string, expiresAt time.Time) {
	maxAge := 0
	if g.tokens != nil {
		maxAge = int(g.tokens.TTL().Seconds())
	}
	c.Cookie(&fiber.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   g.secureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// ClearTokenCookie expires the token cookie.
func (g *Gatekeeper) ClearTokenCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   g.secureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}
