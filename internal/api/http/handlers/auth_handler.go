package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/gatekeeper/internal/api/dto"
	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/domain"
	"github.com/spec-kit/gatekeeper/internal/service"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

// AuthHandler exposes sign-up, sign-in and sign-out.
type AuthHandler struct {
	identity         *service.IdentityService
	gatekeeper       *auth.Gatekeeper
	guard            auth.Guard
	allowAdminSignup bool
}

// NewAuthHandler constructs handler.
func NewAuthHandler(identity *service.IdentityService, gatekeeper *auth.Gatekeeper, guard auth.Guard, allowAdminSignup bool) *AuthHandler {
	return &AuthHandler{
		identity:         identity,
		gatekeeper:       gatekeeper,
		guard:            guard,
		allowAdminSignup: allowAdminSignup,
	}
}

// SignUp handles POST /api/auth/sign-up.
func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req dto.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	role, err := req.Validate()
	if err != nil {
		return err
	}
	if role == domain.RoleAdmin && !h.allowAdminSignup {
		if err := h.requireAdminCaller(c); err != nil {
			return err
		}
	}

	session, err := h.identity.SignUp(c.UserContext(), req.Name, req.Email, req.Password, role)
	if err != nil {
		return err
	}

	h.gatekeeper.SetTokenCookie(c, session.Token, session.ExpiresAt)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message": "User registered",
		"data":    sessionResponse(session),
	})
}

// SignIn handles POST /api/auth/sign-in.
func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req dto.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	session, err := h.identity.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	h.gatekeeper.SetTokenCookie(c, session.Token, session.ExpiresAt)
	return c.JSON(fiber.Map{
		"message": "User signed in successfully",
		"data":    sessionResponse(session),
	})
}

// SignOut handles POST /api/auth/sign-out. Tokens are stateless; only the cookie is cleared.
func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	h.gatekeeper.ClearTokenCookie(c)
	return c.JSON(fiber.Map{"message": "User signed out successfully"})
}

func (h *AuthHandler) requireAdminCaller(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromFiber(c)
	if !ok {
		return apperrors.NewForbidden(auth.ReasonAdminRequired)
	}
	return h.guard.RequireAdmin(principal.Actor()).Err()
}

func sessionResponse(s service.Session) dto.SessionResponse {
	return dto.SessionResponse{
		User: s.Identity,
		Auth: dto.AuthResponse{Token: s.Token, ExpiresAt: s.ExpiresAt},
	}
}
