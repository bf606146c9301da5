package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

// RequireAdmin allows the request through only for admin principals.
// It must run after Protect.
func RequireAdmin(guard Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromFiber(c)
		if !ok {
			return apperrors.NewUnauthorized("Authentication required")
		}
		if err := guard.RequireAdmin(principal.Actor()).Err(); err != nil {
			return err
		}
		return c.Next()
	}
}
