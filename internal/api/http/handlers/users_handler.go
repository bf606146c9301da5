package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/gatekeeper/internal/api/dto"
	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/service"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

// UsersHandler exposes user management endpoints. Every route runs behind Protect.
type UsersHandler struct {
	users *service.UsersService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UsersService) *UsersHandler {
	return &UsersHandler{users: users}
}

// List handles GET /api/users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "Successfully retrieved users",
		"data":    users,
		"count":   len(users),
	})
}

// Me handles GET /api/users/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	user, err := h.users.Get(c.UserContext(), principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": user})
}

// Get handles GET /api/users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	user, err := h.users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "User retrieved successfully",
		"data":    user,
	})
}

// Update handles PUT /api/users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}

	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	changes, err := req.Validate()
	if err != nil {
		return err
	}

	user, err := h.users.Update(c.UserContext(), principal.Actor(), c.Params("id"), service.UserChanges(changes))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "User updated successfully",
		"data":    user,
	})
}

// Delete handles DELETE /api/users/:id.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}

	user, err := h.users.Delete(c.UserContext(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "User deleted successfully",
		"data":    user,
	})
}

func principalOf(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromFiber(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("Authentication required")
	}
	return principal, nil
}
