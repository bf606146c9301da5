package dto

import (
	"time"

	"github.com/spec-kit/gatekeeper/internal/domain"
)

// SignUpRequest payload for new users. Role defaults to user.
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// SignInRequest payload for login.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserRequest payload for profile changes. Absent fields are left untouched.
type UpdateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionResponse is returned by sign-up and sign-in.
type SessionResponse struct {
	User domain.Identity `json:"user"`
	Auth AuthResponse    `json:"auth"`
}
