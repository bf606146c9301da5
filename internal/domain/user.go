package domain

import (
	"strings"
	"time"
)

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User is the stored record for an account, including its password digest.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the public view of the user with the secret stripped.
func (u *User) Identity() Identity {
	return Identity{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Identity is the canonical caller identity handed out by the access layer.
type Identity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserUpdate lists the mutable fields of a user. Nil fields are left untouched.
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Role         *Role
}

// ChangesRole reports whether the update touches the role field.
func (u UserUpdate) ChangesRole() bool {
	return u.Role != nil
}

// Empty reports whether no field is set.
func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.PasswordHash == nil && u.Role == nil
}

// Fields returns the names of the fields the update sets, for logging.
func (u UserUpdate) Fields() []string {
	var fields []string
	if u.Name != nil {
		fields = append(fields, "name")
	}
	if u.Email != nil {
		fields = append(fields, "email")
	}
	if u.PasswordHash != nil {
		fields = append(fields, "password")
	}
	if u.Role != nil {
		fields = append(fields, "role")
	}
	return fields
}
