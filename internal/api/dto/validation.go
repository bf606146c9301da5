package dto

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/gatekeeper/internal/domain"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

const (
	nameMin     = 2
	nameMax     = 100
	emailMax    = 255
	passwordMin = 6
	passwordMax = 100
)

// fieldErrors collects one message per invalid field.
type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	details := make(map[string]any, len(f))
	for k, v := range f {
		details[k] = v
	}
	return apperrors.NewValidationError("Validation failed", details)
}

func checkName(errs fieldErrors, name string) {
	n := utf8.RuneCountInString(name)
	switch {
	case n < nameMin:
		errs["name"] = "must be at least 2 characters"
	case n > nameMax:
		errs["name"] = "must be at most 100 characters"
	}
}

func checkEmail(errs fieldErrors, email string) {
	if email == "" {
		errs["email"] = "is required"
		return
	}
	if len(email) > emailMax {
		errs["email"] = "must be at most 255 characters"
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		errs["email"] = "must be a valid email address"
	}
}

func checkPassword(errs fieldErrors, password string) {
	n := utf8.RuneCountInString(password)
	switch {
	case n < passwordMin:
		errs["password"] = "must be at least 6 characters"
	case n > passwordMax:
		errs["password"] = "must be at most 100 characters"
	}
}

func checkRole(errs fieldErrors, raw string) domain.Role {
	role, err := domain.ParseRole(raw)
	if err != nil {
		errs["role"] = "must be one of user, admin"
	}
	return role
}

// Normalize trims the request and lower-cases the email.
func (r *SignUpRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = domain.NormalizeEmail(r.Email)
	if strings.TrimSpace(r.Role) == "" {
		r.Role = string(domain.RoleUser)
	}
}

// Validate normalizes the request and returns the requested role.
func (r *SignUpRequest) Validate() (domain.Role, error) {
	r.Normalize()
	errs := fieldErrors{}
	checkName(errs, r.Name)
	checkEmail(errs, r.Email)
	checkPassword(errs, r.Password)
	role := checkRole(errs, r.Role)
	return role, errs.err()
}

// Validate normalizes the request.
func (r *SignInRequest) Validate() error {
	r.Email = domain.NormalizeEmail(r.Email)
	errs := fieldErrors{}
	checkEmail(errs, r.Email)
	if r.Password == "" {
		errs["password"] = "is required"
	}
	return errs.err()
}

// UserChanges is the validated form of UpdateUserRequest.
type UserChanges struct {
	Name     *string
	Email    *string
	Password *string
	Role     *domain.Role
}

// Validate requires at least one field and checks each present field.
func (r *UpdateUserRequest) Validate() (UserChanges, error) {
	if r.Name == nil && r.Email == nil && r.Password == nil && r.Role == nil {
		return UserChanges{}, apperrors.NewValidationError("At least one field must be provided for update", nil)
	}

	errs := fieldErrors{}
	var out UserChanges
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		checkName(errs, name)
		out.Name = &name
	}
	if r.Email != nil {
		email := domain.NormalizeEmail(*r.Email)
		checkEmail(errs, email)
		out.Email = &email
	}
	if r.Password != nil {
		checkPassword(errs, *r.Password)
		out.Password = r.Password
	}
	if r.Role != nil {
		role := checkRole(errs, *r.Role)
		out.Role = &role
	}
	if err := errs.err(); err != nil {
		return UserChanges{}, err
	}
	return out, nil
}
