package admission

import (
	"fmt"
	"time"

	"github.com/spec-kit/gatekeeper/internal/domain"
)

// Class is the trust tier used to pick an admission policy.
type Class string

const (
	ClassGuest Class = "guest"
	ClassUser  Class = "user"
	ClassAdmin Class = "admin"
)

// Classes lists every class in a stable order.
var Classes = []Class{ClassGuest, ClassUser, ClassAdmin}

// ClassForRole maps an authenticated role to its class. Unknown roles fall back to guest.
func ClassForRole(role domain.Role) Class {
	switch role {
	case domain.RoleAdmin:
		return ClassAdmin
	case domain.RoleUser:
		return ClassUser
	default:
		return ClassGuest
	}
}

// Policy sets the window size and the per-class capacity.
type Policy struct {
	Window time.Duration
	Limits map[Class]int
}

// DefaultPolicy returns 5/10/20 admissions per rolling minute for guest/user/admin.
func DefaultPolicy() Policy {
	return Policy{
		Window: time.Minute,
		Limits: map[Class]int{
			ClassGuest: 5,
			ClassUser:  10,
			ClassAdmin: 20,
		},
	}
}

// Validate checks that every class has a positive limit and the window is positive.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("admission: window must be positive, got %s", p.Window)
	}
	for _, class := range Classes {
		if p.Limits[class] <= 0 {
			return fmt.Errorf("admission: limit for class %q must be positive", class)
		}
	}
	return nil
}
