package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRole = errors.New("invalid role")

// Role classifies which dashboard area an identity may use.
type Role string

const (
	RoleUser       Role = "user" // business owner
	RoleAssist     Role = "assist"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole accepts only the closed role set.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(strings.ToLower(s))); r {
	case RoleUser, RoleAssist, RoleSuperAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidRole, s)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string { return string(r) }
