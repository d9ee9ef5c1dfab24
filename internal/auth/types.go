package auth

import (
	"errors"
	"fmt"
)

// Role represents an authorisation tier.
type Role string

const (
	// RoleProducer submits commands (the automation driver).
	RoleProducer Role = "producer"

	// RoleConsumer polls for commands and reports their outcome (the
	// browser-side executor).
	RoleConsumer Role = "consumer"

	// RoleViewer has read-only access to the queue and its history.
	RoleViewer Role = "viewer"

	// RoleAdmin has every permission.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleProducer, RoleConsumer, RoleViewer, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !IsValidRole(r) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrMissingKey   = errors.New("signing secret is required")
	ErrForbidden    = errors.New("insufficient permissions")
)
