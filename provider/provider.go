// Package provider is the handle to an external identity provider. Its tokens are
// renewed by the provider's own token source, independently of the first-party
// session service.
package provider

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

// Identity is the signed-in external user.
type Identity struct {
	Subject string
	Email   string
	Name    string
	// Roles is nil when the identity token carried no roles claim.
	Roles     []string
	ExpiresAt time.Time
}

// Handle is an external identity provider session.
type Handle interface {
	// Login signs the user in and starts the external session.
	Login(ctx context.Context) (Identity, error)
	// Logout ends the external session locally.
	Logout(ctx context.Context) error
	// Active reports whether an external session is established.
	Active() bool
	// Identity returns the signed-in user, if any.
	Identity() (Identity, bool)
	// Token returns a currently valid access token, renewing it if needed.
	Token(ctx context.Context) (string, error)
}

// RoleDecision is the outcome of a role check against an external identity.
type RoleDecision int

const (
	RoleDenied RoleDecision = iota
	RoleGranted
	// RoleUndecided means the identity carries no roles at all; the caller's own
	// access check decides.
	RoleUndecided
)

func (d RoleDecision) String() string {
	switch d {
	case RoleGranted:
		return "granted"
	case RoleUndecided:
		return "undecided"
	default:
		return "denied"
	}
}

// CheckRole reports whether id holds role. A missing roles claim is not a denial.
func CheckRole(id Identity, role string) RoleDecision {
	if id.Roles == nil {
		log.Warn().Str("subject", id.Subject).Str("role", role).
			Msg("External identity has no roles claim, deferring access decision")
		return RoleUndecided
	}
	if slices.Contains(id.Roles, role) {
		return RoleGranted
	}
	return RoleDenied
}
