package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
)

// Actor is the authenticated caller as the billing core sees it: identity,
// role, and the workspace currently selected in the dashboard. The active
// workspace is UI state, never payment attribution.
type Actor struct {
	UserID            uuid.UUID
	Email             string
	ActiveWorkspaceID *uuid.UUID
	Role              enums.MemberRole
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID            uuid.UUID        `json:"user_id"`
	Email             string           `json:"email"`
	ActiveWorkspaceID *uuid.UUID       `json:"active_workspace_id,omitempty"`
	Role              enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the actor bundle threaded through services.
func (c AccessTokenClaims) Actor() Actor {
	return Actor{
		UserID:            c.UserID,
		Email:             c.Email,
		ActiveWorkspaceID: c.ActiveWorkspaceID,
		Role:              c.Role,
	}
}
