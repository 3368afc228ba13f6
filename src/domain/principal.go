package domain

import "github.com/google/uuid"

// Principal is the authenticated request identity, produced once by token
// verification in the auth middleware and passed explicitly to handlers.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

func (p Principal) IsSteward() bool {
	return p.Role == RoleSteward
}
