package auth

import (
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/google/uuid"
)

// Actor is the authenticated caller a service acts on behalf of.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

func (a Actor) IsAdmin() bool  { return a.Role == enums.RoleAdmin }
func (a Actor) IsSeller() bool { return a.Role == enums.RoleSeller }
func (a Actor) IsBuyer() bool  { return a.Role == enums.RoleBuyer }

// ActorFromClaims converts verified token claims into an Actor.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}
