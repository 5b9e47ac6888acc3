package carlock

import "github.com/google/uuid"

type ActorKind string

const (
	// ActorUser is an end user acting on their own cars.
	ActorUser ActorKind = "user"
	// ActorSystem is the worker acting on behalf of the car owner.
	ActorSystem ActorKind = "system"
	// ActorAdmin is a privileged caller. Admins bypass ownership checks.
	ActorAdmin ActorKind = "admin"
)

// Actor is the principal a car operation runs as.
type Actor struct {
	UserID uuid.UUID
	Kind   ActorKind
}

func User(id uuid.UUID) Actor { return Actor{UserID: id, Kind: ActorUser} }

// System returns the actor the worker uses. ownerID must be the car owner.
func System(ownerID uuid.UUID) Actor { return Actor{UserID: ownerID, Kind: ActorSystem} }

func Admin(id uuid.UUID) Actor { return Actor{UserID: id, Kind: ActorAdmin} }

// canMoveLocked reports whether the actor may change the status of a locked car.
func (a Actor) canMoveLocked() bool {
	return a.Kind == ActorSystem || a.Kind == ActorAdmin
}

func (a Actor) owns(ownerID uuid.UUID) bool {
	return a.Kind == ActorAdmin || a.UserID == ownerID
}

// CanAccess reports whether the actor may read or act on a resource owned by ownerID.
func (a Actor) CanAccess(ownerID uuid.UUID) bool {
	return a.owns(ownerID)
}
