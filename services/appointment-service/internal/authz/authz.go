package authz

import (
	"context"
)

// Capability is an enumerated grant a user can hold within a business.
type Capability string

const (
	// CapabilityWriteAllAppointments lets the holder modify any appointment
	// in the business (admins, receptionists).
	CapabilityWriteAllAppointments Capability = "write_all_appointments"
	// CapabilityWriteOwnAppointments lets a barber modify appointments
	// assigned to their own barber profile.
	CapabilityWriteOwnAppointments Capability = "write_own_appointments"
)

// Grants is the resolved capability view for one user in one business.
type Grants struct {
	// BarberID is the barber profile linked to the user, empty if the user
	// is not a barber in this business.
	BarberID     string
	Capabilities map[Capability]bool
}

func (g Grants) Has(c Capability) bool {
	return g.Capabilities[c]
}

// Decide is the pure authorization rule for modifying an appointment
// assigned to barberID, first match wins:
//
//  1. business owner
//  2. blanket write-all capability
//  3. write-own capability while being the assigned barber
func Decide(actorID string, grants Grants, barberID, ownerID string) bool {
	if actorID != "" && actorID == ownerID {
		return true
	}
	if grants.Has(CapabilityWriteAllAppointments) {
		return true
	}
	if grants.BarberID != "" && grants.BarberID == barberID {
		return grants.Has(CapabilityWriteOwnAppointments)
	}
	return false
}

// GrantSource loads the capability view for a user. Implementations are
// expected to fail closed: any error denies.
type GrantSource interface {
	Grants(ctx context.Context, userID, businessID string) (Grants, error)
}

// Resolver answers the single question the status endpoints need: may this
// actor modify appointments assigned to this barber?
type Resolver struct {
	source GrantSource
}

func NewResolver(source GrantSource) *Resolver {
	return &Resolver{source: source}
}

func (r *Resolver) CanModify(ctx context.Context, actorID, barberID, businessID, ownerID string) (bool, error) {
	// Owners never need a capability lookup.
	if actorID != "" && actorID == ownerID {
		return true, nil
	}
	grants, err := r.source.Grants(ctx, actorID, businessID)
	if err != nil {
		return false, err
	}
	return Decide(actorID, grants, barberID, ownerID), nil
}
