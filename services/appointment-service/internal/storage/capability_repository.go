package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/barberhq/citaflow/libs/db"
	"github.com/barberhq/citaflow/services/appointment-service/internal/authz"
)

// CapabilityRepository loads a user's capability grants and linked barber
// profile for one business. It implements authz.GrantSource.
type CapabilityRepository struct {
	pool *db.Pool
}

func NewCapabilityRepository(pool *db.Pool) *CapabilityRepository {
	return &CapabilityRepository{pool: pool}
}

func (r *CapabilityRepository) Grants(ctx context.Context, userID, businessID string) (authz.Grants, error) {
	grants := authz.Grants{Capabilities: map[authz.Capability]bool{}}

	rows, err := r.pool.Query(ctx, `
		SELECT capability
		FROM user_capabilities
		WHERE user_id = $1 AND business_id = $2
	`, userID, businessID)
	if err != nil {
		return authz.Grants{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return authz.Grants{}, err
		}
		grants.Capabilities[authz.Capability(c)] = true
	}
	if rows.Err() != nil {
		return authz.Grants{}, rows.Err()
	}

	var barberID string
	err = r.pool.QueryRow(ctx, `
		SELECT id
		FROM barbers
		WHERE user_id = $1 AND business_id = $2
	`, userID, businessID).Scan(&barberID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return authz.Grants{}, err
	}
	grants.BarberID = barberID

	return grants, nil
}
