package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/barberhq/citaflow/libs/db"
	"github.com/barberhq/citaflow/services/appointment-service/internal/model"
	"github.com/barberhq/citaflow/services/appointment-service/internal/transition"
)

// ErrStateConflict is returned when a transition update matched zero rows:
// the appointment's status changed between the validating read and the
// write, so the caller must not assume the transition happened.
var ErrStateConflict = errors.New("appointment state changed concurrently")

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

// FetchForTenant loads one appointment scoped to a business. A wrong
// business id and a nonexistent id are indistinguishable to the caller:
// both surface as pgx.ErrNoRows.
func (r *AppointmentRepository) FetchForTenant(ctx context.Context, id, businessID string) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.business_id, a.barber_id, COALESCE(b.name, ''),
			a.client_id, a.service_id, a.status, a.scheduled_at, a.duration_minutes,
			a.price, a.started_at, a.actual_duration_minutes, a.payment_method,
			COALESCE(a.client_notes, ''), COALESCE(a.internal_notes, ''), a.created_at
		FROM appointments a
		LEFT JOIN barbers b ON b.id = a.barber_id
		WHERE a.id = $1 AND a.business_id = $2
	`, id, businessID).Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.BarberID,
		&appt.BarberName,
		&appt.ClientID,
		&appt.ServiceID,
		&appt.Status,
		&appt.ScheduledAt,
		&appt.DurationMinutes,
		&appt.Price,
		&appt.StartedAt,
		&appt.ActualDurationMinutes,
		&appt.PaymentMethod,
		&appt.ClientNotes,
		&appt.InternalNotes,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ApplyTransition writes the patch with a predicate on the status the guard
// validated against. Zero matched rows means a concurrent transition won the
// race; that is ErrStateConflict, never a silent success. For check-ins the
// predicate additionally requires started_at to still be unset.
func (r *AppointmentRepository) ApplyTransition(ctx context.Context, id, businessID string, expected model.Status, patch transition.Patch) (model.AppointmentDetail, error) {
	var updatedID string
	err := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			started_at = COALESCE($4, started_at),
			actual_duration_minutes = COALESCE($5, actual_duration_minutes),
			payment_method = COALESCE($6, payment_method),
			updated_at = now()
		WHERE id = $1
			AND business_id = $2
			AND status = $7
			AND ($4::timestamptz IS NULL OR started_at IS NULL)
		RETURNING id
	`, id, businessID, patch.Status, patch.StartedAt, patch.ActualDurationMinutes, patch.PaymentMethod, expected).Scan(&updatedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AppointmentDetail{}, ErrStateConflict
		}
		return model.AppointmentDetail{}, err
	}

	return r.GetDetail(ctx, updatedID, businessID)
}

// GetDetail returns the appointment projected with its client and service
// summaries, the shape the status endpoints respond with.
func (r *AppointmentRepository) GetDetail(ctx context.Context, id, businessID string) (model.AppointmentDetail, error) {
	var (
		detail          model.AppointmentDetail
		clientID        *string
		clientName      *string
		clientPhone     *string
		clientEmail     *string
		clientUserID    *string
		serviceID       *string
		serviceName     *string
		serviceDuration *int
		servicePrice    *float64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.business_id, a.barber_id, COALESCE(b.name, ''),
			a.client_id, a.service_id, a.status, a.scheduled_at, a.duration_minutes,
			a.price, a.started_at, a.actual_duration_minutes, a.payment_method,
			COALESCE(a.client_notes, ''), COALESCE(a.internal_notes, ''), a.created_at,
			c.id, c.name, c.phone, c.email, c.user_id,
			s.id, s.name, s.duration_minutes, s.price
		FROM appointments a
		LEFT JOIN barbers b ON b.id = a.barber_id
		LEFT JOIN clients c ON c.id = a.client_id
		LEFT JOIN services s ON s.id = a.service_id
		WHERE a.id = $1 AND a.business_id = $2
	`, id, businessID).Scan(
		&detail.ID,
		&detail.BusinessID,
		&detail.BarberID,
		&detail.BarberName,
		&detail.ClientID,
		&detail.ServiceID,
		&detail.Status,
		&detail.ScheduledAt,
		&detail.DurationMinutes,
		&detail.Price,
		&detail.StartedAt,
		&detail.ActualDurationMinutes,
		&detail.PaymentMethod,
		&detail.ClientNotes,
		&detail.InternalNotes,
		&detail.CreatedAt,
		&clientID,
		&clientName,
		&clientPhone,
		&clientEmail,
		&clientUserID,
		&serviceID,
		&serviceName,
		&serviceDuration,
		&servicePrice,
	)
	if err != nil {
		return model.AppointmentDetail{}, err
	}

	if clientID != nil {
		detail.Client = &model.ClientSummary{
			ID:     *clientID,
			Phone:  clientPhone,
			Email:  clientEmail,
			UserID: clientUserID,
		}
		if clientName != nil {
			detail.Client.Name = *clientName
		}
	}
	if serviceID != nil {
		svc := &model.ServiceSummary{ID: *serviceID}
		if serviceName != nil {
			svc.Name = *serviceName
		}
		if serviceDuration != nil {
			svc.DurationMinutes = *serviceDuration
		}
		if servicePrice != nil {
			svc.Price = *servicePrice
		}
		detail.Service = svc
	}
	return detail, nil
}

// IncrementClientStats applies the visit/spend deltas in one atomic UPDATE.
// Two racing completions for the same client both land; there is no
// read-modify-write window to lose one.
func (r *AppointmentRepository) IncrementClientStats(ctx context.Context, clientID string, visits int, spent float64, lastVisitAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients
		SET total_visits = total_visits + $2,
			total_spent = total_spent + $3,
			last_visit_at = $4
		WHERE id = $1
	`, clientID, visits, spent, lastVisitAt)
	return err
}

func (r *AppointmentRepository) GetBusiness(ctx context.Context, id string) (model.Business, error) {
	var biz model.Business
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name
		FROM businesses
		WHERE id = $1
	`, id).Scan(&biz.ID, &biz.OwnerID, &biz.Name)
	if err != nil {
		return model.Business{}, err
	}
	return biz, nil
}

// NextUpcomingForBarber finds the barber's next pending/confirmed
// appointment scheduled within the horizon, excluding the one that just
// transitioned. Returns nil when there is none.
func (r *AppointmentRepository) NextUpcomingForBarber(ctx context.Context, businessID, barberID, excludeID string, from time.Time, horizon time.Duration) (*model.AppointmentDetail, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE business_id = $1
			AND barber_id = $2
			AND id <> $3
			AND status IN ('pending', 'confirmed')
			AND scheduled_at > $4
			AND scheduled_at <= $5
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, businessID, barberID, excludeID, from, from.Add(horizon)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	detail, err := r.GetDetail(ctx, id, businessID)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}
