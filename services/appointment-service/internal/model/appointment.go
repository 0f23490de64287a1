package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Appointment struct {
	ID                    string
	BusinessID            string
	BarberID              string
	BarberName            string
	ClientID              *string
	ServiceID             *string
	Status                Status
	ScheduledAt           time.Time
	DurationMinutes       int
	Price                 float64
	StartedAt             *time.Time
	ActualDurationMinutes *int
	PaymentMethod         *string
	ClientNotes           string
	InternalNotes         string
	CreatedAt             time.Time
}

type ClientSummary struct {
	ID     string
	Name   string
	Phone  *string
	Email  *string
	UserID *string
}

type ServiceSummary struct {
	ID              string
	Name            string
	DurationMinutes int
	Price           float64
}

// AppointmentDetail is the projection returned after a transition:
// the appointment row with its related client and service summaries.
type AppointmentDetail struct {
	Appointment
	Client  *ClientSummary
	Service *ServiceSummary
}

type Business struct {
	ID      string
	OwnerID string
	Name    string
}
