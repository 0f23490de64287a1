package transition

import (
	"errors"
	"fmt"
	"time"

	"github.com/barberhq/citaflow/services/appointment-service/internal/model"
)

type Action string

const (
	ActionCheckIn  Action = "check-in"
	ActionComplete Action = "complete"
	ActionNoShow   Action = "no-show"
)

// MaxActualDurationMinutes caps the computed service duration. Anything above
// it (stale check-ins, clock skew) is discarded rather than persisted.
const MaxActualDurationMinutes = 480

// ErrAlreadyStarted is returned for a check-in on an appointment whose
// service already began.
var ErrAlreadyStarted = errors.New("appointment already started")

// InvalidStateError reports a transition that is not legal from the
// appointment's current status.
type InvalidStateError struct {
	Action  Action
	Current model.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s appointment in status %q", e.Action, e.Current)
}

// Message returns the client-facing Spanish description of the rejection.
func (e *InvalidStateError) Message() string {
	switch e.Action {
	case ActionCheckIn:
		return fmt.Sprintf("No se puede hacer check-in de una cita con estado %q. Solo citas pendientes o confirmadas sin iniciar pueden hacer check-in.", e.Current)
	case ActionComplete:
		return fmt.Sprintf("No se puede completar una cita con estado %q. Solo citas pendientes o confirmadas pueden completarse.", e.Current)
	case ActionNoShow:
		return fmt.Sprintf("No se puede marcar como no-show una cita con estado %q. Solo citas pendientes o confirmadas pueden marcarse como no-show.", e.Current)
	}
	return fmt.Sprintf("Transicion invalida desde el estado %q.", e.Current)
}

// Patch is the set of column changes a legal transition produces. Nil
// pointers mean "leave as is".
type Patch struct {
	Status                model.Status
	StartedAt             *time.Time
	ActualDurationMinutes *int
	PaymentMethod         *string
}

var allowedPaymentMethods = map[string]struct{}{
	"cash":  {},
	"sinpe": {},
	"card":  {},
}

// AllowedPaymentMethod reports whether m is one of the accepted payment
// method identifiers. Anything else is silently ignored by Apply.
func AllowedPaymentMethod(m string) bool {
	_, ok := allowedPaymentMethods[m]
	return ok
}

// Apply validates action against the appointment's current state and returns
// the resulting patch. It never touches persistence; the caller is expected
// to write the patch with a predicate on the status it validated against.
func Apply(action Action, appt model.Appointment, paymentMethod string, now time.Time) (Patch, error) {
	switch action {
	case ActionCheckIn:
		return applyCheckIn(appt, now)
	case ActionComplete:
		return applyComplete(appt, paymentMethod, now)
	case ActionNoShow:
		return applyNoShow(appt)
	}
	return Patch{}, fmt.Errorf("unknown action %q", action)
}

func applyCheckIn(appt model.Appointment, now time.Time) (Patch, error) {
	switch appt.Status {
	case model.StatusPending:
	case model.StatusConfirmed:
		if appt.StartedAt != nil {
			return Patch{}, ErrAlreadyStarted
		}
	default:
		return Patch{}, &InvalidStateError{Action: ActionCheckIn, Current: appt.Status}
	}

	startedAt := now
	return Patch{Status: model.StatusConfirmed, StartedAt: &startedAt}, nil
}

func applyComplete(appt model.Appointment, paymentMethod string, now time.Time) (Patch, error) {
	if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
		return Patch{}, &InvalidStateError{Action: ActionComplete, Current: appt.Status}
	}

	patch := Patch{Status: model.StatusCompleted}

	if appt.StartedAt != nil {
		mins := int(now.Sub(*appt.StartedAt).Minutes())
		if mins >= 0 && mins <= MaxActualDurationMinutes {
			patch.ActualDurationMinutes = &mins
		}
	}

	if AllowedPaymentMethod(paymentMethod) {
		pm := paymentMethod
		patch.PaymentMethod = &pm
	}

	return patch, nil
}

func applyNoShow(appt model.Appointment) (Patch, error) {
	if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
		return Patch{}, &InvalidStateError{Action: ActionNoShow, Current: appt.Status}
	}
	return Patch{Status: model.StatusNoShow}, nil
}
