package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barberhq/citaflow/services/appointment-service/internal/model"
	"github.com/barberhq/citaflow/services/appointment-service/internal/transition"
)

// DefaultLookaheadHorizon is how far ahead of now a barber's next
// appointment may be scheduled and still get an arrive-early nudge.
const DefaultLookaheadHorizon = 60 * time.Minute

const pushChannel = "push"

// DedupStore answers whether a notification was already sent and records
// attempts. Backed by notification_log in production.
type DedupStore interface {
	AlreadySent(ctx context.Context, eventType, appointmentID, channel string) (bool, error)
	Record(ctx context.Context, eventType, appointmentID, channel, status string) error
}

// NextLookup finds the barber's next upcoming appointment for the
// arrive-early nudge.
type NextLookup interface {
	NextUpcomingForBarber(ctx context.Context, businessID, barberID, excludeID string, from time.Time, horizon time.Duration) (*model.AppointmentDetail, error)
}

// Dispatcher fans out the post-transition notifications. Every call is
// best-effort: failures are logged and swallowed, never surfaced to the
// request that triggered them.
type Dispatcher struct {
	pusher  Pusher
	dedup   DedupStore
	next    NextLookup
	logger  *slog.Logger
	horizon time.Duration
	now     func() time.Time
}

func NewDispatcher(pusher Pusher, dedup DedupStore, next NextLookup, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		pusher:  pusher,
		dedup:   dedup,
		next:    next,
		logger:  logger,
		horizon: DefaultLookaheadHorizon,
		now:     time.Now,
	}
}

var eventTypes = map[transition.Action]string{
	transition.ActionCheckIn:  "appointment_checked_in",
	transition.ActionComplete: "appointment_completed",
	transition.ActionNoShow:   "appointment_no_show",
}

// Dispatch notifies the business owner about the transition and, for
// completions, nudges the next client in the barber's queue. Run it in its
// own goroutine; it recovers from panics and never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, action transition.Action, detail model.AppointmentDetail) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("notification dispatch panicked", "appointment_id", detail.ID, "panic", rec)
		}
	}()

	event, ok := eventTypes[action]
	if !ok {
		return
	}

	d.sendOwner(ctx, event, detail, ownerMessage(action, detail))

	if action == transition.ActionComplete {
		d.sendArriveEarly(ctx, detail)
	}
}

func (d *Dispatcher) sendOwner(ctx context.Context, event string, detail model.AppointmentDetail, msg Message) {
	if d.skipDuplicate(ctx, event, detail.ID) {
		return
	}
	err := d.pusher.PushToOwner(ctx, detail.BusinessID, msg)
	d.record(ctx, event, detail.ID, err)
	if err != nil {
		d.logger.Error("owner push failed", "appointment_id", detail.ID, "event", event, "err", err)
	}
}

func (d *Dispatcher) sendArriveEarly(ctx context.Context, completed model.AppointmentDetail) {
	next, err := d.next.NextUpcomingForBarber(ctx, completed.BusinessID, completed.BarberID, completed.ID, d.now(), d.horizon)
	if err != nil {
		d.logger.Error("next appointment lookup failed", "barber_id", completed.BarberID, "err", err)
		return
	}
	if next == nil || next.Client == nil || next.Client.UserID == nil {
		return
	}

	const event = "arrive_early"
	if d.skipDuplicate(ctx, event, next.ID) {
		return
	}

	msg := Message{
		Title: "Tu barbero va adelantado",
		Body:  fmt.Sprintf("Puedes llegar antes para tu cita de las %s.", next.ScheduledAt.Local().Format("15:04")),
		Tag:   "llega-temprano-" + next.ID,
	}
	err = d.pusher.PushToUser(ctx, *next.Client.UserID, msg)
	d.record(ctx, event, next.ID, err)
	if err != nil {
		d.logger.Error("arrive-early push failed", "appointment_id", next.ID, "err", err)
	}
}

// skipDuplicate fails open: a dedup read error allows the send rather than
// silently losing the notification.
func (d *Dispatcher) skipDuplicate(ctx context.Context, event, appointmentID string) bool {
	sent, err := d.dedup.AlreadySent(ctx, event, appointmentID, pushChannel)
	if err != nil {
		d.logger.Warn("notification dedup check failed", "event", event, "appointment_id", appointmentID, "err", err)
		return false
	}
	return sent
}

func (d *Dispatcher) record(ctx context.Context, event, appointmentID string, sendErr error) {
	status := "sent"
	if sendErr != nil {
		status = "failed"
	}
	if err := d.dedup.Record(ctx, event, appointmentID, pushChannel, status); err != nil {
		d.logger.Warn("notification log write failed", "event", event, "appointment_id", appointmentID, "err", err)
	}
}

func ownerMessage(action transition.Action, detail model.AppointmentDetail) Message {
	clientName := "Cliente"
	if detail.Client != nil && detail.Client.Name != "" {
		clientName = detail.Client.Name
	}

	switch action {
	case transition.ActionCheckIn:
		return Message{
			Title: "Cita en curso",
			Body:  fmt.Sprintf("%s llego a su cita", clientName),
			Tag:   "checkin-" + detail.ID,
		}
	case transition.ActionComplete:
		body := fmt.Sprintf("Cita de %s completada", clientName)
		if detail.ActualDurationMinutes != nil {
			body += fmt.Sprintf(" en %d min", *detail.ActualDurationMinutes)
		}
		if detail.PaymentMethod != nil {
			body += " · " + PaymentMethodLabel(*detail.PaymentMethod)
		}
		return Message{
			Title: "Cita completada",
			Body:  body,
			Tag:   "complete-" + detail.ID,
		}
	case transition.ActionNoShow:
		return Message{
			Title: "Cliente no llego",
			Body:  fmt.Sprintf("%s no se presento a su cita", clientName),
			Tag:   "noshow-" + detail.ID,
		}
	}
	return Message{}
}

// PaymentMethodLabel maps the stored payment method identifier to its
// user-facing label.
func PaymentMethodLabel(method string) string {
	switch method {
	case "cash":
		return "Efectivo"
	case "sinpe":
		return "SINPE"
	case "card":
		return "Tarjeta"
	}
	return method
}
