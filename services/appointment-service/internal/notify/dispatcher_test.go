package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/barberhq/citaflow/services/appointment-service/internal/model"
	"github.com/barberhq/citaflow/services/appointment-service/internal/transition"
)

type pushCall struct {
	kind string
	id   string
	msg  Message
}

type fakePusher struct {
	calls []pushCall
	err   error
}

func (p *fakePusher) PushToOwner(_ context.Context, businessID string, msg Message) error {
	p.calls = append(p.calls, pushCall{kind: "business_owner", id: businessID, msg: msg})
	return p.err
}

func (p *fakePusher) PushToUser(_ context.Context, userID string, msg Message) error {
	p.calls = append(p.calls, pushCall{kind: "user", id: userID, msg: msg})
	return p.err
}

type fakeDedup struct {
	sent     map[string]bool
	readErr  error
	recorded []string
}

func (d *fakeDedup) key(event, appointmentID, channel string) string {
	return event + "|" + appointmentID + "|" + channel
}

func (d *fakeDedup) AlreadySent(_ context.Context, event, appointmentID, channel string) (bool, error) {
	if d.readErr != nil {
		return false, d.readErr
	}
	return d.sent[d.key(event, appointmentID, channel)], nil
}

func (d *fakeDedup) Record(_ context.Context, event, appointmentID, channel, status string) error {
	d.recorded = append(d.recorded, d.key(event, appointmentID, channel)+"|"+status)
	if status == "sent" {
		if d.sent == nil {
			d.sent = map[string]bool{}
		}
		d.sent[d.key(event, appointmentID, channel)] = true
	}
	return nil
}

type fakeNext struct {
	detail *model.AppointmentDetail
	err    error
	calls  int
}

func (n *fakeNext) NextUpcomingForBarber(_ context.Context, _, _, _ string, _ time.Time, _ time.Duration) (*model.AppointmentDetail, error) {
	n.calls++
	return n.detail, n.err
}

func testDispatcher(pusher Pusher, dedup DedupStore, next NextLookup) *Dispatcher {
	d := NewDispatcher(pusher, dedup, next, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = func() time.Time { return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) }
	return d
}

func checkedInDetail() model.AppointmentDetail {
	return model.AppointmentDetail{
		Appointment: model.Appointment{
			ID:         "appt-1",
			BusinessID: "biz-1",
			BarberID:   "barber-1",
			Status:     model.StatusConfirmed,
		},
		Client: &model.ClientSummary{ID: "cli-1", Name: "Carlos"},
	}
}

func TestDispatchCheckInNotifiesOwner(t *testing.T) {
	pusher := &fakePusher{}
	dedup := &fakeDedup{}
	d := testDispatcher(pusher, dedup, &fakeNext{})

	d.Dispatch(context.Background(), transition.ActionCheckIn, checkedInDetail())

	if len(pusher.calls) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pusher.calls))
	}
	call := pusher.calls[0]
	if call.kind != "business_owner" || call.id != "biz-1" {
		t.Fatalf("pushed to %s/%s, want business_owner/biz-1", call.kind, call.id)
	}
	if !strings.Contains(call.msg.Body, "Carlos") {
		t.Fatalf("body %q does not name the client", call.msg.Body)
	}
	if len(dedup.recorded) != 1 || !strings.HasSuffix(dedup.recorded[0], "|sent") {
		t.Fatalf("recorded = %v, want one sent entry", dedup.recorded)
	}
}

func TestDispatchDedupSuppressesResend(t *testing.T) {
	pusher := &fakePusher{}
	dedup := &fakeDedup{}
	d := testDispatcher(pusher, dedup, &fakeNext{})

	d.Dispatch(context.Background(), transition.ActionCheckIn, checkedInDetail())
	d.Dispatch(context.Background(), transition.ActionCheckIn, checkedInDetail())

	if len(pusher.calls) != 1 {
		t.Fatalf("pushes = %d, want 1 after dedup", len(pusher.calls))
	}
}

func TestDispatchDedupReadErrorFailsOpen(t *testing.T) {
	pusher := &fakePusher{}
	dedup := &fakeDedup{readErr: errors.New("db down")}
	d := testDispatcher(pusher, dedup, &fakeNext{})

	d.Dispatch(context.Background(), transition.ActionCheckIn, checkedInDetail())

	if len(pusher.calls) != 1 {
		t.Fatalf("pushes = %d, want 1 when dedup read fails", len(pusher.calls))
	}
}

func TestDispatchCompleteSendsArriveEarly(t *testing.T) {
	userID := "user-9"
	next := &fakeNext{detail: &model.AppointmentDetail{
		Appointment: model.Appointment{
			ID:          "appt-2",
			BusinessID:  "biz-1",
			BarberID:    "barber-1",
			ScheduledAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		},
		Client: &model.ClientSummary{ID: "cli-2", Name: "Luis", UserID: &userID},
	}}
	pusher := &fakePusher{}
	d := testDispatcher(pusher, &fakeDedup{}, next)

	dur := 35
	pm := "cash"
	detail := checkedInDetail()
	detail.Status = model.StatusCompleted
	detail.ActualDurationMinutes = &dur
	detail.PaymentMethod = &pm

	d.Dispatch(context.Background(), transition.ActionComplete, detail)

	if len(pusher.calls) != 2 {
		t.Fatalf("pushes = %d, want owner push plus arrive-early", len(pusher.calls))
	}
	owner := pusher.calls[0]
	if !strings.Contains(owner.msg.Body, "35 min") || !strings.Contains(owner.msg.Body, "Efectivo") {
		t.Fatalf("owner body %q missing duration or payment label", owner.msg.Body)
	}
	early := pusher.calls[1]
	if early.kind != "user" || early.id != "user-9" {
		t.Fatalf("arrive-early went to %s/%s, want user/user-9", early.kind, early.id)
	}
	if early.msg.Tag != "llega-temprano-appt-2" {
		t.Fatalf("arrive-early tag = %q", early.msg.Tag)
	}
}

func TestDispatchCompleteNoNextAppointment(t *testing.T) {
	pusher := &fakePusher{}
	next := &fakeNext{}
	d := testDispatcher(pusher, &fakeDedup{}, next)

	detail := checkedInDetail()
	detail.Status = model.StatusCompleted
	d.Dispatch(context.Background(), transition.ActionComplete, detail)

	if next.calls != 1 {
		t.Fatalf("next lookup calls = %d, want 1", next.calls)
	}
	if len(pusher.calls) != 1 {
		t.Fatalf("pushes = %d, want owner push only", len(pusher.calls))
	}
}

func TestDispatchNoShowSkipsArriveEarly(t *testing.T) {
	pusher := &fakePusher{}
	next := &fakeNext{}
	d := testDispatcher(pusher, &fakeDedup{}, next)

	d.Dispatch(context.Background(), transition.ActionNoShow, checkedInDetail())

	if next.calls != 0 {
		t.Fatalf("next lookup calls = %d, want 0 for no-show", next.calls)
	}
	if len(pusher.calls) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pusher.calls))
	}
}

func TestDispatchPusherErrorIsSwallowed(t *testing.T) {
	pusher := &fakePusher{err: errors.New("broker gone")}
	dedup := &fakeDedup{}
	d := testDispatcher(pusher, dedup, &fakeNext{})

	d.Dispatch(context.Background(), transition.ActionCheckIn, checkedInDetail())

	if len(dedup.recorded) != 1 || !strings.HasSuffix(dedup.recorded[0], "|failed") {
		t.Fatalf("recorded = %v, want one failed entry", dedup.recorded)
	}

	// A failed attempt must not count as sent; the retry goes through.
	d.Dispatch(context.Background(), transition.ActionCheckIn, checkedInDetail())
	if len(pusher.calls) != 2 {
		t.Fatalf("pushes = %d, want retry after failure", len(pusher.calls))
	}
}

func TestPaymentMethodLabel(t *testing.T) {
	cases := map[string]string{
		"cash":  "Efectivo",
		"sinpe": "SINPE",
		"card":  "Tarjeta",
		"other": "other",
	}
	for in, want := range cases {
		if got := PaymentMethodLabel(in); got != want {
			t.Fatalf("PaymentMethodLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
