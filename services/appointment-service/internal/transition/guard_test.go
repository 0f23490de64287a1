package transition

import (
	"errors"
	"testing"
	"time"

	"github.com/barberhq/citaflow/services/appointment-service/internal/model"
)

func appt(status model.Status, startedAt *time.Time) model.Appointment {
	return model.Appointment{
		ID:         "apt-1",
		BusinessID: "biz-1",
		BarberID:   "barber-1",
		Status:     status,
		StartedAt:  startedAt,
	}
}

func TestCheckIn_FromPending(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	patch, err := Apply(ActionCheckIn, appt(model.StatusPending, nil), "", now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", patch.Status)
	}
	if patch.StartedAt == nil || !patch.StartedAt.Equal(now) {
		t.Fatalf("expected started_at %s, got %v", now, patch.StartedAt)
	}
}

func TestCheckIn_FromConfirmedWithoutStart(t *testing.T) {
	now := time.Now().UTC()
	patch, err := Apply(ActionCheckIn, appt(model.StatusConfirmed, nil), "", now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
}

func TestCheckIn_AlreadyStarted(t *testing.T) {
	started := time.Now().UTC().Add(-5 * time.Minute)
	_, err := Apply(ActionCheckIn, appt(model.StatusConfirmed, &started), "", time.Now().UTC())
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestCheckIn_TerminalStates(t *testing.T) {
	for _, status := range []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow} {
		_, err := Apply(ActionCheckIn, appt(status, nil), "", time.Now().UTC())
		var ise *InvalidStateError
		if !errors.As(err, &ise) {
			t.Fatalf("status %s: expected InvalidStateError, got %v", status, err)
		}
		if ise.Current != status {
			t.Fatalf("expected error to carry current status %s, got %s", status, ise.Current)
		}
	}
}

func TestComplete_ComputesActualDuration(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 2, 30, 0, time.UTC)
	started := now.Add(-2 * time.Minute)
	patch, err := Apply(ActionComplete, appt(model.StatusConfirmed, &started), "cash", now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", patch.Status)
	}
	if patch.ActualDurationMinutes == nil || *patch.ActualDurationMinutes != 2 {
		t.Fatalf("expected actual duration 2, got %v", patch.ActualDurationMinutes)
	}
	if patch.PaymentMethod == nil || *patch.PaymentMethod != "cash" {
		t.Fatalf("expected payment method cash, got %v", patch.PaymentMethod)
	}
}

func TestComplete_WithoutStartHasNoDuration(t *testing.T) {
	patch, err := Apply(ActionComplete, appt(model.StatusPending, nil), "", time.Now().UTC())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.ActualDurationMinutes != nil {
		t.Fatalf("expected no duration, got %v", patch.ActualDurationMinutes)
	}
	if patch.PaymentMethod != nil {
		t.Fatalf("expected no payment method, got %v", patch.PaymentMethod)
	}
}

func TestComplete_DiscardsInsaneDurations(t *testing.T) {
	now := time.Now().UTC()

	// Stale check-in from yesterday.
	stale := now.Add(-9 * time.Hour)
	patch, err := Apply(ActionComplete, appt(model.StatusConfirmed, &stale), "", now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.ActualDurationMinutes != nil {
		t.Fatalf("expected stale duration discarded, got %v", patch.ActualDurationMinutes)
	}

	// Clock skew: started_at in the future.
	future := now.Add(10 * time.Minute)
	patch, err = Apply(ActionComplete, appt(model.StatusConfirmed, &future), "", now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.ActualDurationMinutes != nil {
		t.Fatalf("expected negative duration discarded, got %v", patch.ActualDurationMinutes)
	}
}

func TestComplete_IgnoresUnknownPaymentMethod(t *testing.T) {
	patch, err := Apply(ActionComplete, appt(model.StatusPending, nil), "bitcoin", time.Now().UTC())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if patch.PaymentMethod != nil {
		t.Fatalf("expected unknown payment method ignored, got %v", patch.PaymentMethod)
	}
}

func TestNoShow_Transitions(t *testing.T) {
	for _, status := range []model.Status{model.StatusPending, model.StatusConfirmed} {
		patch, err := Apply(ActionNoShow, appt(status, nil), "", time.Now().UTC())
		if err != nil {
			t.Fatalf("status %s: Apply failed: %v", status, err)
		}
		if patch.Status != model.StatusNoShow {
			t.Fatalf("expected no_show, got %s", patch.Status)
		}
		if patch.StartedAt != nil || patch.ActualDurationMinutes != nil || patch.PaymentMethod != nil {
			t.Fatal("no-show must not change any other field")
		}
	}
}

func TestIllegalPairsRejectWithoutPatch(t *testing.T) {
	terminal := []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow}
	for _, action := range []Action{ActionComplete, ActionNoShow} {
		for _, status := range terminal {
			_, err := Apply(action, appt(status, nil), "", time.Now().UTC())
			var ise *InvalidStateError
			if !errors.As(err, &ise) {
				t.Fatalf("(%s, %s): expected InvalidStateError, got %v", status, action, err)
			}
			if ise.Message() == "" {
				t.Fatalf("(%s, %s): expected non-empty message", status, action)
			}
		}
	}
}
