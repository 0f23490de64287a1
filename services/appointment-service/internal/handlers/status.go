package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/barberhq/citaflow/libs/auth"
	"github.com/barberhq/citaflow/services/appointment-service/internal/model"
	"github.com/barberhq/citaflow/services/appointment-service/internal/ratelimit"
	"github.com/barberhq/citaflow/services/appointment-service/internal/storage"
	"github.com/barberhq/citaflow/services/appointment-service/internal/transition"
)

// AppointmentStore is the persistence surface the status endpoints need.
type AppointmentStore interface {
	FetchForTenant(ctx context.Context, id, businessID string) (model.Appointment, error)
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	ApplyTransition(ctx context.Context, id, businessID string, expected model.Status, patch transition.Patch) (model.AppointmentDetail, error)
	IncrementClientStats(ctx context.Context, clientID string, visits int, spent float64, lastVisitAt time.Time) error
}

// Authorizer answers whether the actor may modify appointments assigned to
// the given barber. Errors deny.
type Authorizer interface {
	CanModify(ctx context.Context, actorID, barberID, businessID, ownerID string) (bool, error)
}

// Auditor records security-relevant events such as authorization denials.
type Auditor interface {
	Record(ctx context.Context, eventType, actorID string, metadata map[string]any) error
}

// Dispatcher fans out post-transition notifications. Called in a goroutine;
// it must never fail the request.
type Dispatcher interface {
	Dispatch(ctx context.Context, action transition.Action, detail model.AppointmentDetail)
}

// StatusHandler serves the three appointment status transitions:
// check-in, complete, and no-show.
type StatusHandler struct {
	store      AppointmentStore
	authorizer Authorizer
	limiter    ratelimit.Limiter
	auditor    Auditor
	dispatcher Dispatcher
	logger     *slog.Logger
	jwtSecret  string
	now        func() time.Time
}

func NewStatusHandler(store AppointmentStore, authorizer Authorizer, limiter ratelimit.Limiter, auditor Auditor, dispatcher Dispatcher, logger *slog.Logger, jwtSecret string) *StatusHandler {
	return &StatusHandler{
		store:      store,
		authorizer: authorizer,
		limiter:    limiter,
		auditor:    auditor,
		dispatcher: dispatcher,
		logger:     logger,
		jwtSecret:  jwtSecret,
		now:        time.Now,
	}
}

// statusRequest is the optional PATCH body. A malformed or absent body is
// treated as empty rather than rejected.
type statusRequest struct {
	BarberID      string `json:"barberId"`
	PaymentMethod string `json:"payment_method"`
}

type clientResponse struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

type serviceResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
}

type statusResponse struct {
	ID                    string           `json:"id"`
	Status                string           `json:"status"`
	ScheduledAt           string           `json:"scheduled_at"`
	DurationMinutes       int              `json:"duration_minutes"`
	Price                 float64          `json:"price"`
	StartedAt             *string          `json:"started_at"`
	ActualDurationMinutes *int             `json:"actual_duration_minutes"`
	PaymentMethod         *string          `json:"payment_method"`
	ClientNotes           string           `json:"client_notes,omitempty"`
	InternalNotes         string           `json:"internal_notes,omitempty"`
	Client                *clientResponse  `json:"client"`
	Service               *serviceResponse `json:"service"`
}

func (h *StatusHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, transition.ActionCheckIn)
}

func (h *StatusHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, transition.ActionComplete)
}

func (h *StatusHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, transition.ActionNoShow)
}

func (h *StatusHandler) handle(w http.ResponseWriter, r *http.Request, action transition.Action) {
	ctx := r.Context()

	claims, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "No autorizado")
		return
	}

	// The limiter runs before any fetch or write so denied requests leave
	// zero side effects.
	decision, err := h.limiter.Allow(ctx, claims.Sub, string(action))
	if err != nil {
		h.logger.Error("rate limiter unavailable", "actor_id", claims.Sub, "err", err)
		writeError(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}
	if !decision.Allowed {
		writeRateLimited(w, decision.RetryAfter)
		return
	}

	appointmentID := strings.TrimSpace(r.PathValue("id"))
	if appointmentID == "" {
		writeError(w, http.StatusNotFound, "Cita no encontrada")
		return
	}

	var req statusRequest
	if r.Body != nil {
		// Malformed JSON is treated as an absent body.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	appt, err := h.store.FetchForTenant(ctx, appointmentID, claims.BusinessID)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Cita no encontrada")
			return
		}
		h.logger.Error("appointment fetch failed", "appointment_id", appointmentID, "err", err)
		writeError(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}

	biz, err := h.store.GetBusiness(ctx, claims.BusinessID)
	if err != nil {
		h.logger.Error("business fetch failed", "business_id", claims.BusinessID, "err", err)
		writeError(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}

	// Authorization is always checked against the appointment's real barber.
	// A body barberId that disagrees with it is an IDOR probe, not a hint.
	allowed := false
	if strings.TrimSpace(req.BarberID) == "" || req.BarberID == appt.BarberID {
		allowed, err = h.authorizer.CanModify(ctx, claims.Sub, appt.BarberID, claims.BusinessID, biz.OwnerID)
		if err != nil {
			h.logger.Error("authorization lookup failed", "actor_id", claims.Sub, "err", err)
			allowed = false
		}
	}
	if !allowed {
		h.auditDenial(ctx, claims, appt, action)
		writeError(w, http.StatusUnauthorized, denialMessage(action))
		return
	}

	patch, err := transition.Apply(action, appt, req.PaymentMethod, h.now())
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	detail, err := h.store.ApplyTransition(ctx, appt.ID, claims.BusinessID, appt.Status, patch)
	if err != nil {
		if storage.IsStateConflict(err) {
			writeError(w, http.StatusConflict, "La cita fue modificada por otra operacion. Intenta de nuevo.")
			return
		}
		h.logger.Error("transition write failed", "appointment_id", appt.ID, "action", action, "err", err)
		writeError(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}

	if action == transition.ActionComplete && detail.ClientID != nil {
		if err := h.store.IncrementClientStats(ctx, *detail.ClientID, 1, detail.Price, h.now()); err != nil {
			// The appointment is already completed; the stats drift is logged
			// and repaired out of band rather than failing the request.
			h.logger.Error("client stats update failed", "client_id", *detail.ClientID, "appointment_id", detail.ID, "err", err)
		}
	}

	go h.dispatcher.Dispatch(context.WithoutCancel(ctx), action, detail)

	writeJSON(w, http.StatusOK, toResponse(detail))
}

func (h *StatusHandler) authenticate(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, auth.ErrInvalidToken
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), h.jwtSecret)
	if err != nil {
		return nil, err
	}
	if claims.Sub == "" || claims.BusinessID == "" {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

func (h *StatusHandler) auditDenial(ctx context.Context, claims *auth.Claims, appt model.Appointment, action transition.Action) {
	h.logger.Warn("appointment modification denied",
		"actor_id", claims.Sub,
		"appointment_id", appt.ID,
		"barber_id", appt.BarberID,
		"action", action,
	)
	err := h.auditor.Record(ctx, "appointment.modify.denied", claims.Sub, map[string]any{
		"actor_email":    claims.Email,
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"barber_id":      appt.BarberID,
		"barber_name":    appt.BarberName,
		"action":         string(action),
	})
	if err != nil {
		h.logger.Error("audit write failed", "actor_id", claims.Sub, "appointment_id", appt.ID, "err", err)
	}
}

func (h *StatusHandler) writeTransitionError(w http.ResponseWriter, err error) {
	var invalid *transition.InvalidStateError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Estado invalido",
			"message": invalid.Message(),
		})
	case errors.Is(err, transition.ErrAlreadyStarted):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Estado invalido",
			"message": "La cita ya tiene un check-in registrado.",
		})
	default:
		writeError(w, http.StatusInternalServerError, "Error interno del servidor")
	}
}

func denialMessage(action transition.Action) string {
	switch action {
	case transition.ActionCheckIn:
		return "No tienes permiso para hacer check-in de esta cita"
	case transition.ActionComplete:
		return "No tienes permiso para completar esta cita"
	case transition.ActionNoShow:
		return "No tienes permiso para marcar esta cita como no-show"
	}
	return "No tienes permiso para modificar esta cita"
}

func toResponse(detail model.AppointmentDetail) statusResponse {
	resp := statusResponse{
		ID:                    detail.ID,
		Status:                string(detail.Status),
		ScheduledAt:           detail.ScheduledAt.UTC().Format(time.RFC3339),
		DurationMinutes:       detail.DurationMinutes,
		Price:                 detail.Price,
		ActualDurationMinutes: detail.ActualDurationMinutes,
		PaymentMethod:         detail.PaymentMethod,
		ClientNotes:           detail.ClientNotes,
		InternalNotes:         detail.InternalNotes,
	}
	if detail.StartedAt != nil {
		s := detail.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if detail.Client != nil {
		resp.Client = &clientResponse{
			ID:    detail.Client.ID,
			Name:  detail.Client.Name,
			Phone: detail.Client.Phone,
			Email: detail.Client.Email,
		}
	}
	if detail.Service != nil {
		resp.Service = &serviceResponse{
			ID:              detail.Service.ID,
			Name:            detail.Service.Name,
			DurationMinutes: detail.Service.DurationMinutes,
			Price:           detail.Service.Price,
		}
	}
	return resp
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "Demasiadas solicitudes",
		"retry_after_seconds": seconds,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
