package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/appointment"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

const maxBodyBytes = 1 << 20

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := pathID(r, "providerID", "provider_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), providerID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{ProviderID: providerID, Date: date, Slots: slots})
	}
}

func listRulesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := pathID(r, "providerID", "provider_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		rules, err := svc.ListRules(r.Context(), providerID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newRuleResponses(rules))
	}
}

func replaceAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := pathID(r, "providerID", "provider_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var req ReplaceAvailabilityRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		domain, err := req.toDomain()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		rules, err := svc.ReplaceAvailability(r.Context(), actorFrom(r.Context()), providerID, domain)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newRuleResponses(rules))
	}
}

func generateSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := pathID(r, "providerID", "provider_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var req GenerateSlotsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		res, err := svc.GenerateSlots(r.Context(), actorFrom(r.Context()), req.toDomain(providerID))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func materializeSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := pathID(r, "providerID", "provider_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var req MaterializeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		res, err := svc.MaterializeRange(r.Context(), actorFrom(r.Context()), providerID, req.From, req.To)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.Book(r.Context(), actorFrom(r.Context()), req.toDomain())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var req CompleteAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.Complete(r.Context(), actorFrom(r.Context()), id, req.toDomain())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var req UpdateStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), actorFrom(r.Context()), id, appointment.Status(req.Status))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func providerAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := pathID(r, "providerID", "provider_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		limit, offset, err := page(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		items, err := svc.ListForProvider(r.Context(), actorFrom(r.Context()), providerID, limit, offset)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentList(items, limit, offset))
	}
}

func patientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := pathID(r, "patientID", "patient_id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		limit, offset, err := page(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		items, err := svc.ListForPatient(r.Context(), actorFrom(r.Context()), patientID, limit, offset)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentList(items, limit, offset))
	}
}

func pathID(r *http.Request, param, field string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, schedule.Invalid(field, "must be a positive integer")
	}
	return id, nil
}

func pathUUID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, schedule.Invalid("id", "must be a valid UUID")
	}
	return id, nil
}

// page reads limit and offset and clamps them the way the service does.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, schedule.Invalid("limit", "must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, schedule.Invalid("offset", "must be an integer")
		}
	}
	limit, offset = appointment.ClampPage(limit, offset)
	return limit, offset, nil
}

// decodeJSON reads a single JSON object. Field-level parse failures, such as a bad date,
// surface as the field's validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var verr *schedule.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		if errors.Is(err, io.EOF) {
			return schedule.Invalid("body", "is required")
		}
		return schedule.Invalid("body", "could not parse JSON: %v", err)
	}
	if dec.More() {
		return schedule.Invalid("body", "must contain a single JSON object")
	}
	return nil
}

var codeStatus = map[string]int{
	appointment.CodeValidation:        http.StatusBadRequest,
	appointment.CodeSlotUnavailable:   http.StatusConflict,
	appointment.CodeSlotAlreadyBooked: http.StatusConflict,
	appointment.CodeAlreadyCompleted:  http.StatusConflict,
	appointment.CodeInvalidTransition: http.StatusConflict,
	appointment.CodeNotFound:          http.StatusNotFound,
	appointment.CodeForbidden:         http.StatusForbidden,
	appointment.CodeStorage:           http.StatusInternalServerError,
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := appointment.Code(err)
	status := codeStatus[code]

	details := err.Error()
	if code == appointment.CodeStorage {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		details = fmt.Sprintf("internal error, request %s", GetRequestID(r.Context()))
	}
	writeError(w, status, code, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
