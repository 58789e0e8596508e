package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/clinic"
)

func proposeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProposeAppointmentRequest
		if err := decode(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.Propose(r.Context(), appointment.ProposeInput{
			PatientID:       uuid.MustParse(req.PatientID),
			PractitionerID:  uuid.MustParse(req.PractitionerID),
			StartAt:         req.StartAt,
			Kind:            appointment.ServiceKind(req.Kind),
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
			Notes:           req.Notes,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		var req TransitionRequest
		if err := decode(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.Transition(r.Context(), id, appointment.Status(req.Status), req.CancellationReason)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func archiveAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.Archive(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func agendaHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
		if err != nil {
			handleError(w, r, clinic.Invalid("date", "must be YYYY-MM-DD"))
			return
		}

		agenda, err := svc.FindDayAgenda(r.Context(), practitionerID, date)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(agenda))
		for i := range agenda {
			resp = append(resp, toAppointmentResponse(&agenda[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		q := r.URL.Query()
		from, err := time.Parse(time.RFC3339, q.Get("from"))
		if err != nil {
			handleError(w, r, clinic.Invalid("from", "must be an RFC 3339 timestamp"))
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		if err != nil {
			handleError(w, r, clinic.Invalid("to", "must be an RFC 3339 timestamp"))
			return
		}

		free, err := svc.Availability(r.Context(), practitionerID, from, to)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]IntervalResponse, 0, len(free))
		for _, iv := range free {
			resp = append(resp, IntervalResponse{Start: iv.Start, End: iv.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// parseMoney turns a validated decimal string into a Decimal.
func parseMoney(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, clinic.Invalid(field, "must be a decimal number")
	}
	return d, nil
}
