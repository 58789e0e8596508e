package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/vetclinic-core/internal/invoice"
)

func openInvoiceHandler(svc *invoice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenInvoiceRequest
		if err := decode(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		in := invoice.OpenInput{
			PatientID: uuid.MustParse(req.PatientID),
			OwnerID:   uuid.MustParse(req.OwnerID),
			IssuedBy:  uuid.MustParse(req.IssuedBy),
		}
		if req.EncounterID != nil {
			id := uuid.MustParse(*req.EncounterID)
			in.EncounterID = &id
		}

		inv, err := svc.Open(r.Context(), in)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toInvoiceResponse(inv))
	}
}

func getInvoiceHandler(svc *invoice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		inv, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
	}
}

func addItemHandler(svc *invoice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		var req AddItemRequest
		if err := decode(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
		price, err := parseMoney("unit_price", req.UnitPrice)
		if err != nil {
			handleError(w, r, err)
			return
		}

		inv, err := svc.AddItem(r.Context(), id, invoice.AddItemInput{
			ProductID: uuid.MustParse(req.ProductID),
			Quantity:  req.Quantity,
			UnitPrice: price,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
	}
}

func recordPaymentHandler(svc *invoice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		var req RecordPaymentRequest
		if err := decode(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
		amount, err := parseMoney("amount", req.Amount)
		if err != nil {
			handleError(w, r, err)
			return
		}

		p, err := svc.RecordPayment(r.Context(), id, invoice.PaymentInput{
			Amount:     amount,
			Method:     invoice.PaymentMethod(req.Method),
			ReceivedBy: uuid.MustParse(req.ReceivedBy),
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPaymentResponse(*p))
	}
}

func balanceHandler(svc *invoice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			handleError(w, r, err)
			return
		}

		balance, err := svc.Balance(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, BalanceResponse{
			InvoiceID: id,
			Balance:   balance.StringFixed(invoice.CurrencyPlaces),
		})
	}
}
