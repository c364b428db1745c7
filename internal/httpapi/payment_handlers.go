package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"codelab.org/internal/auth"
	"codelab.org/internal/enrollment"
	"codelab.org/internal/payment"
)

type paymentIntentRequest struct {
	Price decimal.NullDecimal `json:"price"`
}

// settlementRequest accepts the offering id as classOfferingId or as the
// document-style _id. Email, when sent, must match the token.
type settlementRequest struct {
	ClassOfferingID string              `json:"classOfferingId"`
	DocumentID      string              `json:"_id"`
	Email           string              `json:"email"`
	Amount          decimal.NullDecimal `json:"amount"`
}

func (a *API) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.payments == nil {
		writeError(w, r, http.StatusServiceUnavailable, "payments disabled")
		return
	}
	var req paymentIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Price.Valid {
		writeError(w, r, http.StatusBadRequest, "price is required")
		return
	}

	intent, err := a.payments.CreateChargeIntent(r.Context(), req.Price.Decimal)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req settlementRequest
	if err := decodeDocument(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offeringID := strings.TrimSpace(req.ClassOfferingID)
	if offeringID == "" {
		offeringID = strings.TrimSpace(req.DocumentID)
	}
	if offeringID == "" {
		writeError(w, r, http.StatusBadRequest, "classOfferingId is required")
		return
	}
	if !req.Amount.Valid {
		writeError(w, r, http.StatusBadRequest, "amount is required")
		return
	}
	if email := strings.TrimSpace(req.Email); email != "" && !strings.EqualFold(email, id.Email) {
		writeError(w, r, http.StatusForbidden, "email does not match token")
		return
	}

	res, err := a.enrollment.Settle(r.Context(), enrollment.SettlementRequest{
		StudentEmail:    id.Email,
		ClassOfferingID: offeringID,
		Amount:          req.Amount.Decimal,
	})
	if err != nil {
		if errors.Is(err, enrollment.ErrPaymentWriteFailed) {
			// The seat is gone; tell the client so it does not pay again.
			payload := map[string]any{
				"error":              "seat settled but payment record was not written",
				"seatUpdateResult":   res.SeatUpdate,
				"paymentWriteResult": res.PaymentWrite,
			}
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				payload["request_id"] = rid
			}
			writeJSON(w, http.StatusInternalServerError, payload)
			return
		}
		handleEnrollmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleEnrolledByStudent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email query parameter is required")
		return
	}
	recs, err := a.enrollment.EnrolledByStudent(r.Context(), email)
	if err != nil {
		handleEnrollmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func handleEnrollmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, enrollment.ErrInvalidInput), errors.Is(err, enrollment.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, enrollment.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, enrollment.ErrSeatsExhausted):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handlePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		writeError(w, r, http.StatusBadGateway, payment.ErrGatewayUnavailable.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
