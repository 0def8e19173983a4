package app

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/metinatakli/ride-checkout/internal/domain"
)

// paymentGateway is the payment widget plus the two ways the provider reports back to us.
type paymentGateway interface {
	domain.PaymentWidget
	Cancel(reference string) error
	WebhookHandler(w http.ResponseWriter, r *http.Request)
}

type paymentCancelledResponse struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (app *application) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	app.widget.WebhookHandler(w, r)
}

// CancelPayment backs the provider's cancel URL: the payer left the hosted page without paying.
func (app *application) CancelPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	err := app.widget.Cancel(reference)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownReference):
			app.notFoundResponseWithErr(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	resp := paymentCancelledResponse{
		Reference: reference,
		Message:   "payment cancelled, you can return to the checkout",
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
