package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/metinatakli/ride-checkout/internal/checkout"
	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

type openCheckoutRequest struct {
	RideID        string          `json:"rideId" validate:"required"`
	Price         decimal.Decimal `json:"price"`
	VehicleType   string          `json:"vehicleType" validate:"required,vehicle_class"`
	Park          string          `json:"park"`
	OccupiedSeats []int           `json:"occupiedSeats" validate:"dive,gt=0"`
}

type checkoutResponse struct {
	ID         string                  `json:"id"`
	Checkout   domain.CheckoutSnapshot `json:"checkout"`
	Notices    []domain.Notice         `json:"notices"`
	BookedRide *domain.Ride            `json:"bookedRide,omitempty"`
}

type toggleSeatResponse struct {
	checkoutResponse
	Changed bool `json:"changed"`
}

// OpenCheckout starts a checkout for the ride in the request body and binds it to the browser
// session. A checkout already bound to the session is closed first.
func (app *application) OpenCheckout(w http.ResponseWriter, r *http.Request) {
	var input openCheckoutRequest

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	if input.Price.IsNegative() {
		app.badRequestResponse(w, r, errors.New("price must not be negative"))
		return
	}

	previous := app.sessionManager.GetString(r.Context(), SessionKeyCheckout.String())
	if previous != "" {
		app.closeCheckout(previous)
	}

	vehicle, _ := domain.ParseVehicleClass(input.VehicleType)
	ride := domain.RideContext{
		RideID:        input.RideID,
		PricePerSeat:  input.Price,
		Vehicle:       vehicle,
		Park:          input.Park,
		KnownOccupied: input.OccupiedSeats,
	}

	entry := newCheckoutEntry()
	email := app.sessionManager.GetString(r.Context(), SessionKeyEmail.String())

	deps := checkout.Deps{
		Rides:     app.rideRepo,
		Feed:      app.feed,
		Widget:    app.widget,
		Committer: app.newCommitter(app.sessionToken(r)),
		Notifier:  app.checkoutNotifier(entry, ride.RideID, email),
		FollowUp:  app.followUp,
		Logger:    app.logger,
	}

	session, err := checkout.Open(r.Context(), deps, app.config.checkout, ride, app.bookingSucceeded(entry),
		checkout.WithPayerEmail(email))
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	entry.session = session
	app.checkouts.add(entry)
	app.sessionManager.Put(r.Context(), SessionKeyCheckout.String(), session.ID())

	app.writeCheckout(w, r, http.StatusCreated, entry)
}

func (app *application) GetCheckout(w http.ResponseWriter, r *http.Request) {
	app.writeCheckout(w, r, http.StatusOK, app.contextGetCheckout(r))
}

func (app *application) ToggleSeat(w http.ResponseWriter, r *http.Request) {
	seat, err := app.readSeatParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	entry := app.contextGetCheckout(r)

	changed, err := entry.session.ToggleSeat(seat)
	if err != nil {
		app.checkoutErrorResponse(w, r, err)
		return
	}

	resp := toggleSeatResponse{
		checkoutResponse: app.checkoutView(entry),
		Changed:          changed,
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// RequestPayment starts a payment attempt. Whether it got anywhere is reported through the
// snapshot and the returned notices.
func (app *application) RequestPayment(w http.ResponseWriter, r *http.Request) {
	entry := app.contextGetCheckout(r)

	err := entry.session.RequestPayment()
	if err != nil {
		app.checkoutErrorResponse(w, r, err)
		return
	}

	app.writeCheckout(w, r, http.StatusAccepted, entry)
}

func (app *application) ResetCheckout(w http.ResponseWriter, r *http.Request) {
	entry := app.contextGetCheckout(r)

	err := entry.session.CancelAndReset()
	if err != nil {
		app.checkoutErrorResponse(w, r, err)
		return
	}

	app.writeCheckout(w, r, http.StatusOK, entry)
}

func (app *application) CloseCheckout(w http.ResponseWriter, r *http.Request) {
	entry := app.contextGetCheckout(r)

	app.closeCheckout(entry.session.ID())
	app.sessionManager.Remove(r.Context(), SessionKeyCheckout.String())

	w.WriteHeader(http.StatusNoContent)
}

func (app *application) closeCheckout(id string) {
	entry, ok := app.checkouts.remove(id)
	if !ok {
		return
	}

	err := entry.session.Close()
	if err != nil {
		app.logger.Warn("failed to close checkout", "checkout_id", id, "error", err)
	}
}

func (app *application) checkoutView(entry *checkoutEntry) checkoutResponse {
	return checkoutResponse{
		ID:         entry.session.ID(),
		Checkout:   entry.session.Snapshot(),
		Notices:    entry.drainNotices(),
		BookedRide: entry.bookedRide(),
	}
}

func (app *application) writeCheckout(w http.ResponseWriter, r *http.Request, status int, entry *checkoutEntry) {
	err := app.writeJSON(w, status, app.checkoutView(entry), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) checkoutErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionClosed):
		app.editConflictResponseWithErr(w, r, errors.New(ErrCheckoutClosed))
	default:
		app.serverErrorResponse(w, r, err)
	}
}

// checkoutNotifier queues notices for the UI and mails the payer once a booking is confirmed.
func (app *application) checkoutNotifier(entry *checkoutEntry, rideID, email string) domain.Notifier {
	return domain.NotifierFunc(func(n domain.Notice) {
		entry.Notify(n)

		if n.Kind != domain.NoticeBookingConfirmed || email == "" {
			return
		}

		data := bookingEmailData{
			RideID:    rideID,
			Reference: n.Reference,
			Seats:     formatSeats(n.Seats),
		}

		app.background(func() {
			err := app.mailer.Send(email, "booking_confirmed.tmpl", data)
			if err != nil {
				app.logger.Error("failed to send booking confirmation", "reference", n.Reference, "error", err)
			}
		})
	})
}

// bookingSucceeded records the booked ride for the UI and fans the new occupancy out to the
// ride room.
func (app *application) bookingSucceeded(entry *checkoutEntry) checkout.SuccessFunc {
	return func(ride *domain.Ride) {
		entry.setBooked(ride)

		if app.publisher == nil || ride == nil {
			return
		}

		occupied := append([]int(nil), ride.OccupiedSeats...)
		app.background(func() {
			ctx, cancel := context.WithTimeout(context.Background(), app.config.checkout.FetchTimeout)
			defer cancel()

			err := app.publisher.PublishSeats(ctx, ride.ID, occupied)
			if err != nil {
				app.logger.Warn("failed to publish seat update", "ride_id", ride.ID, "error", err)
			}
		})
	}
}
