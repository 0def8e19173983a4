package app

import (
	"strconv"
	"strings"

	"github.com/metinatakli/ride-checkout/internal/domain"
)

type bookingEmailData struct {
	RideID    string
	Reference string
	Seats     string
	Reason    string
}

// followUp handles a payment that was taken without a confirmed booking. Support needs the
// reference either way; the payer is mailed when an address is known.
func (app *application) followUp(f domain.FollowUp) {
	app.logger.Error("payment requires follow-up",
		"ride_id", f.RideID,
		"reference", f.Reference,
		"seats", f.Seats,
		"result", f.Result.Kind,
		"reason", f.Result.Reason)

	if f.PayerEmail == "" {
		return
	}

	data := bookingEmailData{
		RideID:    f.RideID,
		Reference: f.Reference,
		Seats:     formatSeats(f.Seats),
		Reason:    followUpReason(f.Result),
	}

	app.background(func() {
		err := app.mailer.Send(f.PayerEmail, "booking_unconfirmed.tmpl", data)
		if err != nil {
			app.logger.Error("failed to send follow-up email", "reference", f.Reference, "error", err)
		}
	})
}

func followUpReason(result domain.CommitResult) string {
	if result.Ambiguous() {
		return "We did not get a definite answer from the booking service, so your seats may or may not be reserved."
	}

	if result.Reason != "" {
		return result.Reason
	}

	return "The booking service rejected the request."
}

func formatSeats(seats []int) string {
	parts := make([]string, len(seats))
	for i, seat := range seats {
		parts[i] = strconv.Itoa(seat)
	}

	return strings.Join(parts, ", ")
}
