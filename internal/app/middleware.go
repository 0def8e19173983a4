package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/metinatakli/ride-checkout/internal/domain"
)

func (app *application) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.sessionToken(r) == "" {
			app.unauthorizedAccessResponse(w, r, domain.ErrUnauthorized.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireCheckout loads the checkout bound to the browser session into the request context.
func (app *application) requireCheckout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := app.sessionManager.GetString(r.Context(), SessionKeyCheckout.String())
		if id == "" {
			app.notFoundResponseWithErr(w, r, errors.New(ErrNoCheckout))
			return
		}

		entry, ok := app.checkouts.get(id)
		if !ok {
			app.sessionManager.Remove(r.Context(), SessionKeyCheckout.String())
			app.notFoundResponseWithErr(w, r, errors.New(ErrNoCheckout))
			return
		}

		entry.touch()

		ctx := context.WithValue(r.Context(), checkoutContextKey, entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
