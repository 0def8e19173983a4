package app

import "net/http"

type sessionKey string

const (
	SessionKeyToken    = sessionKey("token")
	SessionKeyEmail    = sessionKey("email")
	SessionKeyCheckout = sessionKey("checkoutID")
)

func (s sessionKey) String() string {
	return string(s)
}

type contextKey string

const checkoutContextKey = contextKey("checkout")

type putSessionRequest struct {
	Token string `json:"token" validate:"required,bearer_token"`
	Email string `json:"email" validate:"omitempty,email"`
}

// PutSession binds the backend bearer token and payer e-mail of the signed-in user to the
// browser session.
func (app *application) PutSession(w http.ResponseWriter, r *http.Request) {
	var input putSessionRequest

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

	err = app.sessionManager.RenewToken(r.Context())
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.sessionManager.Put(r.Context(), SessionKeyToken.String(), input.Token)
	app.sessionManager.Put(r.Context(), SessionKeyEmail.String(), input.Email)

	w.WriteHeader(http.StatusNoContent)
}

func (app *application) contextGetCheckout(r *http.Request) *checkoutEntry {
	entry, ok := r.Context().Value(checkoutContextKey).(*checkoutEntry)
	if !ok {
		panic("missing checkout from context")
	}

	return entry
}

func (app *application) sessionToken(r *http.Request) string {
	return app.sessionManager.GetString(r.Context(), SessionKeyToken.String())
}
