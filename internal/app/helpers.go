package app

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/metinatakli/ride-checkout/internal/jsonutil"
)

func (app *application) writeJSON(w http.ResponseWriter, status int, data any, headers http.Header) error {
	return jsonutil.WriteJSON(w, status, data, headers)
}

func (app *application) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return jsonutil.ReadJSON(w, r, dst)
}

func (app *application) readSeatParam(r *http.Request) (int, error) {
	seat, err := strconv.Atoi(chi.URLParam(r, "seatId"))
	if err != nil || seat < 1 {
		return 0, errors.New("seat ID must be a positive integer")
	}

	return seat, nil
}

// background runs fn on its own goroutine, tracked so shutdown can wait for it.
func (app *application) background(fn func()) {
	app.wg.Add(1)

	go func() {
		defer app.wg.Done()

		defer func() {
			if err := recover(); err != nil {
				app.logger.Error(fmt.Sprintf("%v", err))
			}
		}()

		fn()
	}()
}
